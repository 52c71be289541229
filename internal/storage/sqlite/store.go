package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/pkg/log"
	"github.com/sandevgo/tuskmem/pkg/retry"
)

const (
	tableChunks   = "chunks"
	tableMemories = "memories"
)

var vectorTables = []string{tableChunks, tableMemories}

// Options configure Open. Zero Driver/DSN/Index select mattn SQLite with
// sqlite-vec.
type Options struct {
	Driver string
	DSN    string
	Index  VectorIndex

	// Dimensions is the vector width the caller will write; 0 means "use
	// whatever the store has recorded".
	Dimensions int
	// AllowDeferred lets a store without recorded dimensions open anyway
	// (session-only callers). The width is fixed by the first vector write.
	AllowDeferred bool
}

// Store is the SQLite-backed implementation of both the document store and
// the memory/session store. Row data, metadata and sessions live in SQL; the
// VectorIndex holds embeddings keyed by row id.
type Store struct {
	db      *sql.DB
	path    string
	index   VectorIndex
	retrier *retry.Retrier

	mu   sync.RWMutex
	dims int

	// swap is held for writing across a transaction and its index hooks,
	// and for reading across a query, so readers see whole writes only.
	swap sync.RWMutex
}

func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = DefaultDriver
		opts.DSN = MattnDSN(path)
	}
	if opts.Index == nil {
		opts.Index = NewVec0Index()
	}

	db, err := NewDB(ctx, opts.Driver, opts.DSN, path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:      db,
		path:    path,
		index:   opts.Index,
		retrier: retry.NewRetrier(busyRetryConfig()),
	}

	if err := s.resolve(ctx, opts.Dimensions, opts.AllowDeferred); err != nil {
		s.Close()
		return nil, err
	}

	log.FromCtx(ctx).Debug().
		Str("path", path).
		Int("dimensions", s.dims).
		Msg("store opened")
	return s, nil
}

func busyRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:    6,
		BackoffFactor: 2,
		InitialDelay:  25 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		Jitter:        15 * time.Millisecond,
		Retryable:     IsBusyError,
	}
}

// IsBusyError reports whether err is SQLite lock contention worth retrying.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "sqlite_locked")
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return errors.Join(s.index.Close(), s.db.Close())
}

// withTx runs fn in a transaction, retrying the whole unit on lock
// contention. fn must be safe to re-run.
func (s *Store) withTx(ctx context.Context, fn func(tx *Tx) error) error {
	s.swap.Lock()
	defer s.swap.Unlock()

	var hooks []func() error

	err := s.retrier.Do(ctx, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		tx := &Tx{Tx: sqlTx}

		if err := fn(tx); err != nil {
			tx.rollback()
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			tx.rollback()
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		hooks = tx.afterCommit
		return nil
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, h := range hooks {
		if err := h(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to sync vector index: %w", errors.Join(errs...))
	}
	return nil
}

// readTx runs fn against one read snapshot while no write is in flight.
func (s *Store) readTx(ctx context.Context, fn func(q Querier) error) error {
	s.swap.RLock()
	defer s.swap.RUnlock()

	return s.retrier.Do(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return fmt.Errorf("failed to begin read transaction: %w", err)
		}
		defer tx.Rollback()
		return fn(tx)
	})
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.retrier.Do(ctx, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read meta %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx,
		`INSERT INTO store_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write meta %q: %w", key, err)
	}
	return nil
}

// Wipe deletes every row, vector and meta key. Dimensions become unknown
// again and are fixed by the next vector write.
func (s *Store) Wipe(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *Tx) error {
		for _, t := range []string{"chunks", "source_metadata", "memories", "sessions", "store_meta"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("failed to wipe %s: %w", t, err)
			}
		}
		for _, t := range vectorTables {
			if err := s.index.Drop(ctx, tx, t); err != nil {
				return err
			}
		}
		tx.AfterCommit(func() error {
			s.mu.Lock()
			s.dims = 0
			s.mu.Unlock()
			return nil
		})
		return nil
	})
	if err != nil {
		return err
	}

	log.FromCtx(ctx).Warn().Str("path", s.path).Msg("store wiped")
	return nil
}

func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// EnsureDimensions fixes the store's vector width to d, or checks d against
// the recorded width.
func (s *Store) EnsureDimensions(ctx context.Context, d int) error {
	s.mu.RLock()
	cur := s.dims
	s.mu.RUnlock()
	if cur == d {
		return nil
	}
	if cur != 0 {
		return &core.DimensionMismatchError{Stored: cur, Requested: d}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(ctx, d, false)
}

func (s *Store) resolve(ctx context.Context, requested int, allowDeferred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(ctx, requested, allowDeferred)
}

func (s *Store) resolveLocked(ctx context.Context, requested int, allowDeferred bool) error {
	stored, err := s.storedDimensions(ctx)
	if err != nil {
		return err
	}

	dims, err := ResolveDimensions(stored, requested, allowDeferred)
	if err != nil {
		return err
	}
	if dims == 0 {
		s.dims = 0
		return nil
	}

	if stored == 0 {
		if err := s.SetMeta(ctx, core.MetaDimensions, strconv.Itoa(dims)); err != nil {
			return err
		}
	}
	for _, t := range vectorTables {
		if err := s.index.Prepare(ctx, s.db, t, dims); err != nil {
			return err
		}
	}
	s.dims = dims
	return nil
}

// storedDimensions reads the recorded width. A store that holds rows but
// predates dimension tracking is stamped with LegacyDimensions once.
func (s *Store) storedDimensions(ctx context.Context) (int, error) {
	raw, ok, err := s.GetMeta(ctx, core.MetaDimensions)
	if err != nil {
		return 0, err
	}
	if ok {
		d, err := strconv.Atoi(raw)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("corrupt dimensions meta %q", raw)
		}
		return d, nil
	}

	var legacy bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chunks) OR EXISTS(SELECT 1 FROM memories)`,
	).Scan(&legacy)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect store contents: %w", err)
	}
	if !legacy {
		return 0, nil
	}

	log.FromCtx(ctx).Warn().
		Str("path", s.path).
		Int("dimensions", LegacyDimensions).
		Msg("store has no recorded dimensions, assuming legacy width")
	if err := s.SetMeta(ctx, core.MetaDimensions, strconv.Itoa(LegacyDimensions)); err != nil {
		return 0, err
	}
	return LegacyDimensions, nil
}

// checkVectors validates a batch of vectors against the store width, fixing
// the width on the first write.
func (s *Store) checkVectors(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	d := len(vectors[0])
	if d == 0 {
		return errors.New("empty vector")
	}
	for _, v := range vectors[1:] {
		if len(v) != d {
			return &core.DimensionMismatchError{Stored: d, Requested: len(v)}
		}
	}
	return s.EnsureDimensions(ctx, d)
}

func idsJSON(ids []int64) string {
	b, _ := json.Marshal(ids)
	return string(b)
}

func stringsJSON(ss []string) string {
	b, _ := json.Marshal(ss)
	return string(b)
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
