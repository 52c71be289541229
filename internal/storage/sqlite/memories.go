package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sandevgo/tuskmem/internal/core"
)

const memoryColumns = `id, uid, content, category, memory_type, created_at, metadata, consolidated_at`

// AddMemory stores m with its embedding and returns it with ID and
// CreatedAt filled in.
func (s *Store) AddMemory(ctx context.Context, m core.Memory, vector []float32) (core.Memory, error) {
	if strings.TrimSpace(m.Content) == "" {
		return core.Memory{}, errors.New("memory content is empty")
	}
	if _, err := core.ParseMemoryType(string(m.Type)); err != nil {
		return core.Memory{}, err
	}
	if err := s.checkVectors(ctx, [][]float32{vector}); err != nil {
		return core.Memory{}, err
	}

	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	var metadata sql.NullString
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return core.Memory{}, fmt.Errorf("failed to marshal memory metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	err := s.withTx(ctx, func(tx *Tx) error {
		// 1. Insert row
		res, err := tx.ExecContext(ctx,
			`INSERT INTO memories (uid, content, category, memory_type, created_at, metadata)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.Content, m.Category, string(m.Type), nanos(m.CreatedAt), metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert memory: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		// 2. Insert vector under the same rowid
		return s.index.Insert(ctx, tx, tableMemories, []int64{id}, [][]float32{vector})
	})
	if err != nil {
		return core.Memory{}, err
	}
	return m, nil
}

func (s *Store) SearchMemories(ctx context.Context, vector []float32, k int, filter core.MemoryFilter) ([]core.MemoryHit, error) {
	if k <= 0 {
		return nil, nil
	}
	dims := s.Dimensions()
	if dims == 0 {
		return nil, nil
	}
	if len(vector) != dims {
		return nil, &core.DimensionMismatchError{Stored: dims, Requested: len(vector)}
	}

	var out []core.MemoryHit
	err := s.readTx(ctx, func(q Querier) error {
		var candidates []int64
		if !filter.IsZero() {
			where, args := memoryWhere(filter)
			rows, err := q.QueryContext(ctx, `SELECT id FROM memories`+where, args...)
			if err != nil {
				return fmt.Errorf("failed to filter memories: %w", err)
			}
			candidates, err = scanIDs(rows)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return nil
			}
		}

		hits, err := s.index.Search(ctx, q, tableMemories, vector, k, candidates)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			return nil
		}

		ids := make([]int64, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		rows, err := q.QueryContext(ctx,
			`SELECT `+memoryColumns+` FROM memories WHERE id IN (SELECT value FROM json_each(?))`,
			idsJSON(ids),
		)
		if err != nil {
			return fmt.Errorf("failed to load memories: %w", err)
		}
		loaded, err := scanMemories(rows)
		if err != nil {
			return err
		}

		out = make([]core.MemoryHit, 0, len(hits))
		for _, h := range hits {
			m, ok := loaded[h.ID]
			if !ok {
				continue
			}
			out = append(out, core.MemoryHit{Memory: m, Distance: h.Distance})
			if len(out) == k {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// ListMemories returns memories newest first. limit <= 0 means no limit.
func (s *Store) ListMemories(ctx context.Context, filter core.MemoryFilter, limit int) ([]core.Memory, error) {
	if limit <= 0 {
		limit = -1
	}
	where, args := memoryWhere(filter)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories`+where+` ORDER BY created_at DESC, id DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	return scanMemoryList(rows)
}

// CountMemories counts memories of type t, or all memories when t is empty.
func (s *Store) CountMemories(ctx context.Context, t core.MemoryType) (int, error) {
	where, args := memoryWhere(core.MemoryFilter{Type: t})
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return n, nil
}

// PruneMemories keeps the keep most recent memories of type t and deletes
// the rest, returning how many were removed.
func (s *Store) PruneMemories(ctx context.Context, t core.MemoryType, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("invalid keep count %d", keep)
	}

	var removed int
	err := s.withTx(ctx, func(tx *Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM memories WHERE memory_type = ?
			 ORDER BY created_at DESC, id DESC
			 LIMIT -1 OFFSET ?`,
			string(t), keep,
		)
		if err != nil {
			return fmt.Errorf("failed to select memories to prune: %w", err)
		}
		ids, err := scanIDs(rows)
		if err != nil {
			return err
		}
		removed = len(ids)
		if removed == 0 {
			return nil
		}

		if err := s.index.Delete(ctx, tx, tableMemories, ids); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM memories WHERE id IN (SELECT value FROM json_each(?))`, idsJSON(ids))
		if err != nil {
			return fmt.Errorf("failed to prune memories: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// MarkConsolidated stamps episodic memories as consolidated. Already
// consolidated ids keep their original timestamp.
func (s *Store) MarkConsolidated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.exec(ctx,
		`UPDATE memories SET consolidated_at = ?
		 WHERE uid IN (SELECT value FROM json_each(?)) AND consolidated_at IS NULL`,
		nanos(time.Now()), stringsJSON(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to mark memories consolidated: %w", err)
	}
	return nil
}

// UnconsolidatedEpisodes returns up to limit episodic memories awaiting
// consolidation, oldest first.
func (s *Store) UnconsolidatedEpisodes(ctx context.Context, limit int) ([]core.Memory, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE memory_type = ? AND consolidated_at IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		string(core.MemoryEpisodic), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unconsolidated episodes: %w", err)
	}
	return scanMemoryList(rows)
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *Tx) error {
		var rowID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE uid = ?`, id).Scan(&rowID)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to find memory %s: %w", id, err)
		}

		if err := s.index.Delete(ctx, tx, tableMemories, []int64{rowID}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, rowID); err != nil {
			return fmt.Errorf("failed to delete memory %s: %w", id, err)
		}
		return nil
	})
}

func memoryWhere(f core.MemoryFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Type != "" {
		conds = append(conds, "memory_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanMemory(r rowScanner) (int64, core.Memory, error) {
	var (
		id             int64
		m              core.Memory
		memType        string
		createdAt      int64
		metadata       sql.NullString
		consolidatedAt sql.NullInt64
	)
	if err := r.Scan(&id, &m.ID, &m.Content, &m.Category, &memType, &createdAt, &metadata, &consolidatedAt); err != nil {
		return 0, core.Memory{}, err
	}
	m.Type = core.MemoryType(memType)
	m.CreatedAt = fromNanos(createdAt)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return 0, core.Memory{}, fmt.Errorf("failed to unmarshal memory metadata: %w", err)
		}
	}
	if consolidatedAt.Valid {
		t := fromNanos(consolidatedAt.Int64)
		m.ConsolidatedAt = &t
	}
	return id, m, nil
}

func scanMemories(rows *sql.Rows) (map[int64]core.Memory, error) {
	defer rows.Close()
	out := make(map[int64]core.Memory)
	for rows.Next() {
		id, m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out[id] = m
	}
	return out, rows.Err()
}

func scanMemoryList(rows *sql.Rows) ([]core.Memory, error) {
	defer rows.Close()
	var out []core.Memory
	for rows.Next() {
		_, m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
