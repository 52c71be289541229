package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandevgo/tuskmem/internal/core"
)

// AddChunks appends chunks without touching existing rows of their sources.
func (s *Store) AddChunks(ctx context.Context, chunks []core.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := s.checkVectors(ctx, vectors); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *Tx) error {
		return s.insertChunks(ctx, tx, chunks, vectors)
	})
}

// ReplaceSource swaps the chunk set of meta.SourceKey and upserts its
// metadata in one transaction.
func (s *Store) ReplaceSource(ctx context.Context, meta core.SourceMetadata, chunks []core.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if err := s.checkVectors(ctx, vectors); err != nil {
		return err
	}

	owned := make([]core.Chunk, len(chunks))
	for i, c := range chunks {
		c.Source = meta.SourceKey
		owned[i] = c
	}
	meta.ChunkCount = len(owned)
	if meta.IngestedAt.IsZero() {
		meta.IngestedAt = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *Tx) error {
		// 1. Drop the previous chunk set
		if err := s.deleteSourceChunks(ctx, tx, meta.SourceKey); err != nil {
			return err
		}

		// 2. Insert the new one
		if err := s.insertChunks(ctx, tx, owned, vectors); err != nil {
			return err
		}

		// 3. Record what was ingested
		return upsertSourceMetadata(ctx, tx, meta)
	})
}

func (s *Store) insertChunks(ctx context.Context, tx *Tx, chunks []core.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (source, ordinal, text, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := nanos(time.Now())
	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		res, err := stmt.ExecContext(ctx, c.Source, c.Ordinal, c.Text, now)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	return s.index.Insert(ctx, tx, tableChunks, ids, vectors)
}

func (s *Store) deleteSourceChunks(ctx context.Context, tx *Tx, source string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE source = ?`, source)
	if err != nil {
		return fmt.Errorf("failed to list chunks of %s: %w", source, err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if s.Dimensions() > 0 {
		if err := s.index.Delete(ctx, tx, tableChunks, ids); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", source, err)
	}
	return nil
}

// Query returns the k chunks nearest to vector. filter is either an exact
// source key or a glob pattern (*, ?, [...]); empty matches all sources.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter string) ([]core.ChunkHit, error) {
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

	var out []core.ChunkHit
	err := s.readTx(ctx, func(q Querier) error {
		var candidates []int64
		if filter != "" {
			op := "="
			if IsWildcard(filter) {
				op = "GLOB"
			}
			rows, err := q.QueryContext(ctx, `SELECT id FROM chunks WHERE source `+op+` ?`, filter)
			if err != nil {
				return fmt.Errorf("failed to filter chunks: %w", err)
			}
			candidates, err = scanIDs(rows)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return nil
			}
		}

		hits, err := s.index.Search(ctx, q, tableChunks, vector, k, candidates)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			return nil
		}

		byID, err := loadChunks(ctx, q, hits)
		if err != nil {
			return err
		}

		// Hits without a row are index entries whose removal failed to sync.
		out = make([]core.ChunkHit, 0, len(hits))
		for _, h := range hits {
			c, ok := byID[h.ID]
			if !ok {
				continue
			}
			out = append(out, core.ChunkHit{Chunk: c, Distance: h.Distance})
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

func loadChunks(ctx context.Context, q Querier, hits []Hit) (map[int64]core.Chunk, error) {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, source, ordinal, text FROM chunks WHERE id IN (SELECT value FROM json_each(?))`,
		idsJSON(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]core.Chunk, len(hits))
	for rows.Next() {
		var id int64
		var c core.Chunk
		if err := rows.Scan(&id, &c.Source, &c.Ordinal, &c.Text); err != nil {
			return nil, err
		}
		byID[id] = c
	}
	return byID, rows.Err()
}

// IsWildcard reports whether a source filter is a glob pattern.
func IsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "*?[")
}

func (s *Store) ListSources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM chunks ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *Store) GetSourceMetadata(ctx context.Context, key string) (core.SourceMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_key, content_hash, last_modified, ingested_at, chunk_count
		 FROM source_metadata WHERE source_key = ?`, key)
	meta, err := scanSourceMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SourceMetadata{}, core.ErrNotFound
	}
	return meta, err
}

func (s *Store) ListSourceMetadata(ctx context.Context) ([]core.SourceMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_key, content_hash, last_modified, ingested_at, chunk_count
		 FROM source_metadata ORDER BY source_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list source metadata: %w", err)
	}
	defer rows.Close()

	var out []core.SourceMetadata
	for rows.Next() {
		meta, err := scanSourceMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSourceMetadata(ctx context.Context, meta core.SourceMetadata) error {
	if meta.IngestedAt.IsZero() {
		meta.IngestedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *Tx) error {
		return upsertSourceMetadata(ctx, tx, meta)
	})
}

// DeleteSource removes a source's chunks, vectors and metadata.
func (s *Store) DeleteSource(ctx context.Context, key string) error {
	return s.withTx(ctx, func(tx *Tx) error {
		if err := s.deleteSourceChunks(ctx, tx, key); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM source_metadata WHERE source_key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete metadata of %s: %w", key, err)
		}
		return nil
	})
}

func upsertSourceMetadata(ctx context.Context, tx *Tx, meta core.SourceMetadata) error {
	var lastModified sql.NullInt64
	if meta.LastModified != nil {
		lastModified = sql.NullInt64{Int64: nanos(*meta.LastModified), Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO source_metadata (source_key, content_hash, last_modified, ingested_at, chunk_count)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_key) DO UPDATE SET
			content_hash = excluded.content_hash,
			last_modified = excluded.last_modified,
			ingested_at = excluded.ingested_at,
			chunk_count = excluded.chunk_count`,
		meta.SourceKey, meta.ContentHash, lastModified, nanos(meta.IngestedAt), meta.ChunkCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metadata of %s: %w", meta.SourceKey, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSourceMetadata(r rowScanner) (core.SourceMetadata, error) {
	var meta core.SourceMetadata
	var lastModified sql.NullInt64
	var ingestedAt int64
	if err := r.Scan(&meta.SourceKey, &meta.ContentHash, &lastModified, &ingestedAt, &meta.ChunkCount); err != nil {
		return core.SourceMetadata{}, err
	}
	if lastModified.Valid {
		t := fromNanos(lastModified.Int64)
		meta.LastModified = &t
	}
	meta.IngestedAt = fromNanos(ingestedAt)
	return meta, nil
}
