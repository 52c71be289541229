package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	vecdriver "github.com/sandevgo/tuskmem/pkg/sqlite"
)

// vec0 refuses KNN queries with k above this.
const maxKNN = 4096

// Hit is one nearest-neighbour result: the row id in the owning table and
// its distance to the query (lower is closer).
type Hit struct {
	ID       int64
	Distance float32
}

// Querier is the read surface shared by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Tx is a store transaction. Indexes that live outside SQLite write new
// vectors eagerly and undo them with AfterRollback; removals wait for
// AfterCommit so a failed transaction never loses vectors of live rows.
type Tx struct {
	*sql.Tx
	afterCommit   []func() error
	afterRollback []func()
}

func (t *Tx) AfterCommit(fn func() error) {
	t.afterCommit = append(t.afterCommit, fn)
}

func (t *Tx) AfterRollback(fn func()) {
	t.afterRollback = append(t.afterRollback, fn)
}

func (t *Tx) rollback() {
	_ = t.Tx.Rollback()
	for i := len(t.afterRollback) - 1; i >= 0; i-- {
		t.afterRollback[i]()
	}
}

// VectorIndex stores one vector per row of a table ("chunks", "memories").
// candidates == nil searches everything; otherwise only the listed ids.
type VectorIndex interface {
	Prepare(ctx context.Context, db *sql.DB, table string, dims int) error
	Insert(ctx context.Context, tx *Tx, table string, ids []int64, vectors [][]float32) error
	Delete(ctx context.Context, tx *Tx, table string, ids []int64) error
	Drop(ctx context.Context, tx *Tx, table string) error
	Search(ctx context.Context, q Querier, table string, vector []float32, k int, candidates []int64) ([]Hit, error)
	Close() error
}

// Vec0Index keeps vectors in sqlite-vec virtual tables next to the rows, so
// vector writes share the row transaction.
type Vec0Index struct{}

func NewVec0Index() *Vec0Index {
	return &Vec0Index{}
}

func vecTable(table string) string {
	return table + "_vec"
}

func (v *Vec0Index) Prepare(ctx context.Context, db *sql.DB, table string, dims int) error {
	q := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])`, vecTable(table), dims)
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("failed to create vector table %s: %w", vecTable(table), err)
	}
	return nil
}

func (v *Vec0Index) Insert(ctx context.Context, tx *Tx, table string, ids []int64, vectors [][]float32) error {
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (rowid, embedding) VALUES (?, ?)`, vecTable(table)))
	if err != nil {
		return fmt.Errorf("failed to prepare vector insert: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		blob, err := vecdriver.SerializeVector(vectors[i])
		if err != nil {
			return fmt.Errorf("failed to serialize vector: %w", err)
		}
		// Use 'rowid' explicitly to tie the vector to the row id
		if _, err := stmt.ExecContext(ctx, id, blob); err != nil {
			return fmt.Errorf("failed to insert vector: %w", err)
		}
	}
	return nil
}

func (v *Vec0Index) Delete(ctx context.Context, tx *Tx, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, vecTable(table)))
	if err != nil {
		return fmt.Errorf("failed to prepare vector delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("failed to delete vector %d: %w", id, err)
		}
	}
	return nil
}

func (v *Vec0Index) Drop(ctx context.Context, tx *Tx, table string) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, vecTable(table))); err != nil {
		return fmt.Errorf("failed to drop vector table: %w", err)
	}
	return nil
}

func (v *Vec0Index) Search(ctx context.Context, db Querier, table string, vector []float32, k int, candidates []int64) ([]Hit, error) {
	blob, err := vecdriver.SerializeVector(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	var rows *sql.Rows
	if candidates == nil {
		if k > maxKNN {
			k = maxKNN
		}
		// vec0 KNN: distance is L2, lower is better.
		q := fmt.Sprintf(`
			SELECT rowid, distance
			FROM %s
			WHERE embedding MATCH ? AND k = ?
			ORDER BY distance`, vecTable(table))
		rows, err = db.QueryContext(ctx, q, blob, k)
	} else {
		// Exact scan over a pre-filtered id set.
		ids, jerr := json.Marshal(candidates)
		if jerr != nil {
			return nil, jerr
		}
		q := fmt.Sprintf(`
			SELECT rowid, vec_distance_L2(embedding, ?) AS distance
			FROM %s
			WHERE rowid IN (SELECT value FROM json_each(?))
			ORDER BY distance
			LIMIT ?`, vecTable(table))
		rows, err = db.QueryContext(ctx, q, blob, string(ids), k)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var dist float64
		if err := rows.Scan(&h.ID, &dist); err != nil {
			return nil, err
		}
		h.Distance = float32(dist)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (v *Vec0Index) Close() error {
	return nil
}
