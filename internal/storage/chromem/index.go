// Package chromem is the pure-Go store backend: rows live in SQLite via
// modernc.org/sqlite and vectors in persistent chromem-go collections.
package chromem

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/sandevgo/tuskmem/internal/storage/sqlite"
)

// Index implements sqlite.VectorIndex on chromem-go. New vectors are written
// inside the row transaction and removed again if it rolls back; deletions
// wait for the commit.
type Index struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

var _ sqlite.VectorIndex = (*Index)(nil)

func NewIndex(dir string) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem db: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to restrict chromem dir: %w", err)
	}
	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// Embeddings are always computed by the caller.
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("chromem index expects precomputed embeddings")
}

func (x *Index) collection(table string) *chromem.Collection {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.collections[table]
}

func (x *Index) Prepare(_ context.Context, _ *sql.DB, table string, _ int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.collections[table]; ok {
		return nil
	}
	col, err := x.db.GetOrCreateCollection(table, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", table, err)
	}
	x.collections[table] = col
	return nil
}

func (x *Index) Insert(ctx context.Context, tx *sqlite.Tx, table string, ids []int64, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		docs[i] = chromem.Document{
			ID:        docID(id),
			Embedding: vectors[i],
		}
	}

	col := x.collection(table)
	if col == nil {
		return fmt.Errorf("collection %s not prepared", table)
	}
	docIDs := make([]string, len(docs))
	for i, d := range docs {
		docIDs[i] = d.ID
	}
	// Registered first so a partial AddDocuments is undone too.
	tx.AfterRollback(func() {
		_ = col.Delete(context.WithoutCancel(ctx), nil, nil, docIDs...)
	})
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add vectors to %s: %w", table, err)
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, tx *sqlite.Tx, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	docIDs := make([]string, len(ids))
	for i, id := range ids {
		docIDs[i] = docID(id)
	}

	tx.AfterCommit(func() error {
		col := x.collection(table)
		if col == nil {
			return nil
		}
		return col.Delete(ctx, nil, nil, docIDs...)
	})
	return nil
}

func (x *Index) Drop(_ context.Context, tx *sqlite.Tx, table string) error {
	tx.AfterCommit(func() error {
		x.mu.Lock()
		defer x.mu.Unlock()

		delete(x.collections, table)
		return x.db.DeleteCollection(table)
	})
	return nil
}

// Search ranks by cosine distance (1 - similarity). With candidates it
// scans the whole collection and keeps the allowed ids.
func (x *Index) Search(ctx context.Context, _ sqlite.Querier, table string, vector []float32, k int, candidates []int64) ([]sqlite.Hit, error) {
	col := x.collection(table)
	if col == nil {
		return nil, nil
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}

	var allowed map[string]struct{}
	nResults := 2 * k
	if candidates != nil {
		allowed = make(map[string]struct{}, len(candidates))
		for _, id := range candidates {
			allowed[docID(id)] = struct{}{}
		}
		nResults = n
	}
	// chromem-go requires nResults <= collection size
	if nResults > n {
		nResults = n
	}

	results, err := col.QueryEmbedding(ctx, vector, nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]sqlite.Hit, 0, len(results))
	for _, r := range results {
		if allowed != nil {
			if _, ok := allowed[r.ID]; !ok {
				continue
			}
		}
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, sqlite.Hit{ID: id, Distance: 1 - r.Similarity})
	}
	return hits, nil
}

// Close is a no-op: the persistent DB writes through on every mutation.
func (x *Index) Close() error {
	return nil
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}
