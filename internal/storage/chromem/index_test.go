package chromem

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/storage/sqlite"
	"github.com/sandevgo/tuskmem/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyIndex writes through to the real index, then fails the insert.
type flakyIndex struct {
	*Index
	fail atomic.Bool
}

func (f *flakyIndex) Insert(ctx context.Context, tx *sqlite.Tx, table string, ids []int64, vectors [][]float32) error {
	if err := f.Index.Insert(ctx, tx, table, ids, vectors); err != nil {
		return err
	}
	if f.fail.Load() {
		return test.ErrInjected
	}
	return nil
}

func openFlaky(t *testing.T) (*sqlite.Store, *flakyIndex) {
	t.Helper()
	path := test.StorePath(t, "docs.db")
	idx, err := NewIndex(VectorDir(path))
	require.NoError(t, err)

	flaky := &flakyIndex{Index: idx}
	st, err := sqlite.Open(context.Background(), path, sqlite.Options{
		Driver:     driverName,
		DSN:        dsn(path),
		Index:      flaky,
		Dimensions: test.DefaultDims,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, flaky
}

func TestIndex_FailedInsertKeepsPreviousIngest(t *testing.T) {
	ctx := context.Background()
	st, flaky := openFlaky(t)

	one := core.Chunk{Text: "one", Ordinal: 0}
	require.NoError(t, st.ReplaceSource(ctx,
		core.SourceMetadata{SourceKey: "a.md", ContentHash: "h1"},
		[]core.Chunk{one}, [][]float32{test.HashVector("one", test.DefaultDims)},
	))

	flaky.fail.Store(true)
	err := st.ReplaceSource(ctx,
		core.SourceMetadata{SourceKey: "a.md", ContentHash: "h2"},
		[]core.Chunk{{Text: "two", Ordinal: 0}, {Text: "three", Ordinal: 1}},
		[][]float32{test.HashVector("two", test.DefaultDims), test.HashVector("three", test.DefaultDims)},
	)
	require.ErrorIs(t, err, test.ErrInjected)

	// The old hash stays so the next run re-ingests instead of skipping.
	meta, err := st.GetSourceMetadata(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "h1", meta.ContentHash)
	assert.Equal(t, 1, meta.ChunkCount)

	// Vectors of the rolled-back rows are gone, the committed one is intact.
	hits, err := flaky.Index.Search(ctx, nil, "chunks", test.HashVector("two", test.DefaultDims), 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	flaky.fail.Store(false)
	found, err := st.Query(ctx, test.HashVector("one", test.DefaultDims), 5, "a.md")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "one", found[0].Text)
}

func TestIndex_DeleteWaitsForCommit(t *testing.T) {
	ctx := context.Background()
	st, flaky := openFlaky(t)

	require.NoError(t, st.ReplaceSource(ctx,
		core.SourceMetadata{SourceKey: "a.md", ContentHash: "h1"},
		[]core.Chunk{{Text: "one"}}, [][]float32{test.HashVector("one", test.DefaultDims)},
	))

	// The replacement fails after the old vectors were scheduled for removal.
	flaky.fail.Store(true)
	err := st.ReplaceSource(ctx,
		core.SourceMetadata{SourceKey: "a.md", ContentHash: "h2"},
		[]core.Chunk{{Text: "uno"}}, [][]float32{test.HashVector("uno", test.DefaultDims)},
	)
	require.Error(t, err)

	found, err := st.Query(ctx, test.HashVector("one", test.DefaultDims), 5, "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "one", found[0].Text)
}
