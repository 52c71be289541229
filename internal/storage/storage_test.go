package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var backends = []Backend{BackendSQLiteVec, BackendChromem}

func forEachBackend(t *testing.T, fn func(t *testing.T, m *Manager, b Backend)) {
	for _, b := range backends {
		t.Run(string(b), func(t *testing.T) {
			fn(t, NewManager(), b)
		})
	}
}

func openStore(t *testing.T, m *Manager, b Backend, path string, dims int) *Handle {
	t.Helper()
	h, err := m.Acquire(context.Background(), Options{Path: path, Backend: b, Dimensions: dims})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func chunksOf(source string, texts ...string) ([]core.Chunk, [][]float32) {
	chunks := make([]core.Chunk, len(texts))
	vecs := make([][]float32, len(texts))
	for i, txt := range texts {
		chunks[i] = core.Chunk{Text: txt, Source: source, Ordinal: i}
		vecs[i] = test.HashVector(txt, test.DefaultDims)
	}
	return chunks, vecs
}

func TestDimensions_MismatchOnReopen(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		path := test.StorePath(t, "docs.db")

		h, err := m.Acquire(ctx, Options{Path: path, Backend: b, Dimensions: 384})
		require.NoError(t, err)
		require.NoError(t, h.Close())

		_, err = m.Acquire(ctx, Options{Path: path, Backend: b, Dimensions: 768})
		var mismatch *core.DimensionMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 384, mismatch.Stored)
		assert.Equal(t, 768, mismatch.Requested)
		assert.Contains(t, err.Error(), "384")
		assert.Contains(t, err.Error(), "768")
	})
}

func TestDimensions_StoredWinsWhenNoneRequested(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		path := test.StorePath(t, "docs.db")

		h, err := m.Acquire(ctx, Options{Path: path, Backend: b, Dimensions: 32})
		require.NoError(t, err)
		require.NoError(t, h.Close())

		h, err = m.Acquire(ctx, Options{Path: path, Backend: b})
		require.NoError(t, err)
		defer h.Close()
		assert.Equal(t, 32, h.Dimensions())
	})
}

func TestDimensions_UnknownFailsUnlessDeferred(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		path := test.StorePath(t, "memory.db")

		_, err := m.Acquire(ctx, Options{Path: path, Backend: b})
		require.ErrorIs(t, err, core.ErrDimensionsUnknown)

		h, err := m.Acquire(ctx, Options{Path: path, Backend: b, AllowDeferred: true})
		require.NoError(t, err)
		defer h.Close()
		assert.Equal(t, 0, h.Dimensions())

		// Sessions need no vectors
		require.NoError(t, h.SaveSession(ctx, core.SessionRecord{
			SessionID: "s1", Owner: "alice",
			Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
		}))

		// First vector write fixes the width
		_, err = h.AddMemory(ctx, core.Memory{Content: "likes tea", Type: core.MemorySemantic},
			test.HashVector("likes tea", 8))
		require.NoError(t, err)
		assert.Equal(t, 8, h.Dimensions())

		_, err = h.AddMemory(ctx, core.Memory{Content: "likes coffee", Type: core.MemorySemantic},
			test.HashVector("likes coffee", 12))
		var mismatch *core.DimensionMismatchError
		require.ErrorAs(t, err, &mismatch)
	})
}

func TestDocuments_ReplaceSourceIsAtomicSwap(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		h := openStore(t, m, b, test.StorePath(t, "docs.db"), test.DefaultDims)

		chunks, vecs := chunksOf("a.md", "alpha one", "alpha two", "alpha three")
		require.NoError(t, h.ReplaceSource(ctx, core.SourceMetadata{SourceKey: "a.md", ContentHash: "h1"}, chunks, vecs))

		chunks, vecs = chunksOf("b.md", "beta one")
		require.NoError(t, h.ReplaceSource(ctx, core.SourceMetadata{SourceKey: "b.md", ContentHash: "h2"}, chunks, vecs))

		chunks, vecs = chunksOf("a.md", "alpha new one", "alpha new two")
		require.NoError(t, h.ReplaceSource(ctx, core.SourceMetadata{SourceKey: "a.md", ContentHash: "h3"}, chunks, vecs))

		hits, err := h.Query(ctx, test.HashVector("alpha new one", test.DefaultDims), 10, "a.md")
		require.NoError(t, err)
		require.Len(t, hits, 2)
		for _, hit := range hits {
			assert.Equal(t, "a.md", hit.Source)
			assert.Contains(t, hit.Text, "alpha new")
		}

		meta, err := h.GetSourceMetadata(ctx, "a.md")
		require.NoError(t, err)
		assert.Equal(t, "h3", meta.ContentHash)
		assert.Equal(t, 2, meta.ChunkCount)

		sources, err := h.ListSources(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.md", "b.md"}, sources)
	})
}

func TestDocuments_QueryDuringReplaceSeesWholeSource(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		h := openStore(t, m, b, test.StorePath(t, "docs.db"), test.DefaultDims)

		chunks, vecs := chunksOf("a.md", "alpha one", "alpha two")
		require.NoError(t, h.ReplaceSource(ctx, core.SourceMetadata{SourceKey: "a.md", ContentHash: "h0"}, chunks, vecs))

		const rounds = 25
		done := make(chan struct{})
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			defer close(done)
			for i := 1; i <= rounds; i++ {
				chunks, vecs := chunksOf("a.md", "alpha one", "alpha two")
				meta := core.SourceMetadata{SourceKey: "a.md", ContentHash: fmt.Sprintf("h%d", i)}
				if err := h.ReplaceSource(gctx, meta, chunks, vecs); err != nil {
					return err
				}
			}
			return nil
		})

		for range 2 {
			g.Go(func() error {
				q := test.HashVector("alpha one", test.DefaultDims)
				for {
					select {
					case <-done:
						return nil
					default:
					}
					hits, err := h.Query(gctx, q, 10, "")
					if err != nil {
						return err
					}
					if len(hits) != 2 {
						return fmt.Errorf("query saw %d chunks of a.md, want 2", len(hits))
					}
				}
			})
		}

		require.NoError(t, g.Wait())

		meta, err := h.GetSourceMetadata(ctx, "a.md")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("h%d", rounds), meta.ContentHash)
	})
}

func TestMemories_SearchDuringPruneSeesWholeSet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		h := openStore(t, m, b, test.StorePath(t, "memory.db"), test.DefaultDims)

		keeper, err := h.AddMemory(ctx, core.Memory{Content: "keeper", Type: core.MemorySemantic},
			test.HashVector("keeper", test.DefaultDims))
		require.NoError(t, err)

		const rounds = 25
		done := make(chan struct{})
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			defer close(done)
			for i := range rounds {
				content := fmt.Sprintf("episode %d", i)
				if _, err := h.AddMemory(gctx, core.Memory{Content: content, Type: core.MemoryEpisodic},
					test.HashVector(content, test.DefaultDims)); err != nil {
					return err
				}
				if _, err := h.PruneMemories(gctx, core.MemoryEpisodic, 0); err != nil {
					return err
				}
			}
			return nil
		})

		g.Go(func() error {
			q := test.HashVector("keeper", test.DefaultDims)
			filter := core.MemoryFilter{Type: core.MemorySemantic}
			for {
				select {
				case <-done:
					return nil
				default:
				}
				hits, err := h.SearchMemories(gctx, q, 5, filter)
				if err != nil {
					return err
				}
				if len(hits) != 1 || hits[0].ID != keeper.ID {
					return fmt.Errorf("search returned %d memories, want only the keeper", len(hits))
				}
			}
		})

		require.NoError(t, g.Wait())

		n, err := h.CountMemories(ctx, core.MemoryEpisodic)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestDocuments_QueryExactVectorIsNearest(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		h := openStore(t, m, b, test.StorePath(t, "docs.db"), test.DefaultDims)

		chunks, vecs := chunksOf("notes.txt", "the cat sat", "dogs bark loudly", "rain in spain")
		require.NoError(t, h.AddChunks(ctx, chunks, vecs))

		hits, err := h.Query(ctx, test.HashVector("dogs bark loudly", test.DefaultDims), 2, "")
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "dogs bark loudly", hits[0].Text)
		assert.Equal(t, 1, hits[0].Ordinal)
		assert.InDelta(t, 0, hits[0].Distance, 1e-4)
		assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)
	})
}

func TestDocuments_WildcardFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		h := openStore(t, m, b, test.StorePath(t, "docs.db"), test.DefaultDims)

		for _, src := range []string{"docs/a.md", "docs/b.md", "https://example.com/x"} {
			chunks, vecs := chunksOf(src, "content of "+src)
			require.NoError(t, h.ReplaceSource(ctx, core.SourceMetadata{SourceKey: src, ContentHash: src}, chunks, vecs))
		}

		hits, err := h.Query(ctx, test.HashVector("anything", test.DefaultDims), 10, "docs/*")
		require.NoError(t, err)
		assert.Len(t, hits, 2)

		hits, err = h.Query(ctx, test.HashVector("anything", test.DefaultDims), 10, "nothing/*")
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestDocuments_DeleteSource(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		h := openStore(t, m, b, test.StorePath(t, "docs.db"), test.DefaultDims)

		chunks, vecs := chunksOf("gone.md", "bye")
		require.NoError(t, h.ReplaceSource(ctx, core.SourceMetadata{SourceKey: "gone.md", ContentHash: "x"}, chunks, vecs))
		require.NoError(t, h.DeleteSource(ctx, "gone.md"))

		_, err := h.GetSourceMetadata(ctx, "gone.md")
		assert.ErrorIs(t, err, core.ErrNotFound)

		hits, err := h.Query(ctx, test.HashVector("bye", test.DefaultDims), 5, "")
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestStore_WipeResetsDimensions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		h := openStore(t, m, b, test.StorePath(t, "docs.db"), test.DefaultDims)

		chunks, vecs := chunksOf("a.md", "one")
		require.NoError(t, h.AddChunks(ctx, chunks, vecs))
		require.NoError(t, h.SetMeta(ctx, core.MetaEmbeddingIdentity, "hash:test"))

		require.NoError(t, h.Wipe(ctx))
		assert.Equal(t, 0, h.Dimensions())
		_, ok, err := h.GetMeta(ctx, core.MetaEmbeddingIdentity)
		require.NoError(t, err)
		assert.False(t, ok)

		// A different width is accepted after a wipe
		wide := [][]float32{test.HashVector("one", 24)}
		require.NoError(t, h.AddChunks(ctx, []core.Chunk{{Text: "one", Source: "a.md"}}, wide))
		assert.Equal(t, 24, h.Dimensions())
	})
}

func TestMemories_PruneKeepsMostRecent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		h := openStore(t, m, b, test.StorePath(t, "memory.db"), test.DefaultDims)

		const keep = 4
		base := time.Now().Add(-time.Hour)
		for i := 0; i < keep+5; i++ {
			content := fmt.Sprintf("episode %d", i)
			_, err := h.AddMemory(ctx, core.Memory{
				Content:   content,
				Type:      core.MemoryEpisodic,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}, test.HashVector(content, test.DefaultDims))
			require.NoError(t, err)
		}
		_, err := h.AddMemory(ctx, core.Memory{Content: "fact", Type: core.MemorySemantic},
			test.HashVector("fact", test.DefaultDims))
		require.NoError(t, err)

		removed, err := h.PruneMemories(ctx, core.MemoryEpisodic, keep)
		require.NoError(t, err)
		assert.Equal(t, 5, removed)

		n, err := h.CountMemories(ctx, core.MemoryEpisodic)
		require.NoError(t, err)
		assert.Equal(t, keep, n)

		// Other types are untouched
		n, err = h.CountMemories(ctx, core.MemorySemantic)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		left, err := h.ListMemories(ctx, core.MemoryFilter{Type: core.MemoryEpisodic}, 0)
		require.NoError(t, err)
		require.Len(t, left, keep)
		assert.Equal(t, "episode 8", left[0].Content)
		assert.Equal(t, "episode 5", left[keep-1].Content)

		// Pruned rows are gone from the index too
		hits, err := h.SearchMemories(ctx, test.HashVector("episode 0", test.DefaultDims), 20, core.MemoryFilter{})
		require.NoError(t, err)
		for _, hit := range hits {
			assert.NotEqual(t, "episode 0", hit.Content)
		}
	})
}

func TestMemories_SearchFilterAndConsolidation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		h := openStore(t, m, b, test.StorePath(t, "memory.db"), test.DefaultDims)

		ep, err := h.AddMemory(ctx, core.Memory{Content: "asked about go", Type: core.MemoryEpisodic},
			test.HashVector("asked about go", test.DefaultDims))
		require.NoError(t, err)
		require.NotEmpty(t, ep.ID)

		_, err = h.AddMemory(ctx, core.Memory{
			Content: "prefers go", Category: "preference", Type: core.MemorySemantic,
			Metadata: map[string]any{"source": "consolidation"},
		}, test.HashVector("prefers go", test.DefaultDims))
		require.NoError(t, err)

		hits, err := h.SearchMemories(ctx, test.HashVector("asked about go", test.DefaultDims), 5,
			core.MemoryFilter{Type: core.MemorySemantic})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "prefers go", hits[0].Content)
		assert.Equal(t, "consolidation", hits[0].Metadata["source"])

		pending, err := h.UnconsolidatedEpisodes(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		require.NoError(t, h.MarkConsolidated(ctx, []string{ep.ID}))
		pending, err = h.UnconsolidatedEpisodes(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)

		require.NoError(t, h.DeleteMemory(ctx, ep.ID))
		assert.ErrorIs(t, h.DeleteMemory(ctx, ep.ID), core.ErrNotFound)
	})
}

func TestSessions_SaveOverwritesAndPrune(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, b Backend) {
		ctx := context.Background()
		h, err := m.Acquire(ctx, Options{Path: test.StorePath(t, "memory.db"), Backend: b, AllowDeferred: true})
		require.NoError(t, err)
		defer h.Close()

		base := time.Now().Add(-time.Hour)
		for i := 0; i < 5; i++ {
			require.NoError(t, h.SaveSession(ctx, core.SessionRecord{
				SessionID: fmt.Sprintf("s%d", i),
				Owner:     "alice",
				Messages:  []core.Message{{Role: core.RoleUser, Content: "hello"}},
				UpdatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, h.SaveSession(ctx, core.SessionRecord{
			SessionID: "s0", Owner: "bob",
			Messages: []core.Message{{Role: core.RoleUser, Content: "other owner"}},
		}))

		// Overwrite s1, making it the latest
		require.NoError(t, h.SaveSession(ctx, core.SessionRecord{
			SessionID: "s1",
			Owner:     "alice",
			Messages: []core.Message{
				{Role: core.RoleUser, Content: "q"},
				{Role: core.RoleAssistant, Content: "a"},
			},
		}))

		latest, err := h.LoadLatestSession(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "s1", latest.SessionID)
		assert.Len(t, latest.Messages, 2)

		removed, err := h.PruneSessions(ctx, "alice", 2)
		require.NoError(t, err)
		assert.Equal(t, 3, removed)

		list, err := h.ListSessions(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "s1", list[0].SessionID)
		assert.Equal(t, 2, list[0].MessageCount)
		assert.Equal(t, "s4", list[1].SessionID)

		_, err = h.LoadSession(ctx, "bob", "s0")
		require.NoError(t, err)

		require.NoError(t, h.DeleteSession(ctx, "alice", "s4"))
		_, err = h.LoadSession(ctx, "alice", "s4")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestManager_SharesOneInstancePerPath(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	path := test.StorePath(t, "docs.db")

	a, err := m.Acquire(ctx, Options{Path: path, Dimensions: test.DefaultDims})
	require.NoError(t, err)
	b, err := m.Acquire(ctx, Options{Path: path})
	require.NoError(t, err)

	assert.Same(t, a.Store, b.Store)
	assert.Equal(t, 2, m.Refs(path))

	// Requested width is checked against the shared instance
	_, err = m.Acquire(ctx, Options{Path: path, Dimensions: test.DefaultDims + 1})
	var mismatch *core.DimensionMismatchError
	assert.True(t, errors.As(err, &mismatch))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, m.Refs(path))
	require.NoError(t, b.Close())
	assert.Equal(t, 0, m.Refs(path))
}

func TestStore_FilesAreOwnerOnly(t *testing.T) {
	m := NewManager()
	path := test.StorePath(t, "docs.db")
	h := openStore(t, m, BackendSQLiteVec, path, test.DefaultDims)
	_ = h

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dir, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dir.Mode().Perm())
}
