// Package retrieval answers similarity queries against the document store.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/storage"
	"github.com/sandevgo/tuskmem/pkg/log"
)

const DefaultLimit = 5

type Encoder interface {
	EncodeQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher opens the store per call, so it always sees the width and
// embedding model recorded by the latest ingestion.
type Searcher struct {
	path     string
	backend  storage.Backend
	embedder Encoder
}

func NewSearcher(path string, backend storage.Backend, embedder Encoder) *Searcher {
	return &Searcher{
		path:     path,
		backend:  backend,
		embedder: embedder,
	}
}

// Search returns the chunks nearest to query. filter narrows by source key:
// an exact key, or a glob when it contains wildcards.
func (s *Searcher) Search(ctx context.Context, query string, k int, filter string) ([]core.ChunkHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if s.embedder == nil {
		return nil, core.ErrEmbeddingConfig
	}
	if k <= 0 {
		k = DefaultLimit
	}

	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		log.FromCtx(ctx).Debug().Str("path", s.path).Msg("document store does not exist yet")
		return nil, nil
	}

	st, err := storage.OpenDocumentStore(ctx, storage.Options{
		Path:          s.path,
		Backend:       s.backend,
		AllowDeferred: true,
	})
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if err := s.checkIdentity(ctx, st); err != nil {
		return nil, err
	}

	vec, err := s.embedder.EncodeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return st.Query(ctx, vec, k, filter)
}

// Sources lists every tracked source with its ingestion metadata.
func (s *Searcher) Sources(ctx context.Context) ([]core.SourceMetadata, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	st, err := storage.OpenDocumentStore(ctx, storage.Options{
		Path:          s.path,
		Backend:       s.backend,
		AllowDeferred: true,
	})
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.ListSourceMetadata(ctx)
}

// checkIdentity refuses to compare vectors from different models.
func (s *Searcher) checkIdentity(ctx context.Context, st storage.DocumentStore) error {
	id, ok := s.embedder.(core.EmbeddingIdentity)
	if !ok || id.Identity() == "" {
		return nil
	}
	stored, found, err := st.GetMeta(ctx, core.MetaEmbeddingIdentity)
	if err != nil {
		return fmt.Errorf("read embedding identity: %w", err)
	}
	if found && stored != id.Identity() {
		return &core.EmbeddingModelChangedError{Before: stored, After: id.Identity()}
	}
	return nil
}
