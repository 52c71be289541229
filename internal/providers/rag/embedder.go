package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/pkg/log"
)

type EmbedderOptions struct {
	// BatchSize caps texts per provider call.
	BatchSize int
	// Timeout applies to each provider call.
	Timeout time.Duration
	// QueryPrefix and PassagePrefix are prepended for asymmetric models
	// (e5: "query: " / "passage: ").
	QueryPrefix   string
	PassagePrefix string
	// CacheSize is the number of query embeddings kept; 0 disables caching.
	CacheSize int64
}

func DefaultEmbedderOptions() EmbedderOptions {
	return EmbedderOptions{
		BatchSize: 32,
		Timeout:   60 * time.Second,
		CacheSize: 1024,
	}
}

// Embedder wraps a provider with fixed-size batching, per-call timeouts and
// a query cache. Batches either complete or fail as a whole.
type Embedder struct {
	provider core.Embedder
	opts     EmbedderOptions
	cache    *ristretto.Cache
}

var _ core.Embedder = (*Embedder)(nil)

func NewEmbedder(provider core.Embedder, opts EmbedderOptions) (*Embedder, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEmbedderOptions().BatchSize
	}

	e := &Embedder{provider: provider, opts: opts}
	if opts.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters:        opts.CacheSize * 10,
			MaxCost:            opts.CacheSize,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

func (e *Embedder) BatchSize() int {
	return e.opts.BatchSize
}

// Identity forwards the provider identity when it has one.
func (e *Embedder) Identity() string {
	if id, ok := e.provider.(core.EmbeddingIdentity); ok {
		return id.Identity()
	}
	return ""
}

// Embed splits texts into BatchSize calls and checks that every vector
// has the same width.
func (e *Embedder) Embed(ctx context.Context, texts []string, inputType core.InputType) ([][]float32, error) {
	prefix := e.opts.PassagePrefix
	if inputType == core.InputQuery {
		prefix = e.opts.QueryPrefix
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(texts))

		batch := texts[start:end]
		if prefix != "" {
			batch = make([]string, end-start)
			for i, t := range texts[start:end] {
				batch[i] = prefix + t
			}
		}

		vectors, err := e.call(ctx, batch, inputType)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}

	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("provider returned empty vector for text %d", i)
		}
		if len(v) != len(out[0]) {
			return nil, fmt.Errorf("provider returned mixed widths: %d and %d", len(out[0]), len(v))
		}
	}
	return out, nil
}

func (e *Embedder) call(ctx context.Context, batch []string, inputType core.InputType) ([][]float32, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	log.FromCtx(ctx).Debug().Int("count", len(batch)).Str("type", string(inputType)).Msg("embedding batch")

	vectors, err := e.provider.Embed(ctx, batch, inputType)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(batch))
	}
	return vectors, nil
}

// EncodeQuery embeds a single search query, served from cache when possible.
func (e *Embedder) EncodeQuery(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if v, ok := e.cache.Get(text); ok {
			return v.([]float32), nil
		}
	}

	vec, err := core.EmbedOne(ctx, e, text, core.InputQuery)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Set(text, vec, 1)
		e.cache.Wait()
	}
	return vec, nil
}

func (e *Embedder) EncodePassage(ctx context.Context, text string) ([]float32, error) {
	return core.EmbedOne(ctx, e, text, core.InputDocument)
}

func (e *Embedder) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}
