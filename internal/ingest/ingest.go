// Package ingest keeps a document store in sync with a set of local files
// and web pages: it detects changes by content hash, chunks and embeds what
// changed, replaces stored chunks per source and purges vanished files.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/providers/rag"
	"github.com/sandevgo/tuskmem/internal/storage"
	"github.com/sandevgo/tuskmem/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sandevgo/tuskmem/internal/ingest"

type Kind string

const (
	KindFile Kind = "file"
	KindURL  Kind = "url"
)

// ProgressFunc is called once per processed source with its final status.
type ProgressFunc func(source string, status Status)

type Options struct {
	StorePath string
	Backend   storage.Backend

	// Files are glob patterns resolved against BaseDir. Stored file sources
	// that no pattern matches any more are purged; with no patterns at all
	// nothing is purged, so clearing the list does not clear the store.
	Files   []string
	BaseDir string
	URLs    []string

	Chunker rag.ChunkerConfig

	MaxFileBytes  int64
	MaxTotalBytes int64

	// Force re-embeds every source; with a changed embedding model it also
	// wipes the store first.
	Force bool

	// Concurrency bounds parallel hashing, fetching and extraction.
	Concurrency int
	// BatchSize is the number of chunk texts per embedding call.
	BatchSize int

	Progress ProgressFunc
}

type SourceResult struct {
	Source string
	Kind   Kind
	Status Status
	Chunks int
	Err    string
}

type Stats struct {
	New         int
	Updated     int
	Skipped     int
	Errored     int
	TotalChunks int
	Purged      []string
	Wiped       bool
	Results     []SourceResult
	Duration    time.Duration
}

func (s *Stats) add(r SourceResult) {
	switch r.Status {
	case StatusNew:
		s.New++
	case StatusUpdated:
		s.Updated++
	case StatusSkipped:
		s.Skipped++
	case StatusError:
		s.Errored++
	}
	s.TotalChunks += r.Chunks
	s.Results = append(s.Results, r)
}

// Errors lists per-source failures as "source: message".
func (s *Stats) Errors() []string {
	var out []string
	for _, r := range s.Results {
		if r.Status == StatusError {
			out = append(out, r.Source+": "+r.Err)
		}
	}
	return out
}

type Ingester struct {
	embedder core.Embedder
	identity string
	fetcher  *Fetcher
	tracer   trace.Tracer
}

// New builds an Ingester. The embedding identity is taken from embedder
// when it implements core.EmbeddingIdentity.
func New(embedder core.Embedder, fetcher *Fetcher) *Ingester {
	var identity string
	if id, ok := embedder.(core.EmbeddingIdentity); ok {
		identity = id.Identity()
	}
	if fetcher == nil {
		fetcher = NewFetcher(FetcherOptions{})
	}
	return &Ingester{
		embedder: embedder,
		identity: identity,
		fetcher:  fetcher,
		tracer:   otel.Tracer(tracerName),
	}
}

// Run performs one ingestion pass. Per-source failures are reported in the
// returned Stats; the error is reserved for conditions that stop the run:
// a concurrent run, an unforced embedding-model change, a dimension
// mismatch, or invalid options.
func (in *Ingester) Run(ctx context.Context, opts Options) (stats *Stats, err error) {
	if in.embedder == nil {
		return nil, core.ErrEmbeddingConfig
	}
	if opts.StorePath == "" {
		return nil, errors.New("store path is required")
	}
	if err := opts.Chunker.Validate(); err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}

	ctx, span := in.tracer.Start(ctx, "ingest.Run", trace.WithAttributes(
		attribute.String("ingest.store", opts.StorePath),
		attribute.Int("ingest.patterns", len(opts.Files)),
		attribute.Int("ingest.urls", len(opts.URLs)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("ingest.new", stats.New),
				attribute.Int("ingest.updated", stats.Updated),
				attribute.Int("ingest.skipped", stats.Skipped),
				attribute.Int("ingest.errored", stats.Errored),
				attribute.Int("ingest.chunks", stats.TotalChunks),
				attribute.Int("ingest.purged", len(stats.Purged)),
			)
		}
		span.End()
	}()

	lock, err := acquireLock(opts.StorePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if lerr := lock.release(); lerr != nil {
			log.FromCtx(ctx).Warn().Err(lerr).Msg("failed to release ingestion lock")
		}
	}()

	started := time.Now()
	r := &run{
		in:    in,
		opts:  opts,
		stats: &Stats{},
		prior: make(map[string]core.SourceMetadata),
	}
	defer r.close(ctx)

	if err := r.openExisting(ctx); err != nil {
		return nil, err
	}

	if err := r.files(ctx); err != nil {
		return nil, err
	}
	if err := r.urls(ctx); err != nil {
		return nil, err
	}

	if r.store != nil && in.identity != "" {
		if err := r.store.SetMeta(ctx, core.MetaEmbeddingIdentity, in.identity); err != nil {
			return nil, fmt.Errorf("record embedding identity: %w", err)
		}
	}

	r.stats.Duration = time.Since(started)
	log.FromCtx(ctx).Info().
		Int("new", r.stats.New).
		Int("updated", r.stats.Updated).
		Int("skipped", r.stats.Skipped).
		Int("errored", r.stats.Errored).
		Int("chunks", r.stats.TotalChunks).
		Int("purged", len(r.stats.Purged)).
		Dur("took", r.stats.Duration).
		Msg("ingestion finished")
	return r.stats, nil
}

// run is the state of one Run call. Only the orchestrating goroutine
// touches it.
type run struct {
	in    *Ingester
	opts  Options
	stats *Stats
	store storage.DocumentStore
	prior map[string]core.SourceMetadata
}

// openExisting opens a store that is already on disk, applies the
// embedding-model policy and loads the recorded hashes. A missing store is
// created later, once the first vector reveals the width.
func (r *run) openExisting(ctx context.Context) error {
	if _, err := os.Stat(r.opts.StorePath); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("stat store: %w", err)
	}

	st, err := storage.OpenDocumentStore(ctx, storage.Options{
		Path:          r.opts.StorePath,
		Backend:       r.opts.Backend,
		AllowDeferred: true,
	})
	if err != nil {
		return err
	}
	r.store = st

	if err := r.checkIdentity(ctx); err != nil {
		return err
	}

	metas, err := st.ListSourceMetadata(ctx)
	if err != nil {
		return fmt.Errorf("load source metadata: %w", err)
	}
	for _, m := range metas {
		r.prior[m.SourceKey] = m
	}
	return nil
}

func (r *run) checkIdentity(ctx context.Context) error {
	current := r.in.identity
	if current == "" {
		return nil
	}
	stored, ok, err := r.store.GetMeta(ctx, core.MetaEmbeddingIdentity)
	if err != nil {
		return fmt.Errorf("read embedding identity: %w", err)
	}
	if !ok || stored == current {
		return nil
	}
	if !r.opts.Force {
		return &core.EmbeddingModelChangedError{Before: stored, After: current}
	}

	log.FromCtx(ctx).Warn().
		Str("before", stored).
		Str("after", current).
		Msg("embedding model changed, wiping store")
	if err := r.store.Wipe(ctx); err != nil {
		return fmt.Errorf("wipe store: %w", err)
	}
	r.stats.Wiped = true
	return nil
}

// ensureStore opens or creates the store for vectors of width dims.
func (r *run) ensureStore(ctx context.Context, dims int) error {
	if r.store != nil {
		return r.store.EnsureDimensions(ctx, dims)
	}
	st, err := storage.OpenDocumentStore(ctx, storage.Options{
		Path:       r.opts.StorePath,
		Backend:    r.opts.Backend,
		Dimensions: dims,
	})
	if err != nil {
		return err
	}
	r.store = st
	return nil
}

func (r *run) close(ctx context.Context) {
	if r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("failed to close document store")
	}
}

func (r *run) finish(ctx context.Context, res SourceResult) {
	r.stats.add(res)
	if res.Status == StatusError {
		log.FromCtx(ctx).Warn().Str("source", res.Source).Str("error", res.Err).Msg("source failed")
	}
	if r.opts.Progress != nil {
		r.opts.Progress(res.Source, res.Status)
	}
}
