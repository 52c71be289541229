package ingest

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/providers/rag"
	"github.com/sandevgo/tuskmem/pkg/log"
	"golang.org/x/sync/errgroup"
)

var errNoText = errors.New("no text content")

// prepared is a changed source waiting for its vectors.
type prepared struct {
	result  SourceResult
	meta    core.SourceMetadata
	chunks  []core.Chunk
	vectors [][]float32
	filled  int
	done    bool
}

// classified is either a final result (skipped, error) or work to embed.
type classified struct {
	result SourceResult
	item   *prepared
}

func failed(source string, kind Kind, err error) classified {
	return classified{result: SourceResult{Source: source, Kind: kind, Status: StatusError, Err: err.Error()}}
}

func (r *run) files(ctx context.Context) error {
	if len(r.opts.Files) == 0 {
		return nil
	}
	paths, err := ResolveFiles(r.opts.BaseDir, r.opts.Files)
	if err != nil {
		return err
	}
	log.FromCtx(ctx).Debug().Int("count", len(paths)).Msg("resolved file sources")

	// Limits are applied in resolved order, before anything is read.
	budget := &sizeBudget{perSource: r.opts.MaxFileBytes, total: r.opts.MaxTotalBytes}
	out := make([]classified, len(paths))
	infos := make([]os.FileInfo, len(paths))
	for i, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			out[i] = failed(p, KindFile, err)
			continue
		}
		if err := budget.admit(info.Size()); err != nil {
			out[i] = failed(p, KindFile, err)
			continue
		}
		infos[i] = info
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, p := range paths {
		if infos[i] == nil {
			continue
		}
		g.Go(func() error {
			out[i] = r.classifyFile(p, infos[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.embedAndWrite(ctx, r.collect(ctx, out)); err != nil {
		return err
	}
	r.purge(ctx, paths)
	return nil
}

func (r *run) classifyFile(path string, info os.FileInfo) classified {
	hash, err := HashFile(path)
	if err != nil {
		return failed(path, KindFile, err)
	}

	prior, known := r.prior[path]
	status := Classify(prior.ContentHash, known, hash, r.opts.Force)
	if status == StatusSkipped {
		return classified{result: SourceResult{Source: path, Kind: KindFile, Status: status}}
	}

	text, err := ExtractFile(path)
	if err != nil {
		return failed(path, KindFile, err)
	}
	chunks, err := rag.Split(text, path, r.opts.Chunker)
	if err != nil {
		return failed(path, KindFile, err)
	}
	if len(chunks) == 0 {
		return failed(path, KindFile, errNoText)
	}

	modified := info.ModTime().UTC()
	return classified{item: &prepared{
		result: SourceResult{Source: path, Kind: KindFile, Status: status},
		meta: core.SourceMetadata{
			SourceKey:    path,
			ContentHash:  hash,
			LastModified: &modified,
		},
		chunks: chunks,
	}}
}

func (r *run) urls(ctx context.Context) error {
	urls := ResolveURLs(r.opts.URLs)
	if len(urls) == 0 {
		return nil
	}

	out := make([]classified, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			out[i] = r.classifyURL(gctx, u)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.embedAndWrite(ctx, r.collect(ctx, out))
}

// classifyURL fetches the page; its hash is over the extracted text.
func (r *run) classifyURL(ctx context.Context, u string) classified {
	page, err := r.in.fetcher.Fetch(ctx, u)
	if err != nil {
		return failed(u, KindURL, err)
	}

	hash := HashText(page.Text)
	prior, known := r.prior[u]
	status := Classify(prior.ContentHash, known, hash, r.opts.Force)
	if status == StatusSkipped {
		return classified{result: SourceResult{Source: u, Kind: KindURL, Status: status}}
	}

	chunks, err := rag.Split(page.Text, u, r.opts.Chunker)
	if err != nil {
		return failed(u, KindURL, err)
	}
	if len(chunks) == 0 {
		return failed(u, KindURL, errNoText)
	}

	return classified{item: &prepared{
		result: SourceResult{Source: u, Kind: KindURL, Status: status},
		meta: core.SourceMetadata{
			SourceKey:    u,
			ContentHash:  hash,
			LastModified: page.LastModified,
		},
		chunks: chunks,
	}}
}

// collect reports final results and returns the sources left to embed.
func (r *run) collect(ctx context.Context, out []classified) []*prepared {
	var items []*prepared
	for _, c := range out {
		if c.item != nil {
			c.item.vectors = make([][]float32, len(c.item.chunks))
			items = append(items, c.item)
			continue
		}
		r.finish(ctx, c.result)
	}
	return items
}

type slot struct {
	p   *prepared
	idx int
}

// embedAndWrite embeds chunk texts in fixed-size batches that may span
// sources. A source is written as soon as its last vector arrives. When a
// batch fails, each source it touched is retried on its own.
func (r *run) embedAndWrite(ctx context.Context, items []*prepared) error {
	batch := make([]slot, 0, r.opts.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		defer func() { batch = batch[:0] }()

		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = s.p.chunks[s.idx].Text
		}

		vectors, err := r.in.embedder.Embed(ctx, texts, core.InputDocument)
		if err == nil && len(vectors) != len(texts) {
			err = errors.New("embedding count mismatch")
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			log.FromCtx(ctx).Warn().Err(err).Int("count", len(texts)).Msg("embedding batch failed, retrying sources alone")

			var touched []*prepared
			seen := make(map[*prepared]bool)
			for _, s := range batch {
				if !seen[s.p] && !s.p.done {
					seen[s.p] = true
					touched = append(touched, s.p)
				}
			}
			for _, p := range touched {
				if err := r.embedAlone(ctx, p); err != nil {
					return err
				}
			}
			return nil
		}

		for i, s := range batch {
			s.p.vectors[s.idx] = vectors[i]
			s.p.filled++
			if s.p.filled == len(s.p.chunks) {
				if err := r.write(ctx, s.p); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, p := range items {
		for i := range p.chunks {
			if p.done {
				break
			}
			batch = append(batch, slot{p: p, idx: i})
			if len(batch) == r.opts.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

// embedAlone re-embeds every chunk of p without other sources.
func (r *run) embedAlone(ctx context.Context, p *prepared) error {
	vectors := make([][]float32, 0, len(p.chunks))
	for start := 0; start < len(p.chunks); start += r.opts.BatchSize {
		end := min(start+r.opts.BatchSize, len(p.chunks))
		texts := make([]string, 0, end-start)
		for _, c := range p.chunks[start:end] {
			texts = append(texts, c.Text)
		}

		vecs, err := r.in.embedder.Embed(ctx, texts, core.InputDocument)
		if err == nil && len(vecs) != len(texts) {
			err = errors.New("embedding count mismatch")
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			r.fail(ctx, p, err)
			return nil
		}
		vectors = append(vectors, vecs...)
	}

	p.vectors = vectors
	p.filled = len(vectors)
	return r.write(ctx, p)
}

// write stores p. Errors that make every later write fail too (store cannot
// be opened, dimension mismatch) are returned; others fail only p.
func (r *run) write(ctx context.Context, p *prepared) error {
	if err := r.ensureStore(ctx, len(p.vectors[0])); err != nil {
		return err
	}

	p.meta.IngestedAt = time.Now().UTC()
	if err := r.store.ReplaceSource(ctx, p.meta, p.chunks, p.vectors); err != nil {
		var mismatch *core.DimensionMismatchError
		if errors.As(err, &mismatch) {
			return err
		}
		r.fail(ctx, p, err)
		return nil
	}

	p.result.Chunks = len(p.chunks)
	p.done = true
	p.vectors = nil
	r.finish(ctx, p.result)
	return nil
}

func (r *run) fail(ctx context.Context, p *prepared, err error) {
	p.done = true
	p.vectors = nil
	p.result.Status = StatusError
	p.result.Err = err.Error()
	r.finish(ctx, p.result)
}

// purge removes tracked file sources that this run no longer resolved.
// Web sources are never purged.
func (r *run) purge(ctx context.Context, resolved []string) {
	if r.store == nil {
		return
	}
	keep := make(map[string]struct{}, len(resolved))
	for _, p := range resolved {
		keep[p] = struct{}{}
	}

	var stale []string
	for key := range r.prior {
		if IsURL(key) {
			continue
		}
		if _, ok := keep[key]; !ok {
			stale = append(stale, key)
		}
	}
	sort.Strings(stale)

	for _, key := range stale {
		if err := r.store.DeleteSource(ctx, key); err != nil {
			log.FromCtx(ctx).Warn().Err(err).Str("source", key).Msg("failed to purge source")
			continue
		}
		r.stats.Purged = append(r.stats.Purged, key)
	}
	if len(r.stats.Purged) > 0 {
		log.FromCtx(ctx).Info().Int("count", len(r.stats.Purged)).Msg("purged stale sources")
	}
}
