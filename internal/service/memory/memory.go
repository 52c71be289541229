// Package memory manages an owner's long-term memory: episodic capture,
// explicit remember/recall, per-type retention and consolidation of
// episodes into semantic facts.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sandevgo/tuskmem/internal/config"
	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/storage"
	"github.com/sandevgo/tuskmem/pkg/log"
)

// Encoder embeds memory texts. *rag.Embedder implements it.
type Encoder interface {
	EncodeQuery(ctx context.Context, text string) ([]float32, error)
	EncodePassage(ctx context.Context, text string) ([]float32, error)
}

// identityStore is implemented by stores that record which embedding model
// wrote their vectors.
type identityStore interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
}

type Memory struct {
	cfg      *config.MemoryConfig
	store    storage.MemoryStore
	embedder Encoder
}

// NewMemory wires the memory service. A nil cfg uses DefaultMemoryConfig.
func NewMemory(cfg *config.MemoryConfig, store storage.MemoryStore, embedder Encoder) *Memory {
	if cfg == nil {
		cfg = config.DefaultMemoryConfig()
	}
	return &Memory{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
	}
}

// Remember stores one memory and applies retention for its type.
func (s *Memory) Remember(ctx context.Context, m core.Memory) (core.Memory, error) {
	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" {
		return core.Memory{}, errors.New("memory content is empty")
	}
	if _, err := core.ParseMemoryType(string(m.Type)); err != nil {
		return core.Memory{}, err
	}
	if s.embedder == nil {
		return core.Memory{}, core.ErrEmbeddingConfig
	}
	recorded, err := s.checkIdentity(ctx)
	if err != nil {
		return core.Memory{}, err
	}

	vec, err := s.embedder.EncodePassage(ctx, m.Content)
	if err != nil {
		return core.Memory{}, fmt.Errorf("embed memory: %w", err)
	}

	stored, err := s.store.AddMemory(ctx, m, vec)
	if err != nil {
		return core.Memory{}, fmt.Errorf("store memory: %w", err)
	}
	if !recorded {
		s.recordIdentity(ctx)
	}
	log.FromCtx(ctx).Debug().
		Str("id", stored.ID).
		Str("type", string(stored.Type)).
		Str("category", stored.Category).
		Msg("memory stored")

	s.prune(ctx, stored.Type)
	return stored, nil
}

// Recall returns the memories closest to query. limit <= 0 uses the
// configured recall limit.
func (s *Memory) Recall(ctx context.Context, query string, limit int, filter core.MemoryFilter) ([]core.MemoryHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if s.embedder == nil {
		return nil, core.ErrEmbeddingConfig
	}
	if limit <= 0 {
		limit = s.cfg.RecallLimit
	}
	if _, err := s.checkIdentity(ctx); err != nil {
		return nil, err
	}

	vec, err := s.embedder.EncodeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.store.SearchMemories(ctx, vec, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return hits, nil
}

func (s *Memory) identity() string {
	if id, ok := s.embedder.(core.EmbeddingIdentity); ok {
		return id.Identity()
	}
	return ""
}

// checkIdentity compares the embedder with the model that wrote the stored
// vectors. recorded is false when the store has no identity yet.
func (s *Memory) checkIdentity(ctx context.Context) (recorded bool, err error) {
	meta, ok := s.store.(identityStore)
	current := s.identity()
	if !ok || current == "" {
		return true, nil
	}
	stored, found, err := meta.GetMeta(ctx, core.MetaEmbeddingIdentity)
	if err != nil {
		return false, fmt.Errorf("read embedding identity: %w", err)
	}
	if !found {
		return false, nil
	}
	if stored != current {
		return true, &core.EmbeddingModelChangedError{Before: stored, After: current}
	}
	return true, nil
}

// recordIdentity stamps the store after its first vector write. The memory
// is already stored, so a failure is only logged.
func (s *Memory) recordIdentity(ctx context.Context) {
	meta, ok := s.store.(identityStore)
	if !ok {
		return
	}
	if err := meta.SetMeta(ctx, core.MetaEmbeddingIdentity, s.identity()); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("failed to record embedding identity")
	}
}

func (s *Memory) List(ctx context.Context, filter core.MemoryFilter, limit int) ([]core.Memory, error) {
	return s.store.ListMemories(ctx, filter, limit)
}

func (s *Memory) Delete(ctx context.Context, id string) error {
	return s.store.DeleteMemory(ctx, id)
}

// Prune applies retention to every memory type and reports removals per type.
func (s *Memory) Prune(ctx context.Context) (map[core.MemoryType]int, error) {
	removed := make(map[core.MemoryType]int, len(core.MemoryTypes))
	for _, t := range core.MemoryTypes {
		n, err := s.store.PruneMemories(ctx, t, s.Keep(t))
		if err != nil {
			return removed, fmt.Errorf("prune %s memories: %w", t, err)
		}
		removed[t] = n
	}
	return removed, nil
}

// Keep is the retention count for t.
func (s *Memory) Keep(t core.MemoryType) int {
	switch t {
	case core.MemoryEpisodic:
		return s.cfg.KeepEpisodic
	case core.MemorySemantic:
		return s.cfg.KeepSemantic
	default:
		return s.cfg.KeepProcedural
	}
}

// prune runs after a write; the write already succeeded, so failures are
// only logged.
func (s *Memory) prune(ctx context.Context, t core.MemoryType) {
	n, err := s.store.PruneMemories(ctx, t, s.Keep(t))
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("type", string(t)).Msg("failed to prune memories")
		return
	}
	if n > 0 {
		log.FromCtx(ctx).Debug().Int("count", n).Str("type", string(t)).Msg("pruned memories")
	}
}

// ContextBlock recalls memories for query and renders them as a markdown
// block for a system prompt. Errors are logged and yield "".
func (s *Memory) ContextBlock(ctx context.Context, query string) string {
	logger := log.FromCtx(ctx)

	hits, err := s.Recall(ctx, query, 0, core.MemoryFilter{})
	if err != nil {
		logger.Warn().Err(err).Msg("memory recall failed")
		return ""
	}
	if len(hits) == 0 {
		return ""
	}

	var facts, rules, episodes []string
	for _, h := range hits {
		line := "- " + h.Content
		switch h.Type {
		case core.MemorySemantic:
			facts = append(facts, line)
		case core.MemoryProcedural:
			rules = append(rules, line)
		default:
			episodes = append(episodes, line)
		}
	}

	var sb strings.Builder
	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		sb.WriteString("\n### ")
		sb.WriteString(title)
		sb.WriteString("\n")
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n")
	}
	section("Relevant Knowledge", facts)
	section("Learned Rules", rules)
	section("Related Past Conversations", episodes)
	return sb.String()
}
