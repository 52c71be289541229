package memory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/pkg/log"
)

const (
	defaultConsolidateBatch    = 20
	defaultConsolidateInterval = time.Hour
	consolidationSource        = "consolidation"
)

// factLine is "category: content" with a lower-case single-word category.
var factLine = regexp.MustCompile(`^([a-z]+):\s*(.+)$`)

type Fact struct {
	Category string
	Content  string
}

type ConsolidationResult struct {
	Episodes int
	Facts    int
}

// Consolidator turns batches of episodic memories into semantic facts.
// It runs as a service on a ticker, or once via ConsolidateOnce.
type Consolidator struct {
	mem       *Memory
	ai        core.AIProvider
	Interval  time.Duration
	BatchSize int

	mu   sync.Mutex
	stop chan struct{}
	once sync.Once
}

func NewConsolidator(mem *Memory, ai core.AIProvider) *Consolidator {
	c := &Consolidator{
		mem:       mem,
		ai:        ai,
		Interval:  defaultConsolidateInterval,
		BatchSize: defaultConsolidateBatch,
		stop:      make(chan struct{}),
	}
	if mem.cfg.ConsolidateInterval > 0 {
		c.Interval = mem.cfg.ConsolidateInterval
	}
	if mem.cfg.ConsolidateBatch > 0 {
		c.BatchSize = mem.cfg.ConsolidateBatch
	}
	return c
}

func (c *Consolidator) Start(ctx context.Context) error {
	ctx = log.WithComponent(ctx, "consolidator")
	logger := log.FromCtx(ctx)
	logger.Info().Dur("interval", c.Interval).Msg("starting memory consolidator")

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case <-ticker.C:
			res, err := c.ConsolidateOnce(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("consolidation failed")
				continue
			}
			if res.Episodes > 0 {
				logger.Info().Int("episodes", res.Episodes).Int("facts", res.Facts).Msg("episodes consolidated")
			}
		}
	}
}

func (c *Consolidator) Shutdown(ctx context.Context) error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

// ConsolidateOnce processes one batch. Episodes are marked consolidated only
// after every derived fact is stored; any earlier failure leaves the whole
// batch for the next pass.
func (c *Consolidator) ConsolidateOnce(ctx context.Context) (ConsolidationResult, error) {
	if c.ai == nil {
		return ConsolidationResult{}, errors.New("no language model configured for consolidation")
	}
	// One pass at a time: overlapping passes would read the same batch.
	c.mu.Lock()
	defer c.mu.Unlock()

	episodes, err := c.mem.store.UnconsolidatedEpisodes(ctx, c.BatchSize)
	if err != nil {
		return ConsolidationResult{}, fmt.Errorf("fetch episodes: %w", err)
	}
	if len(episodes) == 0 {
		return ConsolidationResult{}, nil
	}

	logger := log.FromCtx(ctx)
	logger.Debug().Int("count", len(episodes)).Msg("consolidating episodes")

	facts, err := c.extractFacts(ctx, episodes)
	if err != nil {
		return ConsolidationResult{}, err
	}

	ids := make([]string, len(episodes))
	for i, e := range episodes {
		ids[i] = e.ID
	}

	for _, f := range facts {
		_, err := c.mem.Remember(ctx, core.Memory{
			Content:  f.Content,
			Category: f.Category,
			Type:     core.MemorySemantic,
			Metadata: map[string]any{
				"source":      consolidationSource,
				"episode_ids": ids,
			},
		})
		if err != nil {
			return ConsolidationResult{}, fmt.Errorf("failed to save fact '%s': %w", f.Content, err)
		}
		logger.Info().Str("category", f.Category).Msg("fact consolidated")
	}

	if err := c.mem.store.MarkConsolidated(ctx, ids); err != nil {
		return ConsolidationResult{}, fmt.Errorf("mark consolidated: %w", err)
	}
	return ConsolidationResult{Episodes: len(episodes), Facts: len(facts)}, nil
}

func (c *Consolidator) extractFacts(ctx context.Context, episodes []core.Memory) ([]Fact, error) {
	const systemPrompt = "You are a memory consolidation system. Output only fact lines."

	resp, err := c.ai.Chat(ctx, []core.Message{
		{Role: core.RoleSystem, Content: systemPrompt},
		{Role: core.RoleUser, Content: buildConsolidationPrompt(episodes)},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("llm chat: %w", err)
	}
	return ParseFacts(resp.Content), nil
}

func buildConsolidationPrompt(episodes []core.Memory) string {
	var b strings.Builder
	for _, e := range episodes {
		b.WriteString("- ")
		b.WriteString(e.Content)
		b.WriteByte('\n')
	}
	return fmt.Sprintf(
		`Extract distinct, durable facts from the episodes below. Output one fact per line as "category: fact", where category is a single lower-case word (preference, user, project, instruction, ...). Rules: 1. Ignore greetings and small talk. 2. Facts must be self-contained (replace "he" with "User"). 3. Output nothing else. Episodes:
%s`,
		b.String(),
	)
}

// ParseFacts keeps only well-formed "category: content" lines. List
// markers in front of a line are tolerated.
func ParseFacts(content string) []Fact {
	var facts []Fact
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-* ")
		m := factLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		if text == "" {
			continue
		}
		facts = append(facts, Fact{Category: m[1], Content: text})
	}
	return facts
}
