package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/pkg/log"
)

const (
	episodeCategory = "conversation"
	maxExcerptRunes = 400
)

// Run describes one finished agent run.
type Run struct {
	SessionID string
	// Trigger names what started the run (user message, schedule, tool).
	Trigger  string
	Request  string
	Response string
	Tools    []string
	Finished time.Time
}

// Capture records run as an episodic memory. It never fails the caller:
// every error is logged and dropped.
func (s *Memory) Capture(ctx context.Context, run Run) {
	if !s.cfg.AutoCapture {
		return
	}
	logger := log.FromCtx(ctx).With().Str("component", "capture").Logger()

	summary := Summarize(run)
	if summary == "" {
		logger.Debug().Msg("nothing to capture")
		return
	}

	meta := map[string]any{
		"trigger": run.Trigger,
	}
	if run.SessionID != "" {
		meta["session_id"] = run.SessionID
	}
	if len(run.Tools) > 0 {
		meta["tools"] = run.Tools
	}

	m := core.Memory{
		Content:  summary,
		Category: episodeCategory,
		Type:     core.MemoryEpisodic,
		Metadata: meta,
	}
	if !run.Finished.IsZero() {
		m.CreatedAt = run.Finished.UTC()
	}

	if _, err := s.Remember(ctx, m); err != nil {
		logger.Warn().Err(err).Str("trigger", run.Trigger).Msg("episodic capture failed")
	}
}

// Summarize renders a run as one natural-language paragraph.
func Summarize(run Run) string {
	req := excerpt(run.Request)
	resp := excerpt(run.Response)
	if req == "" && resp == "" {
		return ""
	}

	var b strings.Builder
	if req != "" {
		fmt.Fprintf(&b, "User asked: %s", req)
	}
	if len(run.Tools) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Tools used: %s.", strings.Join(run.Tools, ", "))
	}
	if resp != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Assistant replied: %s", resp)
	}
	return b.String()
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxExcerptRunes {
		return s
	}
	return string(r[:maxExcerptRunes]) + "..."
}
