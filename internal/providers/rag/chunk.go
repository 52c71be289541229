package rag

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sandevgo/tuskmem/internal/core"
)

type Strategy string

const (
	StrategyFixed     Strategy = "fixed"
	StrategyParagraph Strategy = "paragraph"
	StrategyTokens    Strategy = "tokens"
)

var ErrInvalidChunker = errors.New("invalid chunker config")

// ChunkerConfig sizes are runes for fixed/paragraph and cl100k tokens for
// the tokens strategy.
type ChunkerConfig struct {
	Strategy Strategy
	Size     int
	Overlap  int
}

// DefaultChunkerConfig suits 512-token embedding models.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		Strategy: StrategyParagraph,
		Size:     1200,
		Overlap:  150,
	}
}

func (c ChunkerConfig) Validate() error {
	switch c.Strategy {
	case StrategyFixed, StrategyParagraph, StrategyTokens:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidChunker, c.Strategy)
	}
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidChunker, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap must be in [0, size), got %d", ErrInvalidChunker, c.Overlap)
	}
	return nil
}

// Split cuts text into chunks attributed to source with 0-based ordinals.
// Whitespace-only pieces are dropped before numbering.
func Split(text, source string, cfg ChunkerConfig) ([]core.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var pieces []string
	switch cfg.Strategy {
	case StrategyFixed:
		pieces = splitFixed(text, cfg.Size, cfg.Overlap)
	case StrategyParagraph:
		pieces = splitParagraphPacked(text, cfg.Size, cfg.Overlap)
	case StrategyTokens:
		if _, err := tokenizer(); err != nil {
			return nil, err
		}
		for _, c := range ChunkText(text, cfg.Size, cfg.Overlap) {
			pieces = append(pieces, c.Text)
		}
	}

	chunks := make([]core.Chunk, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, core.Chunk{
			Text:    p,
			Source:  source,
			Ordinal: len(chunks),
		})
	}
	return chunks, nil
}

// splitFixed returns rune windows of size stepping size-overlap. Windows
// are not trimmed so neighbours share exactly overlap runes.
func splitFixed(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range blankLine.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitParagraphPacked packs whole paragraphs up to size runes. When a chunk
// is closed its last overlap runes open the next one, shortened as needed so
// the next paragraph still fits. Oversized paragraphs fall back to fixed
// windows.
func splitParagraphPacked(text string, size, overlap int) []string {
	const sep = "\n\n"

	var out []string
	var current string

	flush := func() {
		if current != "" {
			out = append(out, current)
		}
		current = ""
	}

	for _, para := range splitParagraphs(text) {
		n := utf8.RuneCountInString(para)

		if n > size {
			flush()
			out = append(out, splitFixed(para, size, overlap)...)
			continue
		}

		if current == "" {
			current = para
			continue
		}

		if utf8.RuneCountInString(current)+len(sep)+n <= size {
			current += sep + para
			continue
		}

		tail := lastRunes(current, min(overlap, size-n-len(sep)))
		tail = strings.TrimLeft(tail, " \t\n")
		flush()
		if tail != "" {
			current = tail + sep + para
		} else {
			current = para
		}
	}
	flush()
	return out
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
