package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChunkerConfig
		wantErr bool
	}{
		{name: "default", cfg: DefaultChunkerConfig()},
		{name: "no overlap", cfg: ChunkerConfig{Strategy: StrategyFixed, Size: 10}},
		{name: "zero size", cfg: ChunkerConfig{Strategy: StrategyFixed}, wantErr: true},
		{name: "negative overlap", cfg: ChunkerConfig{Strategy: StrategyFixed, Size: 10, Overlap: -1}, wantErr: true},
		{name: "overlap equals size", cfg: ChunkerConfig{Strategy: StrategyParagraph, Size: 10, Overlap: 10}, wantErr: true},
		{name: "unknown strategy", cfg: ChunkerConfig{Strategy: "words", Size: 10}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChunker)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSplit_FixedWindowsOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 10)
	require.Equal(t, 100, len(text))

	chunks, err := Split(text, "doc.txt", ChunkerConfig{Strategy: StrategyFixed, Size: 30, Overlap: 10})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 30)
		assert.Equal(t, "doc.txt", c.Source)
		assert.Equal(t, i, c.Ordinal)
		if i == 0 {
			continue
		}
		prev := chunks[i-1].Text
		assert.Equal(t, prev[len(prev)-10:], c.Text[:10], "chunk %d overlap", i)
	}
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1].Text))
}

func TestSplit_FixedCountsRunes(t *testing.T) {
	text := strings.Repeat("ж", 25)

	chunks, err := Split(text, "ru.txt", ChunkerConfig{Strategy: StrategyFixed, Size: 10, Overlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("ж", 10), chunks[0].Text)
	assert.Equal(t, strings.Repeat("ж", 5), chunks[2].Text)
}

func TestSplit_Paragraph(t *testing.T) {
	text := "Alpha one.\n\nBeta two.\n\nGamma three."

	tests := []struct {
		name string
		cfg  ChunkerConfig
		want []string
	}{
		{
			name: "everything fits",
			cfg:  ChunkerConfig{Strategy: StrategyParagraph, Size: 100},
			want: []string{text},
		},
		{
			name: "split without overlap",
			cfg:  ChunkerConfig{Strategy: StrategyParagraph, Size: 25},
			want: []string{"Alpha one.\n\nBeta two.", "Gamma three."},
		},
		{
			name: "split carries overlap",
			cfg:  ChunkerConfig{Strategy: StrategyParagraph, Size: 25, Overlap: 4},
			want: []string{"Alpha one.\n\nBeta two.", "two.\n\nGamma three."},
		},
		{
			name: "overlap shrinks to fit",
			cfg:  ChunkerConfig{Strategy: StrategyParagraph, Size: 17, Overlap: 8},
			want: []string{"Alpha one.", "a one.\n\nBeta two.", "wo.\n\nGamma three."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split(text, "notes.md", tt.cfg)
			require.NoError(t, err)

			got := make([]string, len(chunks))
			for i, c := range chunks {
				got[i] = c.Text
				assert.Equal(t, i, c.Ordinal)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_ParagraphOversizedFallsBackToFixed(t *testing.T) {
	text := "short intro\n\n" + strings.Repeat("x", 50) + "\n\nshort outro"
	cfg := ChunkerConfig{Strategy: StrategyParagraph, Size: 20, Overlap: 5}

	chunks, err := Split(text, "big.md", cfg)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)

	assert.Equal(t, "short intro", chunks[0].Text)
	assert.Equal(t, "short outro", chunks[len(chunks)-1].Text)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), cfg.Size)
	}
}

func TestSplit_NeverEmitsEmptyChunks(t *testing.T) {
	inputs := []string{"", "   \n\t  ", "\n\n\n\n", "word\n\n   \n\nword"}
	for _, strategy := range []Strategy{StrategyFixed, StrategyParagraph} {
		for _, in := range inputs {
			chunks, err := Split(in, "s", ChunkerConfig{Strategy: strategy, Size: 4, Overlap: 1})
			require.NoError(t, err)
			for _, c := range chunks {
				assert.NotEmpty(t, strings.TrimSpace(c.Text), "%s %q", strategy, in)
			}
		}
	}
}

func TestSplit_RejectsInvalidConfig(t *testing.T) {
	_, err := Split("text", "s", ChunkerConfig{Strategy: StrategyFixed, Size: 5, Overlap: 5})
	assert.ErrorIs(t, err, ErrInvalidChunker)
}

func requireTokenizer(t *testing.T) {
	t.Helper()
	if _, err := tokenizer(); err != nil {
		t.Skipf("tokenizer unavailable: %v", err)
	}
}

func TestChunkText(t *testing.T) {
	requireTokenizer(t)

	tests := []struct {
		name           string
		text           string
		maxTokens      int
		overlapTokens  int
		expectedChunks []string
	}{
		{
			name:           "Empty input",
			text:           "",
			maxTokens:      400,
			overlapTokens:  50,
			expectedChunks: nil,
		},
		{
			name:           "Whitespace only",
			text:           "   \n\t   ",
			maxTokens:      400,
			overlapTokens:  50,
			expectedChunks: nil,
		},
		{
			name:           "Single sentence fits",
			text:           "Hello world.",
			maxTokens:      10,
			expectedChunks: []string{"Hello world."},
		},
		{
			name:           "Two sentences fit in one chunk",
			text:           "Hello world. How are you?",
			maxTokens:      10,
			expectedChunks: []string{"Hello world. How are you?"},
		},
		{
			// "First sentence." is 3 tokens: [First][ sentence][.]
			name:      "Split by sentence",
			text:      "First sentence. Second sentence.",
			maxTokens: 3,
			expectedChunks: []string{
				"First sentence.",
				"Second sentence.",
			},
		},
		{
			name:          "Split by sentence with overlap",
			text:          "Sentence one. Sentence two. Sentence three.",
			maxTokens:     6,
			overlapTokens: 3,
			expectedChunks: []string{
				"Sentence one. Sentence two.",
				"Sentence two. Sentence three.",
			},
		},
		{
			// [One][ two][ three] | [ four][ five][ six] | [.]
			name:      "Long sentence forced split",
			text:      "One two three four five six.",
			maxTokens: 3,
			expectedChunks: []string{
				"One two three",
				"four five six",
				".",
			},
		},
		{
			name:           "Paragraph handling",
			text:           "Para one.\n\nPara two.",
			maxTokens:      10,
			expectedChunks: []string{"Para one. Para two."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := ChunkText(tt.text, tt.maxTokens, tt.overlapTokens)

			if len(chunks) != len(tt.expectedChunks) {
				t.Errorf("Expected %d chunks, got %d", len(tt.expectedChunks), len(chunks))
				for i, c := range chunks {
					t.Logf("Chunk %d: %q (Tokens: %d)", i, c.Text, c.TokenSize)
				}
				return
			}

			for i, chunk := range chunks {
				if chunk.Text != tt.expectedChunks[i] {
					t.Errorf("Chunk %d mismatch.\nExpected: %q\nGot:      %q", i, tt.expectedChunks[i], chunk.Text)
				}
				if chunk.Index != i {
					t.Errorf("Chunk %d has index %d", i, chunk.Index)
				}
			}
		})
	}
}

func TestSplit_Tokens(t *testing.T) {
	requireTokenizer(t)

	chunks, err := Split("First sentence. Second sentence.", "a.md",
		ChunkerConfig{Strategy: StrategyTokens, Size: 3})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Second sentence.", chunks[1].Text)
	assert.Equal(t, 1, chunks[1].Ordinal)
	assert.Equal(t, "a.md", chunks[1].Source)
}

func TestCountTokensUnicode(t *testing.T) {
	requireTokenizer(t)

	tests := []struct {
		text string
		want int
	}{
		{"Hello", 1},
		{"Hello world", 2},
		// [Hello][,][ world][!]
		{"Hello, world!", 4},
		{"", 0},
	}

	for _, tt := range tests {
		got := countTokensUnicode(tt.text)
		if got != tt.want {
			t.Errorf("countTokensUnicode(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestSplitSentencesUnicode(t *testing.T) {
	text := "Hello world. How are you? I am fine."
	sentences := splitSentencesUnicode(text)

	expected := []string{
		"Hello world.",
		"How are you?",
		"I am fine.",
	}

	if len(sentences) != len(expected) {
		t.Fatalf("Expected %d sentences, got %d", len(expected), len(sentences))
	}

	for i, s := range sentences {
		if s != expected[i] {
			t.Errorf("Sentence %d mismatch. Got %q, want %q", i, s, expected[i])
		}
	}
}

func TestSplitSentencesUnicode_CJK(t *testing.T) {
	got := splitSentencesUnicode("你好世界。这是一个测试。")
	assert.Equal(t, []string{"你好世界。", "这是一个测试。"}, got)
}
