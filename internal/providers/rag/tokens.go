package rag

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tk     *tiktoken.Tiktoken
	tkErr  error
	tkOnce sync.Once
)

// TokenChunk is one sentence-packed window measured in cl100k tokens.
type TokenChunk struct {
	Text      string
	TokenSize int
	Index     int
}

// ChunkText packs whole sentences into windows of at most maxTokens,
// repeating trailing sentences worth ~overlapTokens at the start of the
// next window. Sentences longer than maxTokens are cut on token boundaries.
// Callers must have loaded the tokenizer first (see Split).
func ChunkText(text string, maxTokens, overlapTokens int) []TokenChunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitSentencesUnicode(text)

	var chunks []TokenChunk
	var currentChunk strings.Builder
	currentTokens := 0

	emit := func(s string, n int) {
		chunks = append(chunks, TokenChunk{
			Text:      strings.TrimSpace(s),
			TokenSize: n,
			Index:     len(chunks),
		})
	}

	for i, sentence := range sentences {
		sentenceTokens := countTokensUnicode(sentence)

		if sentenceTokens > maxTokens {
			if currentChunk.Len() > 0 {
				emit(currentChunk.String(), currentTokens)
				currentChunk.Reset()
				currentTokens = 0
			}
			for _, sc := range chunkLongTextUnicode(sentence, maxTokens) {
				emit(sc.Text, sc.TokenSize)
			}
			continue
		}

		if currentTokens+sentenceTokens > maxTokens && currentChunk.Len() > 0 {
			emit(currentChunk.String(), currentTokens)

			overlap := getOverlapFromSentences(sentences, i, overlapTokens)
			currentChunk.Reset()
			currentTokens = 0
			// Overlap never pushes a window past the limit
			if n := countTokensUnicode(overlap); n+sentenceTokens <= maxTokens {
				currentChunk.WriteString(overlap)
				currentTokens = n
			}
		}

		if currentChunk.Len() > 0 {
			currentChunk.WriteString(" ")
		}
		currentChunk.WriteString(sentence)
		currentTokens += sentenceTokens
	}

	if currentChunk.Len() > 0 {
		emit(currentChunk.String(), currentTokens)
	}

	return chunks
}

func chunkLongTextUnicode(text string, maxTokens int) []TokenChunk {
	enc := mustTokenizer()
	tokens := enc.Encode(text, nil, nil)

	var chunks []TokenChunk
	for i := 0; i < len(tokens); i += maxTokens {
		end := min(i+maxTokens, len(tokens))
		part := tokens[i:end]
		chunks = append(chunks, TokenChunk{
			Text:      enc.Decode(part),
			TokenSize: len(part),
		})
	}
	return chunks
}

var sentenceEnders = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true, '．': true, '…': true,
}

// splitSentencesUnicode splits per paragraph on sentence enders followed by
// space, end of text or a CJK rune. Soft line wraps are joined.
func splitSentencesUnicode(text string) []string {
	var sentences []string

	for _, para := range splitParagraphs(text) {
		para = strings.ReplaceAll(para, "\n", " ")

		var current strings.Builder
		runes := []rune(para)

		for i, r := range runes {
			current.WriteRune(r)

			if sentenceEnders[r] {
				if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) || isCJK(runes[i+1]) {
					if s := strings.TrimSpace(current.String()); s != "" {
						sentences = append(sentences, s)
					}
					current.Reset()
				}
			}
		}

		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
	}

	if len(sentences) == 0 && text != "" {
		return []string{text}
	}
	return sentences
}

func tokenizer() (*tiktoken.Tiktoken, error) {
	tkOnce.Do(func() {
		tk, tkErr = tiktoken.GetEncoding("cl100k_base")
		if tkErr != nil {
			tkErr = fmt.Errorf("failed to load tiktoken: %w", tkErr)
		}
	})
	return tk, tkErr
}

func mustTokenizer() *tiktoken.Tiktoken {
	enc, err := tokenizer()
	if err != nil {
		panic(err)
	}
	return enc
}

func countTokensUnicode(text string) int {
	if text == "" {
		return 0
	}
	return len(mustTokenizer().Encode(text, nil, nil))
}

func getOverlapFromSentences(sentences []string, currentIdx int, targetTokens int) string {
	if currentIdx == 0 || targetTokens <= 0 {
		return ""
	}

	var overlap []string
	tokens := 0

	for i := currentIdx - 1; i >= 0 && tokens < targetTokens; i-- {
		overlap = append([]string{sentences[i]}, overlap...)
		tokens += countTokensUnicode(sentences[i])
	}

	return strings.Join(overlap, " ")
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
