package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider is a test double for core.Embedder
type mockProvider struct {
	mu       sync.Mutex
	embedFn  func(ctx context.Context, texts []string) ([][]float32, error)
	batches  [][]string
	types    []core.InputType
	identity string
}

func (m *mockProvider) Embed(ctx context.Context, texts []string, inputType core.InputType) ([][]float32, error) {
	m.mu.Lock()
	m.batches = append(m.batches, texts)
	m.types = append(m.types, inputType)
	m.mu.Unlock()

	if m.embedFn != nil {
		return m.embedFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (m *mockProvider) Identity() string {
	return m.identity
}

func TestEmbedder_Embed(t *testing.T) {
	tests := []struct {
		name        string
		texts       []string
		batchSize   int
		embedFn     func(ctx context.Context, texts []string) ([][]float32, error)
		wantBatches int
		wantErr     bool
		errContains string
	}{
		{
			name:        "single batch",
			texts:       []string{"a", "b"},
			batchSize:   4,
			wantBatches: 1,
		},
		{
			name:        "splits into fixed batches",
			texts:       []string{"a", "b", "c", "d", "e"},
			batchSize:   2,
			wantBatches: 3,
		},
		{
			name:      "provider error fails the call",
			texts:     []string{"a", "b", "c"},
			batchSize: 2,
			embedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
				return nil, errors.New("rate limited")
			},
			wantErr:     true,
			errContains: "rate limited",
		},
		{
			name:      "short response is rejected",
			texts:     []string{"a", "b"},
			batchSize: 2,
			embedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
				return [][]float32{{1}}, nil
			},
			wantErr:     true,
			errContains: "1 vectors for 2 texts",
		},
		{
			name:      "mixed widths are rejected",
			texts:     []string{"a", "b"},
			batchSize: 1,
			embedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
				if texts[0] == "a" {
					return [][]float32{{1, 2}}, nil
				}
				return [][]float32{{1, 2, 3}}, nil
			},
			wantErr:     true,
			errContains: "mixed widths",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockProvider{embedFn: tt.embedFn}
			e, err := NewEmbedder(mock, EmbedderOptions{BatchSize: tt.batchSize, Timeout: time.Second})
			require.NoError(t, err)
			defer e.Close()

			got, err := e.Embed(context.Background(), tt.texts, core.InputDocument)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}

			require.NoError(t, err)
			assert.Len(t, got, len(tt.texts))
			assert.Len(t, mock.batches, tt.wantBatches)
			for _, b := range mock.batches {
				assert.LessOrEqual(t, len(b), tt.batchSize)
			}
		})
	}
}

func TestEmbedder_AppliesPrefixes(t *testing.T) {
	mock := &mockProvider{}
	e, err := NewEmbedder(mock, EmbedderOptions{
		BatchSize:     8,
		QueryPrefix:   "query: ",
		PassagePrefix: "passage: ",
	})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.EncodeQuery(context.Background(), "where")
	require.NoError(t, err)
	_, err = e.EncodePassage(context.Background(), "here")
	require.NoError(t, err)

	require.Len(t, mock.batches, 2)
	assert.Equal(t, []string{"query: where"}, mock.batches[0])
	assert.Equal(t, []string{"passage: here"}, mock.batches[1])
	assert.Equal(t, []core.InputType{core.InputQuery, core.InputDocument}, mock.types)
}

func TestEmbedder_CachesQueries(t *testing.T) {
	mock := &mockProvider{}
	e, err := NewEmbedder(mock, EmbedderOptions{BatchSize: 8, CacheSize: 16})
	require.NoError(t, err)
	defer e.Close()

	first, err := e.EncodeQuery(context.Background(), "same question")
	require.NoError(t, err)
	second, err := e.EncodeQuery(context.Background(), "same question")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, mock.batches, 1)

	// Passages never go through the cache
	_, err = e.EncodePassage(context.Background(), "same question")
	require.NoError(t, err)
	assert.Len(t, mock.batches, 2)
}

func TestEmbedder_TimeoutPerCall(t *testing.T) {
	mock := &mockProvider{
		embedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			select {
			case <-time.After(time.Second):
				return [][]float32{{1}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	e, err := NewEmbedder(mock, EmbedderOptions{BatchSize: 1, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Embed(context.Background(), []string{"slow"}, core.InputDocument)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline"))
}

func TestEmbedder_Identity(t *testing.T) {
	e, err := NewEmbedder(&mockProvider{identity: "ollama:nomic-embed-text"}, DefaultEmbedderOptions())
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "ollama:nomic-embed-text", e.Identity())
	assert.Equal(t, 32, e.BatchSize())
}

func TestNewEmbedder_RequiresProvider(t *testing.T) {
	_, err := NewEmbedder(nil, DefaultEmbedderOptions())
	assert.Error(t, err)
}
