// Package test holds doubles shared by package tests.
package test

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sandevgo/tuskmem/internal/core"
)

const DefaultDims = 16

// HashEmbedder returns deterministic unit vectors seeded by the text, so
// equal texts always embed identically.
type HashEmbedder struct {
	Dims int
	// Fail, when set, is consulted for every text; a non-nil error fails the
	// whole call.
	Fail func(text string) error

	mu    sync.Mutex
	calls [][]string
}

func NewHashEmbedder(dims int) *HashEmbedder {
	return &HashEmbedder{Dims: dims}
}

func (e *HashEmbedder) Embed(_ context.Context, texts []string, _ core.InputType) ([][]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), texts...))
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.Fail != nil {
			if err := e.Fail(t); err != nil {
				return nil, err
			}
		}
		out[i] = HashVector(t, e.Dims)
	}
	return out, nil
}

func (e *HashEmbedder) Identity() string {
	return "hash:test"
}

// Calls returns the batches passed to Embed so far.
func (e *HashEmbedder) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.calls...)
}

// HashVector is the vector HashEmbedder produces for text.
func HashVector(text string, dims int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		// LCG step
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(seed>>33)/float64(1<<31)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// ScriptedChat answers every Chat call with Reply, or Err when set.
type ScriptedChat struct {
	Reply string
	Err   error

	mu      sync.Mutex
	prompts [][]core.Message
}

func (c *ScriptedChat) Chat(_ context.Context, history []core.Message, _ []core.Tool) (core.Message, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, history)
	c.mu.Unlock()

	if c.Err != nil {
		return core.Message{}, c.Err
	}
	return core.Message{Role: core.RoleAssistant, Content: c.Reply}, nil
}

func (c *ScriptedChat) Prompts() [][]core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]core.Message(nil), c.prompts...)
}

var ErrInjected = errors.New("injected failure")

// StorePath returns a fresh store path inside a per-test temp dir.
func StorePath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store", name)
}
