package core

import (
	"context"
	"fmt"
)

type AIProvider interface {
	Chat(ctx context.Context, history []Message, tools []Tool) (Message, error)
}

// InputType tells the embedding provider which side of a retrieval pair a
// text belongs to. Asymmetric models embed queries and documents differently.
type InputType string

const (
	InputQuery    InputType = "query"
	InputDocument InputType = "document"
)

// Embedder turns texts into vectors. All vectors returned by one Embedder
// have the same length.
type Embedder interface {
	Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error)
}

// EmbeddingIdentity names the (provider, model, endpoint) triple that produced
// a store's vectors.
type EmbeddingIdentity interface {
	Identity() string
}

func EmbedOne(ctx context.Context, e Embedder, text string, inputType InputType) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text}, inputType)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}
