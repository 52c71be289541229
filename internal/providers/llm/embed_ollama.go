package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sandevgo/tuskmem/internal/core"
)

const DefaultOllamaURL = "http://localhost:11434"

// OllamaEmbedder uses the native /api/embed endpoint, which accepts a batch.
type OllamaEmbedder struct {
	baseProvider
	identity string
}

func NewOllamaEmbedder(baseURL, apiKey, model string) *OllamaEmbedder {
	identity := Identity("ollama", model, baseURL)
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaEmbedder{
		baseProvider: newBaseProvider(baseURL, apiKey, model),
		identity:     identity,
	}
}

func (o *OllamaEmbedder) Identity() string {
	return o.identity
}

func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string, _ core.InputType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload := map[string]any{
		"model": o.model,
		"input": texts,
	}
	headers := map[string]string{}
	if o.apiKey != "" {
		headers["Authorization"] = "Bearer " + o.apiKey
	}

	resp, err := o.doRequest(ctx, http.MethodPost, "/api/embed", payload, headers)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	var result struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d texts", len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}
