package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sandevgo/tuskmem/internal/config"
	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/pkg/log"
)

// NewChatProvider creates the AIProvider used for consolidation.
func NewChatProvider(ctx context.Context, cfg *config.LLMConfig) (core.AIProvider, error) {
	log.FromCtx(ctx).Info().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Msg("starting llm provider")

	switch cfg.Provider {
	case "openai":
		return NewOpenAIChat(cfg.OpenAIAPIKey, cfg.Model), nil
	case "anthropic":
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.Model, option.WithMaxRetries(2)), nil
	case "openrouter":
		return NewOpenRouterChat(cfg.OpenRouterAPIKey, cfg.Model), nil
	case "ollama":
		return NewOllamaChat(cfg.OllamaBaseURL, cfg.OllamaAPIKey, cfg.Model), nil
	case "custom":
		return NewOpenAICompatible(OpenAICompatibleConfig{
			BaseURL:    cfg.CustomOpenAIBaseURL,
			APIKey:     cfg.CustomOpenAIAPIKey,
			Model:      cfg.Model,
			AuthHeader: "Authorization",
			AuthPrefix: "Bearer ",
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// EmbeddingProvider is what the factory hands out: an embedder that can
// name its vector space.
type EmbeddingProvider interface {
	core.Embedder
	core.EmbeddingIdentity
}

func NewEmbeddingProvider(ctx context.Context, cfg *config.EmbeddingConfig) (EmbeddingProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.FromCtx(ctx).Debug().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Str("endpoint", cfg.Endpoint).
		Msg("starting embedding provider")

	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(OpenAIEmbedderConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxRetries: 2,
		}), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.Endpoint, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", core.ErrEmbeddingConfig, cfg.Provider)
	}
}
