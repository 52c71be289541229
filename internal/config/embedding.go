package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/tuskmem/internal/core"
)

type EmbeddingConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "ollama".
	Provider string `env:"TUSKMEM_EMBEDDING_PROVIDER" envDefault:"ollama"`
	Model    string `env:"TUSKMEM_EMBEDDING_MODEL" envDefault:"nomic-embed-text"`
	Endpoint string `env:"TUSKMEM_EMBEDDING_ENDPOINT"`
	APIKey   string `env:"TUSKMEM_EMBEDDING_API_KEY"`
	// Dimensions asks models that support truncation for a shorter vector.
	Dimensions int `env:"TUSKMEM_EMBEDDING_DIMENSIONS"`

	BatchSize     int           `env:"TUSKMEM_EMBEDDING_BATCH_SIZE" envDefault:"32"`
	Timeout       time.Duration `env:"TUSKMEM_EMBEDDING_TIMEOUT" envDefault:"60s"`
	QueryPrefix   string        `env:"TUSKMEM_EMBEDDING_QUERY_PREFIX"`
	PassagePrefix string        `env:"TUSKMEM_EMBEDDING_PASSAGE_PREFIX"`
	CacheSize     int64         `env:"TUSKMEM_EMBEDDING_CACHE_SIZE" envDefault:"1024"`
}

func LoadEmbeddingConfig() (*EmbeddingConfig, error) {
	c := &EmbeddingConfig{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse embedding config: %w", err)
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.APIKey == "" && c.Provider == "openai" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return c, c.Validate()
}

func (c *EmbeddingConfig) Validate() error {
	if c.Provider == "" || c.Model == "" {
		return core.ErrEmbeddingConfig
	}
	switch c.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("%w: unknown provider %q", core.ErrEmbeddingConfig, c.Provider)
	}
	if c.Provider == "openai" && c.APIKey == "" && c.Endpoint == "" {
		return fmt.Errorf("%w: openai needs an API key", core.ErrEmbeddingConfig)
	}
	return nil
}
