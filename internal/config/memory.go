package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/tuskmem/pkg/log"
)

type MemoryConfig struct {
	AutoCapture bool `env:"TUSKMEM_MEMORY_AUTO_CAPTURE" envDefault:"true"`

	// Per-type retention, applied after every write.
	KeepEpisodic   int `env:"TUSKMEM_MEMORY_KEEP_EPISODIC" envDefault:"500"`
	KeepSemantic   int `env:"TUSKMEM_MEMORY_KEEP_SEMANTIC" envDefault:"1000"`
	KeepProcedural int `env:"TUSKMEM_MEMORY_KEEP_PROCEDURAL" envDefault:"200"`

	ConsolidateBatch    int           `env:"TUSKMEM_MEMORY_CONSOLIDATE_BATCH" envDefault:"20"`
	ConsolidateInterval time.Duration `env:"TUSKMEM_MEMORY_CONSOLIDATE_INTERVAL" envDefault:"1h"`

	RecallLimit int `env:"TUSKMEM_MEMORY_RECALL_LIMIT" envDefault:"5"`
}

func LoadMemoryConfig() (*MemoryConfig, error) {
	c := &MemoryConfig{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse memory config: %w", err)
	}
	if c.KeepEpisodic <= 0 || c.KeepSemantic <= 0 || c.KeepProcedural <= 0 {
		return nil, fmt.Errorf("memory keep counts must be positive")
	}
	if c.ConsolidateBatch <= 0 {
		return nil, fmt.Errorf("consolidation batch must be positive, got %d", c.ConsolidateBatch)
	}
	return c, nil
}

// DefaultMemoryConfig is the configuration with every envDefault applied
// and the process environment ignored.
func DefaultMemoryConfig() *MemoryConfig {
	c, err := env.ParseAsWithOptions[MemoryConfig](env.Options{Environment: map[string]string{}})
	if err != nil {
		panic(fmt.Sprintf("invalid memory config defaults: %v", err))
	}
	return &c
}

func NewMemoryConfig(ctx context.Context) *MemoryConfig {
	c, err := LoadMemoryConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Memory config")
	}
	return c
}
