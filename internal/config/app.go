package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/tuskmem/pkg/log"
)

const (
	DocumentStoreFile = "documents.db"
	MemoryStoreFile   = "memory.db"
)

type AppConfig struct {
	RuntimePath string `env:"TUSKMEM_RUNTIME_PATH" envDefault:".tuskmem"`
	// Owner scopes stores and sessions; one pair of stores per owner.
	Owner string `env:"TUSKMEM_OWNER" envDefault:"default"`
	// Backend selects the vector store implementation.
	Backend string `env:"TUSKMEM_BACKEND" envDefault:"sqlite-vec"`
}

func LoadAppConfig() (*AppConfig, error) {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse app config: %w", err)
	}
	if c.Owner == "" || filepath.Base(c.Owner) != c.Owner {
		return nil, fmt.Errorf("invalid owner name %q", c.Owner)
	}
	return c, nil
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c, err := LoadAppConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse App config")
	}
	return c
}

// GetRuntimePath resolves relative runtime paths against the home directory.
func (c AppConfig) GetRuntimePath() string {
	return resolveRuntimePath(c.RuntimePath)
}

func (c AppConfig) GetOwnerPath() string {
	return filepath.Join(c.GetRuntimePath(), c.Owner)
}

func (c AppConfig) GetDocumentStorePath() string {
	return filepath.Join(c.GetOwnerPath(), DocumentStoreFile)
}

func (c AppConfig) GetMemoryStorePath() string {
	return filepath.Join(c.GetOwnerPath(), MemoryStoreFile)
}

func (c AppConfig) GetEnvPath() string {
	return filepath.Join(c.GetRuntimePath(), ".env")
}
