package config

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/tuskmem/pkg/log"
)

type SessionConfig struct {
	// WindowSize is the number of messages Load returns at most.
	WindowSize        int `env:"TUSKMEM_SESSION_WINDOW" envDefault:"30"`
	MaxStoredMessages int `env:"TUSKMEM_SESSION_MAX_MESSAGES" envDefault:"200"`
	// KeepSessions per owner, oldest by activity are pruned after each save.
	KeepSessions int `env:"TUSKMEM_SESSION_KEEP" envDefault:"20"`
}

func LoadSessionConfig() (*SessionConfig, error) {
	c := &SessionConfig{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse session config: %w", err)
	}
	if c.WindowSize <= 0 || c.MaxStoredMessages <= 0 || c.KeepSessions <= 0 {
		return nil, fmt.Errorf("session limits must be positive")
	}
	return c, nil
}

func NewSessionConfig(ctx context.Context) *SessionConfig {
	c, err := LoadSessionConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Session config")
	}
	return c
}
