// Package session persists an owner's conversation history between agent
// runs and hands back a bounded, turn-aligned window of it.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sandevgo/tuskmem/internal/config"
	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/storage"
	"github.com/sandevgo/tuskmem/pkg/log"
)

type Manager struct {
	cfg   *config.SessionConfig
	store storage.SessionStore
	owner string
}

func NewManager(cfg *config.SessionConfig, store storage.SessionStore, owner string) *Manager {
	return &Manager{
		cfg:   cfg,
		store: store,
		owner: owner,
	}
}

func NewSessionID() string {
	return uuid.NewString()
}

// Save overwrites the stored history of sessionID and prunes the owner's
// oldest sessions. It never fails the caller; errors are logged.
func (m *Manager) Save(ctx context.Context, sessionID string, msgs []core.Message) {
	logger := log.FromCtx(ctx).With().Str("component", "session").Str("session", sessionID).Logger()

	rec := core.SessionRecord{
		SessionID: sessionID,
		Owner:     m.owner,
		Messages:  Window(msgs, m.cfg.MaxStoredMessages),
	}
	if err := m.store.SaveSession(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("failed to save session")
		return
	}

	n, err := m.store.PruneSessions(ctx, m.owner, m.cfg.KeepSessions)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to prune sessions")
		return
	}
	if n > 0 {
		logger.Debug().Int("count", n).Msg("pruned old sessions")
	}
}

// Load returns the window of sessionID, or of the most recent session when
// sessionID is empty. An unknown session yields no messages and no error.
func (m *Manager) Load(ctx context.Context, sessionID string) (core.SessionRecord, error) {
	var (
		rec core.SessionRecord
		err error
	)
	if sessionID == "" {
		rec, err = m.store.LoadLatestSession(ctx, m.owner)
	} else {
		rec, err = m.store.LoadSession(ctx, m.owner, sessionID)
	}
	if errors.Is(err, core.ErrNotFound) {
		return core.SessionRecord{SessionID: sessionID, Owner: m.owner}, nil
	}
	if err != nil {
		return core.SessionRecord{}, fmt.Errorf("load session: %w", err)
	}

	rec.Messages = Window(rec.Messages, m.cfg.WindowSize)
	return rec, nil
}

// Full returns the complete stored history of sessionID, or of the most
// recent session when sessionID is empty.
func (m *Manager) Full(ctx context.Context, sessionID string) (core.SessionRecord, error) {
	if sessionID == "" {
		return m.store.LoadLatestSession(ctx, m.owner)
	}
	return m.store.LoadSession(ctx, m.owner, sessionID)
}

func (m *Manager) List(ctx context.Context) ([]core.SessionSummary, error) {
	return m.store.ListSessions(ctx, m.owner)
}

func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.store.DeleteSession(ctx, m.owner, sessionID)
}

// Prune keeps the configured number of most recently active sessions.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	return m.store.PruneSessions(ctx, m.owner, m.cfg.KeepSessions)
}

// Window returns at most the last n messages, moved forward past any
// leading model output or tool results so it opens on a user or system
// message. It returns nothing when no such message is left.
func Window(msgs []core.Message, n int) []core.Message {
	if n <= 0 || len(msgs) == 0 {
		return nil
	}
	start := max(len(msgs)-n, 0)
	for start < len(msgs) && !opensTurn(msgs[start]) {
		start++
	}
	if start == len(msgs) {
		return nil
	}
	out := make([]core.Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}

// opensTurn rejects tool results too: without the assistant call that
// produced them they are orphans.
func opensTurn(m core.Message) bool {
	return m.IsRequest() && m.Role != core.RoleTool
}
