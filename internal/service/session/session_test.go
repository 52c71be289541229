package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sandevgo/tuskmem/internal/config"
	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/storage"
	"github.com/sandevgo/tuskmem/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, cfg *config.SessionConfig, owner string) (*Manager, storage.MemoryStoreBase) {
	t.Helper()
	st, err := storage.OpenMemoryStore(context.Background(), storage.Options{
		Path:          test.StorePath(t, "memory.db"),
		AllowDeferred: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewManager(cfg, st, owner), st
}

func defaultConfig() *config.SessionConfig {
	return &config.SessionConfig{WindowSize: 4, MaxStoredMessages: 100, KeepSessions: 10}
}

// history builds turns of user -> assistant(tool call) -> tool -> assistant.
func history(turns int) []core.Message {
	var out []core.Message
	for i := range turns {
		out = append(out,
			core.Message{Role: core.RoleUser, Content: fmt.Sprintf("question %d", i)},
			core.Message{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: fmt.Sprintf("c%d", i), Type: "function"}}},
			core.Message{Role: core.RoleTool, ToolCallID: fmt.Sprintf("c%d", i), Content: "result"},
			core.Message{Role: core.RoleAssistant, Content: fmt.Sprintf("answer %d", i)},
		)
	}
	return out
}

func TestWindow_NeverOpensMidTurn(t *testing.T) {
	msgs := history(3)
	require.Len(t, msgs, 12)

	for n := 1; n <= 14; n++ {
		w := Window(msgs, n)
		assert.LessOrEqual(t, len(w), n)
		if len(w) == 0 {
			continue
		}
		assert.Equal(t, core.RoleUser, w[0].Role, "window %d", n)
		assert.Equal(t, msgs[len(msgs)-1], w[len(w)-1])
	}

	w := Window(msgs, 4)
	require.Len(t, w, 4)
	assert.Equal(t, "question 2", w[0].Content)

	// Boundary on a tool result moves forward to the next user message
	w = Window(msgs, 6)
	require.Len(t, w, 4)
	assert.Equal(t, "question 2", w[0].Content)

	assert.Empty(t, Window(msgs, 3))
	assert.Empty(t, Window(nil, 4))
	assert.Empty(t, Window(msgs, 0))
}

func TestWindow_SystemMessageOpensTurn(t *testing.T) {
	msgs := []core.Message{
		{Role: core.RoleUser, Content: "hi"},
		{Role: core.RoleAssistant, Content: "hello"},
		{Role: core.RoleSystem, Content: "reminder"},
		{Role: core.RoleUser, Content: "again"},
	}
	w := Window(msgs, 3)
	require.Len(t, w, 2)
	assert.Equal(t, core.RoleSystem, w[0].Role)
}

func TestSaveAndLoad(t *testing.T) {
	m, _ := newManager(t, defaultConfig(), "alice")
	ctx := context.Background()
	id := NewSessionID()

	m.Save(ctx, id, history(3))

	rec, err := m.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.SessionID)
	assert.Equal(t, "alice", rec.Owner)
	require.Len(t, rec.Messages, 4)
	assert.Equal(t, core.RoleUser, rec.Messages[0].Role)

	latest, err := m.Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, id, latest.SessionID)

	full, err := m.Full(ctx, id)
	require.NoError(t, err)
	assert.Len(t, full.Messages, 12)

	// Overwrite
	m.Save(ctx, id, history(1))
	full, err = m.Full(ctx, id)
	require.NoError(t, err)
	assert.Len(t, full.Messages, 4)
}

func TestLoad_UnknownSessionIsEmpty(t *testing.T) {
	m, _ := newManager(t, defaultConfig(), "alice")
	rec, err := m.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, rec.Messages)
	assert.Equal(t, "missing", rec.SessionID)
}

func TestSave_CapsStoredHistory(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxStoredMessages = 6
	m, _ := newManager(t, cfg, "alice")
	ctx := context.Background()

	m.Save(ctx, "s", history(3))
	full, err := m.Full(ctx, "s")
	require.NoError(t, err)
	require.Len(t, full.Messages, 4)
	assert.Equal(t, "question 2", full.Messages[0].Content)
}

func TestSave_PrunesOldSessions(t *testing.T) {
	cfg := defaultConfig()
	cfg.KeepSessions = 2
	m, st := newManager(t, cfg, "alice")
	other := NewManager(cfg, st, "bob")
	ctx := context.Background()

	other.Save(ctx, "bob-1", history(1))
	for i := range 4 {
		m.Save(ctx, fmt.Sprintf("s%d", i), history(1))
		time.Sleep(2 * time.Millisecond)
	}

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s3", list[0].SessionID)
	assert.Equal(t, "s2", list[1].SessionID)
	assert.Equal(t, 4, list[0].MessageCount)

	// Other owners are untouched
	bob, err := other.List(ctx)
	require.NoError(t, err)
	assert.Len(t, bob, 1)
}

func TestSave_FailureIsSwallowed(t *testing.T) {
	m, _ := newManager(t, defaultConfig(), "alice")
	assert.NotPanics(t, func() { m.Save(context.Background(), "", history(1)) })

	list, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteAndPrune(t *testing.T) {
	cfg := defaultConfig()
	m, _ := newManager(t, cfg, "alice")
	ctx := context.Background()

	m.Save(ctx, "a", history(1))
	m.Save(ctx, "b", history(1))
	require.NoError(t, m.Delete(ctx, "a"))
	assert.ErrorIs(t, m.Delete(ctx, "a"), core.ErrNotFound)

	m.Save(ctx, "c", history(1))
	cfg.KeepSessions = 1
	n, err := m.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
