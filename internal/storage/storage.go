// Package storage exposes the two store roles (documents, and memory with
// sessions) behind interfaces, and opens them through a process-wide handle
// manager so every path has at most one live instance.
package storage

import (
	"context"

	"github.com/sandevgo/tuskmem/internal/core"
)

type Backend string

const (
	// BackendSQLiteVec keeps rows and vectors in one SQLite file (sqlite-vec).
	BackendSQLiteVec Backend = "sqlite-vec"
	// BackendChromem keeps rows in pure-Go SQLite and vectors in chromem-go.
	BackendChromem Backend = "chromem"
)

type Options struct {
	Path    string
	Backend Backend
	// Dimensions the caller will write; 0 uses the recorded width.
	Dimensions int
	// AllowDeferred opens stores with no recorded width (session-only use).
	AllowDeferred bool
}

type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
	Dimensions() int
	EnsureDimensions(ctx context.Context, d int) error
	Wipe(ctx context.Context) error
	Close() error
}

type DocumentStore interface {
	MetaStore
	AddChunks(ctx context.Context, chunks []core.Chunk, vectors [][]float32) error
	ReplaceSource(ctx context.Context, meta core.SourceMetadata, chunks []core.Chunk, vectors [][]float32) error
	Query(ctx context.Context, vector []float32, k int, filter string) ([]core.ChunkHit, error)
	ListSources(ctx context.Context) ([]string, error)
	GetSourceMetadata(ctx context.Context, key string) (core.SourceMetadata, error)
	ListSourceMetadata(ctx context.Context) ([]core.SourceMetadata, error)
	UpsertSourceMetadata(ctx context.Context, meta core.SourceMetadata) error
	DeleteSource(ctx context.Context, key string) error
}

type SessionStore interface {
	SaveSession(ctx context.Context, rec core.SessionRecord) error
	LoadLatestSession(ctx context.Context, owner string) (core.SessionRecord, error)
	LoadSession(ctx context.Context, owner, sessionID string) (core.SessionRecord, error)
	ListSessions(ctx context.Context, owner string) ([]core.SessionSummary, error)
	DeleteSession(ctx context.Context, owner, sessionID string) error
	PruneSessions(ctx context.Context, owner string, keep int) (int, error)
}

type MemoryStore interface {
	AddMemory(ctx context.Context, m core.Memory, vector []float32) (core.Memory, error)
	SearchMemories(ctx context.Context, vector []float32, k int, filter core.MemoryFilter) ([]core.MemoryHit, error)
	ListMemories(ctx context.Context, filter core.MemoryFilter, limit int) ([]core.Memory, error)
	CountMemories(ctx context.Context, t core.MemoryType) (int, error)
	PruneMemories(ctx context.Context, t core.MemoryType, keep int) (int, error)
	MarkConsolidated(ctx context.Context, ids []string) error
	UnconsolidatedEpisodes(ctx context.Context, limit int) ([]core.Memory, error)
	DeleteMemory(ctx context.Context, id string) error
}

// MemoryStoreBase is the agent-facing store: sessions plus long-term memory.
type MemoryStoreBase interface {
	MetaStore
	SessionStore
	MemoryStore
}

// OpenDocumentStore opens (or shares) the document store at opts.Path.
func OpenDocumentStore(ctx context.Context, opts Options) (DocumentStore, error) {
	h, err := defaultManager.Acquire(ctx, opts)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// OpenMemoryStore opens (or shares) the memory store at opts.Path.
func OpenMemoryStore(ctx context.Context, opts Options) (MemoryStoreBase, error) {
	h, err := defaultManager.Acquire(ctx, opts)
	if err != nil {
		return nil, err
	}
	return h, nil
}
