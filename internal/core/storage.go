package core

import "time"

// Store meta keys.
const (
	MetaDimensions        = "dimensions"
	MetaEmbeddingIdentity = "embedding_model_identity"
)

type Chunk struct {
	Text    string `json:"text"`
	Source  string `json:"source"`
	Ordinal int    `json:"ordinal"`
}

type ChunkHit struct {
	Chunk
	Distance float32 `json:"distance"`
}

type SourceMetadata struct {
	SourceKey    string     `json:"source_key"`
	ContentHash  string     `json:"content_hash"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	IngestedAt   time.Time  `json:"ingested_at"`
	ChunkCount   int        `json:"chunk_count"`
}

type SessionRecord struct {
	SessionID string    `json:"session_id"`
	Owner     string    `json:"owner"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Owner        string    `json:"owner"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}
