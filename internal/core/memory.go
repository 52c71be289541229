package core

import (
	"fmt"
	"time"
)

type MemoryType string

const (
	MemoryEpisodic   MemoryType = "episodic"
	MemorySemantic   MemoryType = "semantic"
	MemoryProcedural MemoryType = "procedural"
)

var MemoryTypes = []MemoryType{MemoryEpisodic, MemorySemantic, MemoryProcedural}

func ParseMemoryType(s string) (MemoryType, error) {
	for _, t := range MemoryTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown memory type %q", s)
}

// Memory is a single long-term memory row. ID is a ULID assigned on insert.
type Memory struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Category       string         `json:"category"`
	Type           MemoryType     `json:"memory_type"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ConsolidatedAt *time.Time     `json:"consolidated_at,omitempty"`
}

type MemoryHit struct {
	Memory
	Distance float32 `json:"distance"`
}

// MemoryFilter narrows list and search calls. Zero values match everything.
type MemoryFilter struct {
	Type     MemoryType
	Category string
}

func (f MemoryFilter) IsZero() bool {
	return f.Type == "" && f.Category == ""
}
