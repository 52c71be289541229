package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/service/memory"
	"github.com/sandevgo/tuskmem/internal/service/retrieval"
	"github.com/sandevgo/tuskmem/internal/service/session"
)

const searchDocumentsSchema = `
{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "What to look for, in natural language"
    },
    "limit": {
      "type": "integer",
      "description": "Maximum number of chunks to return (default 5)"
    },
    "source": {
      "type": "string",
      "description": "Restrict to one source path or URL; '*' and '?' act as wildcards"
    }
  },
  "required": ["query"]
}`

const rememberSchema = `
{
  "type": "object",
  "properties": {
    "content": {
      "type": "string",
      "description": "The fact or rule to remember, self-contained"
    },
    "memory_type": {
      "type": "string",
      "enum": ["semantic", "procedural", "episodic"],
      "description": "semantic for facts, procedural for rules of behaviour (default semantic)"
    },
    "category": {
      "type": "string",
      "description": "Short lower-case label, e.g. preference, project, instruction"
    }
  },
  "required": ["content"]
}`

const recallSchema = `
{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "What to recall"
    },
    "limit": {
      "type": "integer",
      "description": "Maximum number of memories to return"
    },
    "memory_type": {
      "type": "string",
      "enum": ["semantic", "procedural", "episodic"]
    }
  },
  "required": ["query"]
}`

const listSessionsSchema = `{"type": "object", "properties": {}}`

type Handler func(ctx context.Context, args json.RawMessage) (string, error)

type Definition struct {
	Description string
	Schema      string
	Handler     Handler
}

// Tools exposes documents, memory and sessions to an agent. Nil
// dependencies leave their tools out.
type Tools struct {
	docs     *retrieval.Searcher
	mem      *memory.Memory
	sessions *session.Manager
}

func NewTools(docs *retrieval.Searcher, mem *memory.Memory, sessions *session.Manager) *Tools {
	return &Tools{
		docs:     docs,
		mem:      mem,
		sessions: sessions,
	}
}

func (t *Tools) GetDefinitions() map[string]Definition {
	defs := make(map[string]Definition)
	if t.docs != nil {
		defs["search_documents"] = Definition{
			Description: "Search ingested reference documents and return the most relevant passages with their source.",
			Schema:      searchDocumentsSchema,
			Handler:     t.SearchDocuments,
		}
	}
	if t.mem != nil {
		defs["remember"] = Definition{
			Description: "Store a durable fact or rule in long-term memory.",
			Schema:      rememberSchema,
			Handler:     t.Remember,
		}
		defs["recall"] = Definition{
			Description: "Search long-term memory for facts, rules and past conversations related to a query.",
			Schema:      recallSchema,
			Handler:     t.Recall,
		}
	}
	if t.sessions != nil {
		defs["list_sessions"] = Definition{
			Description: "List saved conversation sessions, most recent first.",
			Schema:      listSessionsSchema,
			Handler:     t.ListSessions,
		}
	}
	return defs
}

type searchInput struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
	Source string `json:"source"`
}

func (t *Tools) SearchDocuments(ctx context.Context, args json.RawMessage) (string, error) {
	var input searchInput
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	hits, err := t.docs.Search(ctx, input.Query, input.Limit, input.Source)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "No matching documents.", nil
	}

	var sb strings.Builder
	for i, h := range hits {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%d] %s (distance %.4f)\n%s\n", i+1, h.Source, h.Distance, h.Text)
	}
	return sb.String(), nil
}

type rememberInput struct {
	Content  string `json:"content"`
	Type     string `json:"memory_type"`
	Category string `json:"category"`
}

func (t *Tools) Remember(ctx context.Context, args json.RawMessage) (string, error) {
	var input rememberInput
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Type == "" {
		input.Type = string(core.MemorySemantic)
	}
	mt, err := core.ParseMemoryType(input.Type)
	if err != nil {
		return "", err
	}

	m, err := t.mem.Remember(ctx, core.Memory{
		Content:  input.Content,
		Category: input.Category,
		Type:     mt,
		Metadata: map[string]any{"source": "tool"},
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Stored %s memory %s", m.Type, m.ID), nil
}

type recallInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
	Type  string `json:"memory_type"`
}

func (t *Tools) Recall(ctx context.Context, args json.RawMessage) (string, error) {
	var input recallInput
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	var filter core.MemoryFilter
	if input.Type != "" {
		mt, err := core.ParseMemoryType(input.Type)
		if err != nil {
			return "", err
		}
		filter.Type = mt
	}

	hits, err := t.mem.Recall(ctx, input.Query, input.Limit, filter)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "No matching memories.", nil
	}

	var sb strings.Builder
	for _, h := range hits {
		label := string(h.Type)
		if h.Category != "" {
			label += "/" + h.Category
		}
		fmt.Fprintf(&sb, "- [%s] %s (%s)\n", label, h.Content, h.CreatedAt.Format(time.DateOnly))
	}
	return sb.String(), nil
}

func (t *Tools) ListSessions(ctx context.Context, _ json.RawMessage) (string, error) {
	list, err := t.sessions.List(ctx)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "No saved sessions.", nil
	}

	var sb strings.Builder
	for _, s := range list {
		fmt.Fprintf(&sb, "%s\t%d messages\t%s\n", s.SessionID, s.MessageCount, s.UpdatedAt.Format(time.DateTime))
	}
	return sb.String(), nil
}
