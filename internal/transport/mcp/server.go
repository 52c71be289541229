// Package mcp serves the memory layer to agents as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/pkg/log"
)

type Server struct {
	mcp *server.MCPServer
	in  io.Reader
	out io.Writer
}

func NewServer(tools *Tools) *Server {
	s := server.NewMCPServer(
		core.TuskName,
		core.TuskVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	defs := tools.GetDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := defs[name]
		tool := mcpproto.NewToolWithRawSchema(name, def.Description, json.RawMessage(def.Schema))
		s.AddTool(tool, wrap(name, def.Handler))
	}

	return &Server{mcp: s, in: os.Stdin, out: os.Stdout}
}

// MCP returns the underlying server, e.g. for in-process clients.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Start serves stdio until ctx is done or stdin closes.
func (s *Server) Start(ctx context.Context) error {
	log.FromCtx(ctx).Info().Msg("serving MCP over stdio")
	stdio := server.NewStdioServer(s.mcp)
	if err := stdio.Listen(ctx, s.in, s.out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}

// wrap turns a tool failure into an MCP error result so the agent sees it.
func wrap(name string, h Handler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		logger := log.FromCtx(ctx)

		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcpproto.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		logger.Info().Str("tool", name).RawJSON("args", args).Msg("executing tool")

		out, err := h(ctx, args)
		if err != nil {
			logger.Warn().Err(err).Str("tool", name).Msg("tool failed")
			return mcpproto.NewToolResultError(err.Error()), nil
		}
		return mcpproto.NewToolResultText(out), nil
	}
}
