// Package mcp implements the Model Context Protocol server for kansoku.
//
// The MCP surface is read-only: it exposes the same trace, thread and run
// views as the HTTP query endpoints so MCP-compatible agents can inspect
// what instrumented pipelines recorded. Ingestion stays on HTTP.
package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kansoku/internal/service/query"
)

// Server wraps the MCP server with kansoku's query service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	querySvc  *query.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, prompts
// and tools.
func New(querySvc *query.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		querySvc: querySvc,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kansoku",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithInstructions(`kansoku stores traces recorded by instrumented LLM pipelines.
A trace is every run sharing a trace_id; a thread groups traces of one conversation.
Start with kansoku_traces or kansoku_threads, then drill into kansoku_trace and kansoku_run.`),
	)

	s.registerResources()
	s.registerPrompts()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
