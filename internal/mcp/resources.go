package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	uriSystems         = "kansoku://systems"
	uriThreadsOverview = "kansoku://threads/overview"
	uriTracePrefix     = "kansoku://trace/"
)

func (s *Server) registerResources() {
	// kansoku://systems: producing systems.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriSystems,
			"Systems",
			mcplib.WithResourceDescription("Systems that have submitted runs"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSystemsResource,
	)

	// kansoku://threads/overview: thread aggregates.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriThreadsOverview,
			"Threads",
			mcplib.WithResourceDescription("Conversation threads with run, trace and token totals"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleThreadsResource,
	)

	// kansoku://trace/{trace_id}: one trace's runs, compacted.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			uriTracePrefix+"{trace_id}",
			"Trace",
			mcplib.WithTemplateDescription("Runs of one trace, compacted"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleTraceResource,
	)
}

func (s *Server) handleSystemsResource(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	systems, err := s.querySvc.Systems(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: systems: %w", err)
	}
	return jsonResource(uriSystems, systems)
}

func (s *Server) handleThreadsResource(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	threads, err := s.querySvc.ThreadOverviews(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: threads: %w", err)
	}
	return jsonResource(uriThreadsOverview, threads)
}

func (s *Server) handleTraceResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	traceID, err := parseTraceURI(uri)
	if err != nil {
		return nil, err
	}
	runs, err := s.querySvc.TraceRuns(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("mcp: trace %s: %w", traceID, err)
	}
	return jsonResource(uri, map[string]any{
		"trace_id": traceID,
		"runs":     compactRuns(runs),
	})
}

// parseTraceURI extracts the trace id from kansoku://trace/{trace_id}.
func parseTraceURI(uri string) (string, error) {
	traceID, ok := strings.CutPrefix(uri, uriTracePrefix)
	if !ok {
		return "", fmt.Errorf("mcp: invalid trace URI: %s", uri)
	}
	if traceID == "" || strings.Contains(traceID, "/") {
		return "", fmt.Errorf("mcp: invalid trace URI: empty or nested trace_id in %s", uri)
	}
	return traceID, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
