package mcp

import (
	"context"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kansoku/internal/tracestore"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

func (s *Server) registerTools() {
	// kansoku_traces: newest traces, optionally for one system.
	s.mcpServer.AddTool(
		mcplib.NewTool("kansoku_traces",
			mcplib.WithDescription(`List recorded traces, newest first.

WHEN TO USE: To find out what pipelines have been running, or to locate a
trace to inspect. Each entry aggregates every run sharing a trace_id:
run count, time span, run types, systems, token total, and how much
feedback and how many attachments its runs collected.

Follow up with kansoku_trace to see the individual runs.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("system",
				mcplib.Description("Only traces containing a run from this system. Use kansoku_systems to list names."),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of traces to return"),
				mcplib.Min(1),
				mcplib.Max(maxListLimit),
				mcplib.DefaultNumber(defaultListLimit),
			),
		),
		s.handleTraces,
	)

	// kansoku_trace: every run of one trace.
	s.mcpServer.AddTool(
		mcplib.NewTool("kansoku_trace",
			mcplib.WithDescription(`Show the runs that make up one trace, in start order.

By default each run is compacted: large inputs and outputs are cut to a
preview and bookkeeping fields are dropped. Pass compact=false for the
stored payloads verbatim.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("trace_id",
				mcplib.Description("The trace to show"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("compact",
				mcplib.Description("Truncate payloads and drop bookkeeping fields"),
				mcplib.DefaultBool(true),
			),
		),
		s.handleTrace,
	)

	// kansoku_threads: conversation threads.
	s.mcpServer.AddTool(
		mcplib.NewTool("kansoku_threads",
			mcplib.WithDescription(`List conversation threads, most recently active first.

A thread groups the traces of one conversation. Each entry reports how
many traces and runs it spans and its token total.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of threads to return"),
				mcplib.Min(1),
				mcplib.Max(maxListLimit),
				mcplib.DefaultNumber(defaultListLimit),
			),
		),
		s.handleThreads,
	)

	// kansoku_thread: one thread's traces.
	s.mcpServer.AddTool(
		mcplib.NewTool("kansoku_thread",
			mcplib.WithDescription(`Show the traces belonging to one conversation thread.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("thread_id",
				mcplib.Description("The thread to show"),
				mcplib.Required(),
			),
		),
		s.handleThread,
	)

	// kansoku_run: one run with its feedback and attachments.
	s.mcpServer.AddTool(
		mcplib.NewTool("kansoku_run",
			mcplib.WithDescription(`Show one run in full, with the feedback and attachment metadata recorded against it.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("The run to show"),
				mcplib.Required(),
			),
		),
		s.handleRun,
	)

	// kansoku_systems: producing systems.
	s.mcpServer.AddTool(
		mcplib.NewTool("kansoku_systems",
			mcplib.WithDescription(`List the systems that have submitted runs.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleSystems,
	)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	}
	return n
}

func (s *Server) handleTraces(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	system := request.GetString("system", "")
	limit := clampLimit(request.GetInt("limit", defaultListLimit))

	traces, err := s.querySvc.Traces(ctx, system)
	if err != nil {
		s.logger.Error("mcp: list traces", "error", err)
		return errorResult(fmt.Sprintf("failed to list traces: %v", err)), nil
	}
	total := len(traces)
	if len(traces) > limit {
		traces = traces[:limit]
	}
	return jsonResult(map[string]any{
		"traces": traces,
		"total":  total,
	})
}

func (s *Server) handleTrace(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	if traceID == "" {
		return errorResult("trace_id is required"), nil
	}

	runs, err := s.querySvc.TraceRuns(ctx, traceID)
	if err != nil {
		s.logger.Error("mcp: trace runs", "trace_id", traceID, "error", err)
		return errorResult(fmt.Sprintf("failed to get trace: %v", err)), nil
	}
	if len(runs) == 0 {
		return errorResult(fmt.Sprintf("no runs recorded for trace %q", traceID)), nil
	}

	var out any = runs
	if request.GetBool("compact", true) {
		out = compactRuns(runs)
	}
	return jsonResult(map[string]any{
		"trace_id": traceID,
		"runs":     out,
		"total":    len(runs),
	})
}

func (s *Server) handleThreads(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := clampLimit(request.GetInt("limit", defaultListLimit))

	threads, err := s.querySvc.ThreadOverviews(ctx)
	if err != nil {
		s.logger.Error("mcp: list threads", "error", err)
		return errorResult(fmt.Sprintf("failed to list threads: %v", err)), nil
	}
	total := len(threads)
	if len(threads) > limit {
		threads = threads[:limit]
	}
	return jsonResult(map[string]any{
		"threads": threads,
		"total":   total,
	})
}

func (s *Server) handleThread(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	threadID := request.GetString("thread_id", "")
	if threadID == "" {
		return errorResult("thread_id is required"), nil
	}

	traces, err := s.querySvc.ThreadTraces(ctx, threadID)
	if err != nil {
		s.logger.Error("mcp: thread traces", "thread_id", threadID, "error", err)
		return errorResult(fmt.Sprintf("failed to get thread: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"thread_id": threadID,
		"traces":    traces,
		"total":     len(traces),
	})
}

func (s *Server) handleRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return errorResult("run_id is required"), nil
	}

	run, err := s.querySvc.Run(ctx, runID)
	if errors.Is(err, tracestore.ErrNotFound) {
		return errorResult(fmt.Sprintf("run %q not found", runID)), nil
	}
	if err != nil {
		s.logger.Error("mcp: get run", "run_id", runID, "error", err)
		return errorResult(fmt.Sprintf("failed to get run: %v", err)), nil
	}
	feedback, err := s.querySvc.RunFeedback(ctx, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list feedback: %v", err)), nil
	}
	attachments, err := s.querySvc.RunAttachments(ctx, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list attachments: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"run":         run,
		"feedback":    feedback,
		"attachments": attachments,
	})
}

func (s *Server) handleSystems(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	systems, err := s.querySvc.Systems(ctx)
	if err != nil {
		s.logger.Error("mcp: list systems", "error", err)
		return errorResult(fmt.Sprintf("failed to list systems: %v", err)), nil
	}
	return jsonResult(map[string]any{"systems": systems})
}
