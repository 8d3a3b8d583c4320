package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// investigate-trace: walks an agent through diagnosing one trace.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("investigate-trace",
			mcplib.WithPromptDescription("Diagnose what happened in one trace: slow steps, errors, token spend"),
			mcplib.WithArgument("trace_id",
				mcplib.ArgumentDescription("The trace to investigate"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleInvestigateTracePrompt,
	)

	// review-thread: summarizes one conversation thread.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("review-thread",
			mcplib.WithPromptDescription("Summarize a conversation thread across its traces"),
			mcplib.WithArgument("thread_id",
				mcplib.ArgumentDescription("The thread to review"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleReviewThreadPrompt,
	)
}

func (s *Server) handleInvestigateTracePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	traceID := request.Params.Arguments["trace_id"]
	if traceID == "" {
		return nil, fmt.Errorf("trace_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Investigate trace %s", traceID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Investigate trace %[1]s.

1. CALL kansoku_trace with trace_id="%[1]s" to list its runs.

2. BUILD the call tree from parent_run_id. The root run has no parent.

3. LOOK FOR:
   - runs with an error payload, and the first one in start order
   - the runs with the longest duration_ms
   - llm runs with the highest total_tokens

4. For any run that needs a closer look, CALL kansoku_run with its id to
   see full payloads and any feedback recorded against it.

5. REPORT what the trace did, where it spent time and tokens, and what
   went wrong if anything did.`, traceID),
				},
			},
		},
	}, nil
}

func (s *Server) handleReviewThreadPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	threadID := request.Params.Arguments["thread_id"]
	if threadID == "" {
		return nil, fmt.Errorf("thread_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Review thread %s", threadID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Review conversation thread %[1]s.

CALL kansoku_thread with thread_id="%[1]s". Each trace is one turn of the
conversation. Summarize the turns in order, note any turn whose trace
carries feedback, and call kansoku_trace on turns that look anomalous
(unusually many runs or tokens).`, threadID),
				},
			},
		},
	}, nil
}
