package mcp

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/ashita-ai/kansoku/internal/model"
)

// maxCompactPayload bounds each JSON payload (inputs, outputs, error) in a
// compact run. Agents rarely need whole prompts to orient themselves.
const maxCompactPayload = 400

// compactRun returns a minimal representation of a run for MCP responses.
// Drops serialized, events and extra, and truncates large payloads to a
// preview string.
func compactRun(r model.Run) map[string]any {
	m := map[string]any{
		"id":           r.ID,
		"name":         r.Name,
		"run_type":     r.RunType,
		"total_tokens": r.TotalTokens,
	}
	if r.TraceID != nil {
		m["trace_id"] = *r.TraceID
	}
	if r.ThreadID != nil {
		m["thread_id"] = *r.ThreadID
	}
	if r.ParentRunID != nil && *r.ParentRunID != "" {
		m["parent_run_id"] = *r.ParentRunID
	}
	if r.System != nil {
		m["system"] = *r.System
	}
	if r.StartTime != nil {
		m["start_time"] = r.StartTime
	}
	if r.EndTime != nil {
		m["end_time"] = r.EndTime
		if r.StartTime != nil {
			m["duration_ms"] = r.EndTime.Sub(*r.StartTime).Milliseconds()
		}
	}
	if p := payloadPreview(r.Inputs); p != "" {
		m["inputs"] = p
	}
	if p := payloadPreview(r.Outputs); p != "" {
		m["outputs"] = p
	}
	if p := payloadPreview(r.Error); p != "" {
		m["error"] = p
	}
	return m
}

func compactRuns(runs []model.Run) []map[string]any {
	out := make([]map[string]any, 0, len(runs))
	for _, r := range runs {
		out = append(out, compactRun(r))
	}
	return out
}

// payloadPreview renders raw JSON as a bounded string. A JSON string is
// unquoted first so plain-text errors read naturally.
func payloadPreview(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return truncate(s, maxCompactPayload)
	}
	return truncate(string(raw), maxCompactPayload)
}

// truncate shortens s to at most maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
