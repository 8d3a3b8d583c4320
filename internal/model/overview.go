package model

import "time"

// TraceOverview aggregates the runs sharing one trace_id.
type TraceOverview struct {
	TraceID         string     `json:"trace_id"`
	ThreadID        *string    `json:"thread_id,omitempty"`
	Name            *string    `json:"name,omitempty"` // root run's name
	TotalRuns       int64      `json:"total_runs"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	RunTypes        []string   `json:"run_types"`
	Systems         []string   `json:"systems"`
	TotalTokensSum  int64      `json:"total_tokens_sum"`
	FeedbackCount   int64      `json:"feedback_count"`
	AttachmentCount int64      `json:"attachment_count"`
}

// ThreadOverview aggregates the runs sharing one thread_id, usually spanning
// several traces.
type ThreadOverview struct {
	ThreadID        string     `json:"thread_id"`
	TotalRuns       int64      `json:"total_runs"`
	TotalTraces     int64      `json:"total_traces"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	RunTypes        []string   `json:"run_types"`
	Systems         []string   `json:"systems"`
	TotalTokensSum  int64      `json:"total_tokens_sum"`
	FeedbackCount   int64      `json:"feedback_count"`
	AttachmentCount int64      `json:"attachment_count"`
}
