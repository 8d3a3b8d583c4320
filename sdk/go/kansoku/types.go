package kansoku

import (
	"encoding/json"
	"time"
)

// RunInput is one run in a batch. On post, ID may be empty and the server
// assigns one. On patch, only the non-nil fields are applied.
type RunInput struct {
	ID          string     `json:"id,omitempty"`
	TraceID     *string    `json:"trace_id,omitempty"`
	ThreadID    *string    `json:"thread_id,omitempty"`
	ParentRunID *string    `json:"parent_run_id,omitempty"`
	Name        *string    `json:"name,omitempty"`
	RunType     *string    `json:"run_type,omitempty"`
	System      *string    `json:"system,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Inputs      any        `json:"inputs,omitempty"`
	Outputs     any        `json:"outputs,omitempty"`
	Events      any        `json:"events,omitempty"`
	Error       any        `json:"error,omitempty"`
	Extra       any        `json:"extra,omitempty"`
	Serialized  any        `json:"serialized,omitempty"`
	TotalTokens *int64     `json:"total_tokens,omitempty"`
}

// Batch is the body of POST /runs/batch.
type Batch struct {
	Post  []RunInput `json:"post,omitempty"`
	Patch []RunInput `json:"patch,omitempty"`
}

// FeedbackInput attaches a score or comment to a run. TraceID is required.
type FeedbackInput struct {
	RunID    string   `json:"-"`
	ID       string   `json:"id,omitempty"`
	TraceID  string   `json:"trace_id"`
	Key      *string  `json:"key,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Comment  *string  `json:"comment,omitempty"`
	Metadata any      `json:"metadata,omitempty"`
}

// AttachmentInput is a file uploaded against a run.
type AttachmentInput struct {
	RunID       string
	Filename    string
	ContentType string
	Data        []byte
}

// MultipartBatch is the body of POST /runs/multipart.
type MultipartBatch struct {
	Post        []RunInput
	Patch       []RunInput
	Feedback    []FeedbackInput
	Attachments []AttachmentInput
}

// AcceptedRecord reports one applied operation.
type AcceptedRecord struct {
	Operation string `json:"operation"`
	RunID     string `json:"run_id"`
	ID        string `json:"id,omitempty"`
}

// RecordError reports one operation that was not applied.
type RecordError struct {
	Part      string `json:"part,omitempty"`
	Operation string `json:"operation,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	Error     string `json:"error"`
}

// IngestResponse is returned by both ingestion endpoints. The request
// succeeds at the HTTP level even when individual records fail; check
// Success or Errors.
type IngestResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Accepted []AcceptedRecord `json:"accepted"`
	Errors   []RecordError    `json:"errors"`
}

// Run is a stored run.
type Run struct {
	ID          string          `json:"id"`
	TraceID     *string         `json:"trace_id,omitempty"`
	ThreadID    *string         `json:"thread_id,omitempty"`
	ParentRunID *string         `json:"parent_run_id,omitempty"`
	Name        string          `json:"name"`
	RunType     string          `json:"run_type"`
	System      *string         `json:"system,omitempty"`
	StartTime   *time.Time      `json:"start_time,omitempty"`
	EndTime     *time.Time      `json:"end_time,omitempty"`
	Inputs      json.RawMessage `json:"inputs,omitempty"`
	Outputs     json.RawMessage `json:"outputs,omitempty"`
	Events      json.RawMessage `json:"events,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	Extra       json.RawMessage `json:"extra,omitempty"`
	Serialized  json.RawMessage `json:"serialized,omitempty"`
	TotalTokens int64           `json:"total_tokens"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Feedback is a stored feedback record.
type Feedback struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	TraceID   string          `json:"trace_id"`
	Key       *string         `json:"key,omitempty"`
	Score     *float64        `json:"score,omitempty"`
	Comment   *string         `json:"comment,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Attachment is stored attachment metadata.
type Attachment struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Location    string    `json:"location"`
	CreatedAt   time.Time `json:"created_at"`
}

// TraceOverview aggregates the runs sharing a trace id.
type TraceOverview struct {
	TraceID         string     `json:"trace_id"`
	ThreadID        *string    `json:"thread_id,omitempty"`
	Name            *string    `json:"name,omitempty"`
	TotalRuns       int64      `json:"total_runs"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	RunTypes        []string   `json:"run_types"`
	Systems         []string   `json:"systems"`
	TotalTokensSum  int64      `json:"total_tokens_sum"`
	FeedbackCount   int64      `json:"feedback_count"`
	AttachmentCount int64      `json:"attachment_count"`
}

// ThreadOverview aggregates the traces sharing a thread id.
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

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Storage  string `json:"storage"`
	Database string `json:"database"`
	Uptime   int64  `json:"uptime_seconds"`
}

// String returns a pointer to s, for optional RunInput fields.
func String(s string) *string { return &s }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// Float64 returns a pointer to f.
func Float64(f float64) *float64 { return &f }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }

type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
