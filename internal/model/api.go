package model

import (
	"encoding/json"
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeTooLarge      = "PAYLOAD_TOO_LARGE"
)

// BatchRequest is the body of POST /runs/batch. Each element is a full run
// object; post entries without an id are assigned one.
type BatchRequest struct {
	Post  []map[string]json.RawMessage `json:"post,omitempty"`
	Patch []map[string]json.RawMessage `json:"patch,omitempty"`
}

// Operation names used on the wire.
const (
	OpPost       = "post"
	OpPatch      = "patch"
	OpFeedback   = "feedback"
	OpAttachment = "attachment"
)

// AcceptedRecord echoes one applied operation.
type AcceptedRecord struct {
	Operation string `json:"operation"`
	RunID     string `json:"run_id"`
	ID        string `json:"id,omitempty"` // feedback or attachment id
}

// RecordError reports one operation that was not applied.
type RecordError struct {
	Part      string `json:"part,omitempty"`
	Operation string `json:"operation,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	Error     string `json:"error"`
}

// IngestResponse is returned by both ingestion endpoints. Success is false
// whenever any record failed; accepted records are still persisted.
type IngestResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Accepted []AcceptedRecord `json:"accepted"`
	Errors   []RecordError    `json:"errors"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Storage  string `json:"storage"`
	Database string `json:"database"`
	Uptime   int64  `json:"uptime_seconds"`
}
