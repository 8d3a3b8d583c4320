package model

import (
	"encoding/json"
	"time"
)

// Feedback is an append-only score attached to a run. TraceID is
// denormalized from the producer's payload, never looked up.
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

// FeedbackPayload is the body of a feedback.<runId> part.
type FeedbackPayload struct {
	ID       string          `json:"id,omitempty"`
	TraceID  string          `json:"trace_id"`
	Key      *string         `json:"key,omitempty"`
	Score    *float64        `json:"score,omitempty"`
	Comment  *string         `json:"comment,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Attachment describes a file uploaded alongside a run. The bytes live
// wherever Location points; only metadata is stored here.
type Attachment struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Location    string    `json:"location"`
	CreatedAt   time.Time `json:"created_at"`
}

// AttachmentMeta is the metadata recorded for a new attachment.
type AttachmentMeta struct {
	Filename    string
	ContentType string
	Size        int64
	Location    string
}
