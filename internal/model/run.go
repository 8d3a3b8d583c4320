// Package model defines the core domain types for kansoku.
//
// Runs, feedback and attachments correspond directly to database tables.
// Traces and threads have no stored identity: TraceOverview and ThreadOverview
// are computed views over the runs that share an identifier.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Common run types emitted by instrumented pipelines. Any string is accepted.
const (
	RunTypeChain     = "chain"
	RunTypeLLM       = "llm"
	RunTypeTool      = "tool"
	RunTypeRetriever = "retriever"
	RunTypeEmbedding = "embedding"
	RunTypePrompt    = "prompt"
	RunTypeParser    = "parser"
)

// Run is one recorded unit of work. The JSON-valued fields are stored as
// text and returned verbatim.
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

// RunFields is a decoded post or patch payload. A nil pointer or nil raw
// message means the field was not supplied and must not be touched.
type RunFields struct {
	ID          string
	TraceID     *string
	ThreadID    *string
	ParentRunID *string
	Name        *string
	RunType     *string
	System      *string
	StartTime   *time.Time
	EndTime     *time.Time
	Inputs      json.RawMessage
	Outputs     json.RawMessage
	Events      json.RawMessage
	Error       json.RawMessage
	Extra       json.RawMessage
	Serialized  json.RawMessage

	// TotalTokens is an explicit override. When nil the count is derived
	// from Outputs.
	TotalTokens *int64
}

// Empty reports whether no updatable field is set.
func (f RunFields) Empty() bool {
	return f.TraceID == nil && f.ThreadID == nil && f.ParentRunID == nil &&
		f.Name == nil && f.RunType == nil && f.System == nil &&
		f.StartTime == nil && f.EndTime == nil &&
		f.Inputs == nil && f.Outputs == nil && f.Events == nil &&
		f.Error == nil && f.Extra == nil && f.Serialized == nil &&
		f.TotalTokens == nil
}

// MaxTokenCount bounds a single run's token count. Values above it lose
// precision in float64 JSON consumers.
const MaxTokenCount = 1 << 53

// TokenCount converts a decoded JSON number into a token count. Negative,
// fractional and out-of-range values are rejected.
func TokenCount(f float64) (int64, bool) {
	if math.IsNaN(f) || f < 0 || f > MaxTokenCount || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// Run field names as they appear on the wire.
const (
	FieldID          = "id"
	FieldTraceID     = "trace_id"
	FieldThreadID    = "thread_id"
	FieldParentRunID = "parent_run_id"
	FieldName        = "name"
	FieldRunType     = "run_type"
	FieldSystem      = "system"
	FieldStartTime   = "start_time"
	FieldEndTime     = "end_time"
	FieldInputs      = "inputs"
	FieldOutputs     = "outputs"
	FieldEvents      = "events"
	FieldError       = "error"
	FieldExtra       = "extra"
	FieldSerialized  = "serialized"
	FieldTotalTokens = "total_tokens"
)

var runFieldNames = map[string]bool{
	FieldID: true, FieldTraceID: true, FieldThreadID: true, FieldParentRunID: true,
	FieldName: true, FieldRunType: true, FieldSystem: true, FieldStartTime: true,
	FieldEndTime: true, FieldInputs: true, FieldOutputs: true, FieldEvents: true,
	FieldError: true, FieldExtra: true, FieldSerialized: true, FieldTotalTokens: true,
}

// IsRunField reports whether key names a run field.
func IsRunField(key string) bool {
	return runFieldNames[key]
}

// ParseRunFields converts a wire object into RunFields. Unknown keys are
// ignored. JSON null never clears a stored value, so null is treated as absent.
func ParseRunFields(obj map[string]json.RawMessage) (RunFields, error) {
	var f RunFields
	for key, raw := range obj {
		if isNull(raw) {
			continue
		}
		if err := f.Set(key, raw); err != nil {
			return RunFields{}, err
		}
	}
	return f, nil
}

// Set assigns one wire field. Unknown field names are ignored.
func (f *RunFields) Set(key string, raw json.RawMessage) error {
	var err error
	switch key {
	case FieldID:
		var s *string
		s, err = stringField(key, raw)
		if s != nil {
			f.ID = *s
		}
	case FieldTraceID:
		f.TraceID, err = stringField(key, raw)
	case FieldThreadID:
		f.ThreadID, err = stringField(key, raw)
	case FieldParentRunID:
		f.ParentRunID, err = stringField(key, raw)
	case FieldName:
		f.Name, err = stringField(key, raw)
	case FieldRunType:
		f.RunType, err = stringField(key, raw)
	case FieldSystem:
		f.System, err = stringField(key, raw)
	case FieldStartTime:
		f.StartTime, err = ParseTimestamp(raw)
	case FieldEndTime:
		f.EndTime, err = ParseTimestamp(raw)
	case FieldInputs:
		f.Inputs, err = jsonField(key, raw)
	case FieldOutputs:
		f.Outputs, err = jsonField(key, raw)
	case FieldEvents:
		f.Events, err = jsonField(key, raw)
	case FieldError:
		f.Error, err = jsonField(key, raw)
	case FieldExtra:
		f.Extra, err = jsonField(key, raw)
	case FieldSerialized:
		f.Serialized, err = jsonField(key, raw)
	case FieldTotalTokens:
		var n float64
		if err = json.Unmarshal(raw, &n); err != nil {
			err = fmt.Errorf("%s: expected integer: %w", key, err)
		} else if tokens, ok := TokenCount(n); !ok {
			err = fmt.Errorf("%s: must be a whole number between 0 and %d", key, int64(MaxTokenCount))
		} else {
			f.TotalTokens = &tokens
		}
	}
	return err
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// stringField accepts a JSON string. Numbers are accepted too because some
// producers emit numeric identifiers.
func stringField(key string, raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		v := n.String()
		return &v, nil
	}
	return nil, fmt.Errorf("%s: expected string", key)
}

func jsonField(key string, raw json.RawMessage) (json.RawMessage, error) {
	if isNull(raw) {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s: invalid JSON", key)
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}
