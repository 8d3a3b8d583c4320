package tracestore

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/storage"
)

const runColumns = `id, trace_id, thread_id, parent_run_id, name, run_type, system,
	start_time, end_time, inputs, outputs, events, error, extra, serialized,
	total_tokens, created_at, updated_at`

func formatTime(t time.Time) string {
	return model.FormatTimestamp(t)
}

// nullableTime renders an optional timestamp as a storable argument.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := model.ParseTimestampString(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	t, err := model.ParseTimestampString(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return nil
	}
	return json.RawMessage(ns.String)
}

// splitAggregate turns a grouped-concatenation result into a sorted-by-
// appearance slice, dropping empty members. Never returns nil.
func splitAggregate(ns sql.NullString) []string {
	out := []string{}
	if !ns.Valid || ns.String == "" {
		return out
	}
	for _, part := range strings.Split(ns.String, aggregateDelimiter) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func scanRun(row storage.Row) (model.Run, error) {
	var (
		r                                                 model.Run
		traceID, threadID, parentID, system               sql.NullString
		startTime, endTime                                sql.NullString
		inputs, outputs, events, errorJSON, extra, serial sql.NullString
		createdAt, updatedAt                              string
	)
	if err := row.Scan(
		&r.ID, &traceID, &threadID, &parentID, &r.Name, &r.RunType, &system,
		&startTime, &endTime, &inputs, &outputs, &events, &errorJSON, &extra, &serial,
		&r.TotalTokens, &createdAt, &updatedAt,
	); err != nil {
		return model.Run{}, err
	}
	r.TraceID = stringPtr(traceID)
	r.ThreadID = stringPtr(threadID)
	r.ParentRunID = stringPtr(parentID)
	r.System = stringPtr(system)
	r.StartTime = timePtr(startTime)
	r.EndTime = timePtr(endTime)
	r.Inputs = rawJSON(inputs)
	r.Outputs = rawJSON(outputs)
	r.Events = rawJSON(events)
	r.Error = rawJSON(errorJSON)
	r.Extra = rawJSON(extra)
	r.Serialized = rawJSON(serial)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

func scanRuns(rows storage.Rows) ([]model.Run, error) {
	defer rows.Close()
	runs := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
