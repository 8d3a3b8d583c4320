package tracestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/storage"
)

// upsertRunSQL inserts a run or, for a repeated id, merges the new values over
// the stored row. Absent values never erase stored ones, created_at is kept,
// and total_tokens is only replaced when the post carried outputs or an
// explicit override (the trailing flag parameter).
var upsertRunSQL = `INSERT INTO runs (` + runColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		trace_id      = COALESCE(excluded.trace_id, runs.trace_id),
		thread_id     = COALESCE(excluded.thread_id, runs.thread_id),
		parent_run_id = COALESCE(excluded.parent_run_id, runs.parent_run_id),
		name          = CASE WHEN excluded.name <> '' THEN excluded.name ELSE runs.name END,
		run_type      = CASE WHEN excluded.run_type <> '' THEN excluded.run_type ELSE runs.run_type END,
		system        = COALESCE(excluded.system, runs.system),
		start_time    = COALESCE(excluded.start_time, runs.start_time),
		end_time      = COALESCE(excluded.end_time, runs.end_time),
		inputs        = COALESCE(excluded.inputs, runs.inputs),
		outputs       = COALESCE(excluded.outputs, runs.outputs),
		events        = COALESCE(excluded.events, runs.events),
		error         = COALESCE(excluded.error, runs.error),
		extra         = COALESCE(excluded.extra, runs.extra),
		serialized    = COALESCE(excluded.serialized, runs.serialized),
		total_tokens  = CASE WHEN ? THEN excluded.total_tokens ELSE runs.total_tokens END,
		updated_at    = excluded.updated_at
	RETURNING ` + runColumns

// CreateRun inserts a run. A missing id is assigned; a repeated id updates
// the existing row in the same statement.
func (s *Store) CreateRun(ctx context.Context, f model.RunFields) (model.Run, error) {
	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}

	threadID := f.ThreadID
	if threadID == nil {
		threadID = deriveThreadID(f.Extra)
	}

	tokens := totalTokens(f.Outputs)
	if f.TotalTokens != nil {
		tokens = *f.TotalTokens
	}
	replaceTokens := f.Outputs != nil || f.TotalTokens != nil

	var name, runType string
	if f.Name != nil {
		name = *f.Name
	}
	if f.RunType != nil {
		runType = *f.RunType
	}

	now := s.timestamp()
	run, err := scanRun(s.db.Prepare(upsertRunSQL).Get(ctx,
		id,
		nullableString(f.TraceID),
		nullableString(threadID),
		nullableString(f.ParentRunID),
		name,
		runType,
		nullableString(f.System),
		nullableTime(f.StartTime),
		nullableTime(f.EndTime),
		nullableJSON(f.Inputs),
		nullableJSON(f.Outputs),
		nullableJSON(f.Events),
		nullableJSON(f.Error),
		nullableJSON(f.Extra),
		nullableJSON(f.Serialized),
		tokens,
		now,
		now,
		replaceTokens,
	))
	if err != nil {
		return model.Run{}, fmt.Errorf("tracestore: create run %s: %w", id, err)
	}
	return run, nil
}

// UpdateRun applies the supplied fields to an existing run in a single
// statement. Outputs recompute total_tokens in that statement, and extra
// without an explicit thread_id re-derives thread_id when a value is found.
// Returns ErrNotFound when no run has the id.
func (s *Store) UpdateRun(ctx context.Context, id string, f model.RunFields) (model.Run, error) {
	if f.Empty() {
		return s.GetRun(ctx, id)
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if f.TraceID != nil {
		set("trace_id", *f.TraceID)
	}
	if f.ThreadID != nil {
		set("thread_id", *f.ThreadID)
	} else if f.Extra != nil {
		if derived := deriveThreadID(f.Extra); derived != nil {
			set("thread_id", *derived)
		}
	}
	if f.ParentRunID != nil {
		set("parent_run_id", *f.ParentRunID)
	}
	if f.Name != nil {
		set("name", *f.Name)
	}
	if f.RunType != nil {
		set("run_type", *f.RunType)
	}
	if f.System != nil {
		set("system", *f.System)
	}
	if f.StartTime != nil {
		set("start_time", formatTime(*f.StartTime))
	}
	if f.EndTime != nil {
		set("end_time", formatTime(*f.EndTime))
	}
	if f.Inputs != nil {
		set("inputs", string(f.Inputs))
	}
	if f.Outputs != nil {
		set("outputs", string(f.Outputs))
	}
	switch {
	case f.TotalTokens != nil:
		set("total_tokens", *f.TotalTokens)
	case f.Outputs != nil:
		set("total_tokens", totalTokens(f.Outputs))
	}
	if f.Events != nil {
		set("events", string(f.Events))
	}
	if f.Error != nil {
		set("error", string(f.Error))
	}
	if f.Extra != nil {
		set("extra", string(f.Extra))
	}
	if f.Serialized != nil {
		set("serialized", string(f.Serialized))
	}
	set("updated_at", s.timestamp())
	args = append(args, id)

	query := "UPDATE runs SET " + strings.Join(sets, ", ") + " WHERE id = ? RETURNING " + runColumns
	run, err := scanRun(s.db.Prepare(query).Get(ctx, args...))
	if errors.Is(err, storage.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("tracestore: update run %s: %w", id, err)
	}
	return run, nil
}

// UpdateRunField sets a single field, used by streaming producers that send
// one value at a time. It shares UpdateRun's derivation rules.
func (s *Store) UpdateRunField(ctx context.Context, id, field string, value []byte) (model.Run, error) {
	if field == model.FieldID {
		return model.Run{}, fmt.Errorf("%w: %s is immutable", ErrUnknownField, field)
	}
	if !updatableFields[field] {
		return model.Run{}, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	var f model.RunFields
	if err := f.Set(field, value); err != nil {
		return model.Run{}, fmt.Errorf("tracestore: update run %s: %w", id, err)
	}
	return s.UpdateRun(ctx, id, f)
}

var updatableFields = map[string]bool{
	model.FieldTraceID:     true,
	model.FieldThreadID:    true,
	model.FieldParentRunID: true,
	model.FieldName:        true,
	model.FieldRunType:     true,
	model.FieldSystem:      true,
	model.FieldStartTime:   true,
	model.FieldEndTime:     true,
	model.FieldInputs:      true,
	model.FieldOutputs:     true,
	model.FieldEvents:      true,
	model.FieldError:       true,
	model.FieldExtra:       true,
	model.FieldSerialized:  true,
	model.FieldTotalTokens: true,
}

// GetRun returns the run with the given id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (model.Run, error) {
	run, err := scanRun(s.db.Prepare(`SELECT `+runColumns+` FROM runs WHERE id = ?`).Get(ctx, id))
	if errors.Is(err, storage.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("tracestore: get run %s: %w", id, err)
	}
	return run, nil
}

// GetRunsByTraceID returns a trace's runs in start order.
func (s *Store) GetRunsByTraceID(ctx context.Context, traceID string) ([]model.Run, error) {
	return s.listRuns(ctx, "trace_id", traceID)
}

// GetRunsByThreadID returns a thread's runs in start order.
func (s *Store) GetRunsByThreadID(ctx context.Context, threadID string) ([]model.Run, error) {
	return s.listRuns(ctx, "thread_id", threadID)
}

// GetRunsBySystem returns every run a system produced, in start order.
func (s *Store) GetRunsBySystem(ctx context.Context, system string) ([]model.Run, error) {
	return s.listRuns(ctx, "system", system)
}

func (s *Store) listRuns(ctx context.Context, column, value string) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE ` + column + ` = ?
		ORDER BY COALESCE(start_time, created_at), created_at, id`
	rows, err := s.db.Prepare(query).All(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("tracestore: list runs by %s: %w", column, err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, fmt.Errorf("tracestore: scan runs by %s: %w", column, err)
	}
	return runs, nil
}
