package tracestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/storage"
)

// aggregateDelimiter separates grouped values. A control character keeps
// commas inside system names and run types intact.
const aggregateDelimiter = "\x1f"

// tokenSumSQL sums total_tokens without integer overflow, clamped to int64.
// SQLite sums in float64, so totals above 2^53 are approximate there.
func (s *Store) tokenSumSQL() string {
	if s.db.Dialect() == storage.DialectPostgres {
		return `LEAST(COALESCE(SUM(r.total_tokens), 0), 9223372036854775807)::bigint`
	}
	return `CAST(MIN(TOTAL(r.total_tokens), 9223372036854775807.0) AS INTEGER)`
}

// traceAggregateSQL builds the grouped trace query. filter, when non-empty,
// restricts the result to traces that contain at least one matching run; the
// aggregates themselves always cover every run of the trace.
func (s *Store) traceAggregateSQL(filter string) string {
	where := `r.trace_id IS NOT NULL AND r.trace_id <> ''`
	if filter != "" {
		where += ` AND r.trace_id IN (SELECT trace_id FROM runs WHERE ` + filter + ` = ?)`
	}
	return `SELECT r.trace_id,
		MAX(r.thread_id),
		(SELECT p.name FROM runs p
			WHERE p.trace_id = r.trace_id AND (p.parent_run_id IS NULL OR p.parent_run_id = '')
			ORDER BY COALESCE(p.start_time, p.created_at), p.created_at
			LIMIT 1),
		COUNT(*),
		MIN(r.start_time),
		MAX(r.end_time),
		` + s.db.StringAggregate("r.run_type", true, aggregateDelimiter) + `,
		` + s.db.StringAggregate("r.system", true, aggregateDelimiter) + `,
		` + s.tokenSumSQL() + `
	FROM runs r
	WHERE ` + where + `
	GROUP BY r.trace_id
	ORDER BY MIN(COALESCE(r.start_time, r.created_at)) DESC, r.trace_id`
}

// GetAllTraces returns an overview of every trace, most recent first.
func (s *Store) GetAllTraces(ctx context.Context) ([]model.TraceOverview, error) {
	return s.traces(ctx, "")
}

// GetTracesBySystem returns the traces containing runs from system.
func (s *Store) GetTracesBySystem(ctx context.Context, system string) ([]model.TraceOverview, error) {
	return s.traces(ctx, "system", system)
}

// GetTracesByThreadID returns the traces that belong to a thread.
func (s *Store) GetTracesByThreadID(ctx context.Context, threadID string) ([]model.TraceOverview, error) {
	return s.traces(ctx, "thread_id", threadID)
}

func (s *Store) traces(ctx context.Context, filter string, args ...any) ([]model.TraceOverview, error) {
	rows, err := s.db.Prepare(s.traceAggregateSQL(filter)).All(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("tracestore: aggregate traces: %w", err)
	}
	out, err := scanTraceOverviews(rows)
	if err != nil {
		return nil, fmt.Errorf("tracestore: scan traces: %w", err)
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].TraceID
	}
	counts, err := s.counter.TraceCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		c := counts[out[i].TraceID]
		out[i].FeedbackCount = c.Feedback
		out[i].AttachmentCount = c.Attachments
	}
	return out, nil
}

func scanTraceOverviews(rows storage.Rows) ([]model.TraceOverview, error) {
	defer rows.Close()
	out := []model.TraceOverview{}
	for rows.Next() {
		var (
			t                  model.TraceOverview
			threadID, name     sql.NullString
			startTime, endTime sql.NullString
			runTypes, systems  sql.NullString
		)
		if err := rows.Scan(&t.TraceID, &threadID, &name, &t.TotalRuns, &startTime, &endTime,
			&runTypes, &systems, &t.TotalTokensSum); err != nil {
			return nil, err
		}
		t.ThreadID = stringPtr(threadID)
		t.Name = stringPtr(name)
		t.StartTime = timePtr(startTime)
		t.EndTime = timePtr(endTime)
		t.RunTypes = splitAggregate(runTypes)
		t.Systems = splitAggregate(systems)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetThreadOverviews aggregates every thread, most recently active first.
func (s *Store) GetThreadOverviews(ctx context.Context) ([]model.ThreadOverview, error) {
	query := `SELECT r.thread_id,
		COUNT(*),
		COUNT(DISTINCT r.trace_id),
		MIN(r.start_time),
		MAX(r.end_time),
		` + s.db.StringAggregate("r.run_type", true, aggregateDelimiter) + `,
		` + s.db.StringAggregate("r.system", true, aggregateDelimiter) + `,
		` + s.tokenSumSQL() + `
	FROM runs r
	WHERE r.thread_id IS NOT NULL AND r.thread_id <> ''
	GROUP BY r.thread_id
	ORDER BY MAX(COALESCE(r.end_time, r.start_time, r.created_at)) DESC, r.thread_id`

	rows, err := s.db.Prepare(query).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracestore: aggregate threads: %w", err)
	}
	out, err := scanThreadOverviews(rows)
	if err != nil {
		return nil, fmt.Errorf("tracestore: scan threads: %w", err)
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ThreadID
	}
	counts, err := s.counter.ThreadCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		c := counts[out[i].ThreadID]
		out[i].FeedbackCount = c.Feedback
		out[i].AttachmentCount = c.Attachments
	}
	return out, nil
}

func scanThreadOverviews(rows storage.Rows) ([]model.ThreadOverview, error) {
	defer rows.Close()
	out := []model.ThreadOverview{}
	for rows.Next() {
		var (
			t                  model.ThreadOverview
			startTime, endTime sql.NullString
			runTypes, systems  sql.NullString
		)
		if err := rows.Scan(&t.ThreadID, &t.TotalRuns, &t.TotalTraces, &startTime, &endTime,
			&runTypes, &systems, &t.TotalTokensSum); err != nil {
			return nil, err
		}
		t.StartTime = timePtr(startTime)
		t.EndTime = timePtr(endTime)
		t.RunTypes = splitAggregate(runTypes)
		t.Systems = splitAggregate(systems)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetAllSystems lists every system that has produced a run.
func (s *Store) GetAllSystems(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "system")
}

// GetAllThreadIDs lists every known thread id.
func (s *Store) GetAllThreadIDs(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "thread_id")
}

func (s *Store) distinct(ctx context.Context, column string) ([]string, error) {
	query := `SELECT DISTINCT ` + column + ` FROM runs
		WHERE ` + column + ` IS NOT NULL AND ` + column + ` <> ''
		ORDER BY ` + column
	rows, err := s.db.Prepare(query).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracestore: list %s values: %w", column, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("tracestore: scan %s: %w", column, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
