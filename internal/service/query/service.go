// Package query serves the read side: run lookups and trace/thread
// aggregates. "Not found" and "no data yet" both come back as empty slices.
package query

import (
	"context"

	"github.com/ashita-ai/kansoku/internal/model"
)

// Store is the subset of the trace store the read side needs.
type Store interface {
	GetRun(ctx context.Context, id string) (model.Run, error)
	GetRunsByTraceID(ctx context.Context, traceID string) ([]model.Run, error)
	GetRunsByThreadID(ctx context.Context, threadID string) ([]model.Run, error)
	GetRunsBySystem(ctx context.Context, system string) ([]model.Run, error)
	GetFeedbackByRunID(ctx context.Context, runID string) ([]model.Feedback, error)
	GetAttachmentsByRunID(ctx context.Context, runID string) ([]model.Attachment, error)
	GetAllTraces(ctx context.Context) ([]model.TraceOverview, error)
	GetTracesBySystem(ctx context.Context, system string) ([]model.TraceOverview, error)
	GetTracesByThreadID(ctx context.Context, threadID string) ([]model.TraceOverview, error)
	GetThreadOverviews(ctx context.Context) ([]model.ThreadOverview, error)
	GetAllSystems(ctx context.Context) ([]string, error)
	GetAllThreadIDs(ctx context.Context) ([]string, error)
}

// Service is shared by the HTTP and MCP surfaces.
type Service struct {
	store Store
}

// New creates a query Service.
func New(store Store) *Service {
	return &Service{store: store}
}

// Traces lists trace overviews, restricted to one system when system is set.
func (s *Service) Traces(ctx context.Context, system string) ([]model.TraceOverview, error) {
	if system != "" {
		return nonNil(s.store.GetTracesBySystem(ctx, system))
	}
	return nonNil(s.store.GetAllTraces(ctx))
}

// TraceRuns returns the runs of one trace.
func (s *Service) TraceRuns(ctx context.Context, traceID string) ([]model.Run, error) {
	return nonNil(s.store.GetRunsByTraceID(ctx, traceID))
}

// ThreadTraces returns overviews of the traces in one thread.
func (s *Service) ThreadTraces(ctx context.Context, threadID string) ([]model.TraceOverview, error) {
	return nonNil(s.store.GetTracesByThreadID(ctx, threadID))
}

// ThreadRuns returns every run in one thread.
func (s *Service) ThreadRuns(ctx context.Context, threadID string) ([]model.Run, error) {
	return nonNil(s.store.GetRunsByThreadID(ctx, threadID))
}

// SystemRuns returns every run from one system.
func (s *Service) SystemRuns(ctx context.Context, system string) ([]model.Run, error) {
	return nonNil(s.store.GetRunsBySystem(ctx, system))
}

// ThreadOverviews aggregates all threads.
func (s *Service) ThreadOverviews(ctx context.Context) ([]model.ThreadOverview, error) {
	return nonNil(s.store.GetThreadOverviews(ctx))
}

// Systems lists known systems.
func (s *Service) Systems(ctx context.Context) ([]string, error) {
	return nonNil(s.store.GetAllSystems(ctx))
}

// ThreadIDs lists known thread ids.
func (s *Service) ThreadIDs(ctx context.Context) ([]string, error) {
	return nonNil(s.store.GetAllThreadIDs(ctx))
}

// Run returns a single run; a missing id is tracestore.ErrNotFound.
func (s *Service) Run(ctx context.Context, id string) (model.Run, error) {
	return s.store.GetRun(ctx, id)
}

// RunFeedback lists a run's feedback.
func (s *Service) RunFeedback(ctx context.Context, runID string) ([]model.Feedback, error) {
	return nonNil(s.store.GetFeedbackByRunID(ctx, runID))
}

// RunAttachments lists a run's attachments.
func (s *Service) RunAttachments(ctx context.Context, runID string) ([]model.Attachment, error) {
	return nonNil(s.store.GetAttachmentsByRunID(ctx, runID))
}

func nonNil[T any](items []T, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}
