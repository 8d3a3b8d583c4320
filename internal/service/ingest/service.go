// Package ingest applies decoded ingestion batches to the trace store.
//
// Both the JSON batch endpoint and the native multipart endpoint funnel into
// Service.Ingest. Every operation is applied on its own: there is no
// batch-wide transaction, and a failure is reported for that record while the
// rest of the batch proceeds.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/telemetry"
	"github.com/ashita-ai/kansoku/internal/tracestore"
	"github.com/ashita-ai/kansoku/internal/wire"
)

// Store is the subset of the trace store ingestion writes through.
type Store interface {
	CreateRun(ctx context.Context, f model.RunFields) (model.Run, error)
	UpdateRun(ctx context.Context, id string, f model.RunFields) (model.Run, error)
	UpdateRunField(ctx context.Context, id, field string, value []byte) (model.Run, error)
	GetRun(ctx context.Context, id string) (model.Run, error)
	CreateFeedback(ctx context.Context, runID string, p model.FeedbackPayload) (model.Feedback, error)
	CreateAttachment(ctx context.Context, runID string, meta model.AttachmentMeta) (model.Attachment, error)
}

// Hook is notified after every batch. Hooks run in their own goroutine with
// a context detached from the request; an error is logged and dropped.
type Hook interface {
	AfterIngest(ctx context.Context, system string, resp model.IngestResponse) error
}

// Service applies batches.
type Service struct {
	store  Store
	sink   AttachmentSink
	hooks  []Hook
	logger *slog.Logger

	records  metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates an ingestion Service. sink may be nil, in which case only
// attachment metadata is recorded.
func New(store Store, sink AttachmentSink, logger *slog.Logger, hooks ...Hook) *Service {
	meter := telemetry.Meter("kansoku/ingest")
	records, _ := meter.Int64Counter("kansoku.ingest.records",
		metric.WithDescription("Ingested records by operation and outcome"),
	)
	duration, _ := meter.Float64Histogram("kansoku.ingest.duration",
		metric.WithDescription("Time to apply one ingestion batch (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		store:    store,
		sink:     sink,
		hooks:    hooks,
		logger:   logger,
		records:  records,
		duration: duration,
	}
}

// Ingest decodes parts and applies every resulting operation. system, when
// non-empty, is stamped on posted runs. The response is never an error: decode
// and apply failures are listed per record, and Success is false if any
// occurred.
func (s *Service) Ingest(ctx context.Context, system string, parts []wire.Part) model.IngestResponse {
	start := time.Now()
	decoded := wire.Decode(parts)

	resp := model.IngestResponse{
		Accepted: []model.AcceptedRecord{},
		Errors:   []model.RecordError{},
	}
	for _, de := range decoded.Errors {
		resp.Errors = append(resp.Errors, model.RecordError{
			Part:      de.Part,
			Operation: de.Operation,
			RunID:     de.RunID,
			Error:     de.Err.Error(),
		})
		s.count(ctx, de.Operation, "decode_error")
	}

	for _, op := range decoded.Operations {
		rec, err := s.apply(ctx, system, op)
		if err != nil {
			if !errors.Is(err, tracestore.ErrNotFound) {
				s.logger.Warn("ingest: apply failed",
					"operation", op.Kind, "run_id", op.RunID, "error", err)
			}
			resp.Errors = append(resp.Errors, model.RecordError{
				Part:      firstPart(op),
				Operation: op.Kind,
				RunID:     op.RunID,
				Error:     describe(err),
			})
			s.count(ctx, op.Kind, "error")
			continue
		}
		resp.Accepted = append(resp.Accepted, rec)
		s.count(ctx, op.Kind, "accepted")
	}

	resp.Success = len(resp.Errors) == 0
	total := len(resp.Accepted) + len(resp.Errors)
	if resp.Success {
		resp.Message = fmt.Sprintf("ingested %d records", total)
	} else {
		resp.Message = fmt.Sprintf("ingested %d of %d records", len(resp.Accepted), total)
	}

	s.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000.0)
	s.logger.Debug("ingest: batch applied",
		"system", system, "accepted", len(resp.Accepted), "errors", len(resp.Errors))
	s.notify(ctx, system, resp)
	return resp
}

func (s *Service) notify(ctx context.Context, system string, resp model.IngestResponse) {
	if len(s.hooks) == 0 || len(resp.Accepted) == 0 {
		return
	}
	hookCtx := context.WithoutCancel(ctx)
	for _, h := range s.hooks {
		go func(h Hook) {
			if err := h.AfterIngest(hookCtx, system, resp); err != nil {
				s.logger.Warn("ingest: hook failed", "system", system, "error", err)
			}
		}(h)
	}
}

func (s *Service) apply(ctx context.Context, system string, op wire.Operation) (model.AcceptedRecord, error) {
	rec := model.AcceptedRecord{Operation: op.Kind, RunID: op.RunID}

	switch op.Kind {
	case model.OpPost:
		f := op.Fields
		if system != "" {
			f.System = &system
		}
		if _, err := s.store.CreateRun(ctx, f); err != nil {
			return rec, err
		}

	case model.OpPatch:
		var err error
		if op.Field != "" {
			_, err = s.store.UpdateRunField(ctx, op.RunID, op.Field, op.Value)
		} else {
			_, err = s.store.UpdateRun(ctx, op.RunID, op.Fields)
		}
		if err != nil {
			return rec, err
		}

	case model.OpFeedback:
		fb, err := s.store.CreateFeedback(ctx, op.RunID, *op.Feedback)
		if err != nil {
			return rec, err
		}
		rec.ID = fb.ID

	case model.OpAttachment:
		id, err := s.attach(ctx, op.RunID, op.Attachment)
		if err != nil {
			return rec, err
		}
		rec.ID = id

	default:
		return rec, fmt.Errorf("ingest: unsupported operation %q", op.Kind)
	}
	return rec, nil
}

// attach stores the bytes and then the metadata row. Bytes are only written
// for a run that exists, and are removed again if the row cannot be written.
func (s *Service) attach(ctx context.Context, runID string, a *wire.Attachment) (string, error) {
	location := fmt.Sprintf("run/%s/%s", runID, a.Filename)
	if s.sink != nil {
		if _, err := s.store.GetRun(ctx, runID); err != nil {
			return "", err
		}
		loc, err := s.sink.Put(ctx, runID, a.Filename, a.ContentType, a.Data)
		if err != nil {
			return "", err
		}
		location = loc
	}
	att, err := s.store.CreateAttachment(ctx, runID, model.AttachmentMeta{
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        int64(len(a.Data)),
		Location:    location,
	})
	if err != nil {
		if r, ok := s.sink.(AttachmentRemover); ok {
			if rmErr := r.Remove(ctx, location); rmErr != nil {
				s.logger.Warn("ingest: remove orphaned attachment",
					"run_id", runID, "location", location, "error", rmErr)
			}
		}
		return "", err
	}
	return att.ID, nil
}

func (s *Service) count(ctx context.Context, operation, outcome string) {
	if operation == "" {
		operation = "unknown"
	}
	s.records.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func describe(err error) string {
	if errors.Is(err, tracestore.ErrNotFound) {
		return "run not found"
	}
	return err.Error()
}

func firstPart(op wire.Operation) string {
	if len(op.Parts) == 0 {
		return ""
	}
	return op.Parts[0]
}
