package tracestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/storage"
)

const feedbackColumns = `id, run_id, trace_id, key, score, comment, metadata, created_at`

const attachmentColumns = `id, run_id, filename, content_type, size, location, created_at`

// CreateFeedback appends a feedback row. The trace id is taken from the
// payload as given.
func (s *Store) CreateFeedback(ctx context.Context, runID string, p model.FeedbackPayload) (model.Feedback, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	var score any
	if p.Score != nil {
		score = *p.Score
	}
	fb, err := scanFeedback(s.db.Prepare(`INSERT INTO feedback (`+feedbackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+feedbackColumns).Get(ctx,
		id, runID, p.TraceID,
		nullableString(p.Key), score, nullableString(p.Comment), nullableJSON(p.Metadata),
		s.timestamp(),
	))
	if err != nil {
		return model.Feedback{}, fmt.Errorf("tracestore: create feedback for run %s: %w", runID, err)
	}
	return fb, nil
}

// CreateAttachment records attachment metadata for a run.
func (s *Store) CreateAttachment(ctx context.Context, runID string, meta model.AttachmentMeta) (model.Attachment, error) {
	a, err := scanAttachment(s.db.Prepare(`INSERT INTO attachments (`+attachmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING `+attachmentColumns).Get(ctx,
		uuid.NewString(), runID, meta.Filename, meta.ContentType, meta.Size, meta.Location,
		s.timestamp(),
	))
	if err != nil {
		return model.Attachment{}, fmt.Errorf("tracestore: create attachment for run %s: %w", runID, err)
	}
	return a, nil
}

// GetFeedbackByRunID lists a run's feedback, oldest first.
func (s *Store) GetFeedbackByRunID(ctx context.Context, runID string) ([]model.Feedback, error) {
	rows, err := s.db.Prepare(`SELECT `+feedbackColumns+` FROM feedback
		WHERE run_id = ? ORDER BY created_at, id`).All(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("tracestore: list feedback for run %s: %w", runID, err)
	}
	defer rows.Close()

	out := []model.Feedback{}
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("tracestore: scan feedback: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// GetAttachmentsByRunID lists a run's attachments, oldest first.
func (s *Store) GetAttachmentsByRunID(ctx context.Context, runID string) ([]model.Attachment, error) {
	rows, err := s.db.Prepare(`SELECT `+attachmentColumns+` FROM attachments
		WHERE run_id = ? ORDER BY created_at, id`).All(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("tracestore: list attachments for run %s: %w", runID, err)
	}
	defer rows.Close()

	out := []model.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("tracestore: scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanFeedback(row storage.Row) (model.Feedback, error) {
	var (
		fb                     model.Feedback
		key, comment, metadata sql.NullString
		score                  sql.NullFloat64
		createdAt              string
	)
	if err := row.Scan(&fb.ID, &fb.RunID, &fb.TraceID, &key, &score, &comment, &metadata, &createdAt); err != nil {
		return model.Feedback{}, err
	}
	fb.Key = stringPtr(key)
	fb.Comment = stringPtr(comment)
	fb.Metadata = rawJSON(metadata)
	if score.Valid {
		v := score.Float64
		fb.Score = &v
	}
	fb.CreatedAt = parseTime(createdAt)
	return fb, nil
}

func scanAttachment(row storage.Row) (model.Attachment, error) {
	var (
		a         model.Attachment
		createdAt string
	)
	if err := row.Scan(&a.ID, &a.RunID, &a.Filename, &a.ContentType, &a.Size, &a.Location, &createdAt); err != nil {
		return model.Attachment{}, err
	}
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}
