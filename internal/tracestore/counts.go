package tracestore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kansoku/internal/storage"
)

const defaultCountConcurrency = 8

// RelationCounts is the number of feedback and attachment rows reachable from
// one trace or thread.
type RelationCounts struct {
	Feedback    int64
	Attachments int64
}

// RelationCounter fills feedback/attachment counts for a page of aggregates.
// The default implementation issues one lookup per key; a join-based
// implementation can replace it without touching the aggregate queries.
type RelationCounter interface {
	TraceCounts(ctx context.Context, traceIDs []string) (map[string]RelationCounts, error)
	ThreadCounts(ctx context.Context, threadIDs []string) (map[string]RelationCounts, error)
}

type perKeyCounter struct {
	db    storage.Adapter
	limit int
}

// NewPerKeyCounter returns a RelationCounter that runs two count queries per
// key, at most limit keys at a time.
func NewPerKeyCounter(db storage.Adapter, limit int) RelationCounter {
	if limit <= 0 {
		limit = 1
	}
	return &perKeyCounter{db: db, limit: limit}
}

const (
	traceFeedbackCountSQL   = `SELECT COUNT(*) FROM feedback WHERE trace_id = ?`
	traceAttachmentCountSQL = `SELECT COUNT(*) FROM attachments a
		JOIN runs r ON r.id = a.run_id WHERE r.trace_id = ?`
	threadFeedbackCountSQL = `SELECT COUNT(*) FROM feedback f
		JOIN runs r ON r.id = f.run_id WHERE r.thread_id = ?`
	threadAttachmentCountSQL = `SELECT COUNT(*) FROM attachments a
		JOIN runs r ON r.id = a.run_id WHERE r.thread_id = ?`
)

func (c *perKeyCounter) TraceCounts(ctx context.Context, traceIDs []string) (map[string]RelationCounts, error) {
	return c.count(ctx, traceIDs, traceFeedbackCountSQL, traceAttachmentCountSQL)
}

func (c *perKeyCounter) ThreadCounts(ctx context.Context, threadIDs []string) (map[string]RelationCounts, error) {
	return c.count(ctx, threadIDs, threadFeedbackCountSQL, threadAttachmentCountSQL)
}

func (c *perKeyCounter) count(ctx context.Context, keys []string, feedbackSQL, attachmentSQL string) (map[string]RelationCounts, error) {
	out := make(map[string]RelationCounts, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for _, key := range keys {
		g.Go(func() error {
			var rc RelationCounts
			if err := c.db.Prepare(feedbackSQL).Get(gctx, key).Scan(&rc.Feedback); err != nil {
				return fmt.Errorf("tracestore: count feedback for %s: %w", key, err)
			}
			if err := c.db.Prepare(attachmentSQL).Get(gctx, key).Scan(&rc.Attachments); err != nil {
				return fmt.Errorf("tracestore: count attachments for %s: %w", key, err)
			}
			mu.Lock()
			out[key] = rc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
