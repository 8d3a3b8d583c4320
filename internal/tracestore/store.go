// Package tracestore is the domain repository for runs, feedback and
// attachments. It owns the schema, performs all writes, and computes the
// trace and thread aggregates the query surface serves.
//
// The store speaks only portable SQL through a storage.Adapter; the single
// dialect-specific fragment (grouped string concatenation) is obtained from
// the adapter. Traces and threads are never stored: every overview is
// recomputed from its constituent runs on read.
package tracestore

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashita-ai/kansoku/internal/storage"
)

// Store is safe for concurrent use; it holds no mutable state beyond the
// adapter's connection pool.
type Store struct {
	db      storage.Adapter
	counter RelationCounter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRelationCounter replaces the per-key feedback/attachment counter.
func WithRelationCounter(c RelationCounter) Option {
	return func(s *Store) { s.counter = c }
}

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates the schema if needed and returns a ready Store.
func New(ctx context.Context, db storage.Adapter, logger *slog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.counter == nil {
		s.counter = NewPerKeyCounter(db, defaultCountConcurrency)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	logger.Info("tracestore: schema ready", "dialect", db.Dialect())
	return s, nil
}

// Ping checks the storage engine is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}
