package kansoku

import (
	"context"
	"net/http"
)

// AttachmentSink persists attachment bytes received on the multipart
// endpoint. When provided via WithAttachmentSink, replaces the directory sink
// selected by KANSOKU_ATTACHMENT_DIR. The returned location is recorded with
// the attachment metadata. A sink that also has a
// Remove(ctx context.Context, location string) error method is asked to delete
// bytes whose metadata could not be recorded.
type AttachmentSink interface {
	Put(ctx context.Context, runID, filename, contentType string, data []byte) (location string, err error)
}

// IngestHook receives async notifications after a batch has been applied.
// Multiple hooks may be registered via multiple WithIngestHook calls.
// Hook methods run in goroutines and must not block indefinitely.
// Failures are logged but do not fail the originating request.
// Batches in which nothing was accepted are not reported.
type IngestHook interface {
	OnBatchIngested(ctx context.Context, batch BatchSummary) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extra routes share the middleware chain and OTEL instrumentation with the
// built-in routes. The function is called once during New() after all
// built-in routes are registered.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the HTTP handler chain. Middlewares registered via
// WithMiddleware run outside the built-in chain, first registered outermost.
type Middleware func(http.Handler) http.Handler
