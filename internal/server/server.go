package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kansoku/internal/ratelimit"
	"github.com/ashita-ai/kansoku/internal/service/ingest"
	"github.com/ashita-ai/kansoku/internal/service/query"
)

// Server is the kansoku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, MCPServer, Pinger, ExtraRoutes,
// Middlewares.
type ServerConfig struct {
	// Required dependencies.
	IngestSvc *ingest.Service
	QuerySvc  *query.Service
	Resolver  *SystemResolver
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer
	Pinger    Pinger

	// Extension points for embedders. ExtraRoutes run after the built-in
	// routes are registered; Middlewares wrap the whole chain, first entry
	// outermost.
	ExtraRoutes []func(mux *http.ServeMux)
	Middlewares []func(http.Handler) http.Handler

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	Storage             string
	MaxRequestBodyBytes int64
	MaxPartBytes        int64
	OpenAPISpec         []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		IngestSvc:           cfg.IngestSvc,
		QuerySvc:            cfg.QuerySvc,
		Pinger:              cfg.Pinger,
		Storage:             cfg.Storage,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxPartBytes:        cfg.MaxPartBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	systemKeyFunc := func(r *http.Request) string {
		return SystemFromContext(r.Context())
	}

	// Ingestion is rate limited per producing system. The limiter reads the
	// system from context, so system resolution must run first. Bodies are
	// only decompressed once the request is admitted.
	ingestRL := ratelimit.Middleware(cfg.Limiter, "ingest", systemKeyFunc, reqIDFunc, cfg.Logger)
	ingestRoute := func(fn http.HandlerFunc) http.Handler {
		return systemMiddleware(cfg.Resolver, ingestRL(decompressMiddleware(fn)))
	}

	mux := http.NewServeMux()

	// Ingestion.
	mux.Handle("POST /runs/batch", ingestRoute(h.HandleBatch))
	mux.Handle("POST /runs/multipart", ingestRoute(h.HandleMultipart))

	// Trace and thread aggregates.
	mux.HandleFunc("GET /trace", h.HandleListTraces)
	mux.HandleFunc("GET /trace/{traceId}", h.HandleTraceRuns)
	mux.HandleFunc("GET /trace/system/{system}", h.HandleSystemRuns)
	mux.HandleFunc("GET /trace/thread/{threadId}/traces", h.HandleThreadTraces)
	mux.HandleFunc("GET /trace/thread/{threadId}/runs", h.HandleThreadRuns)
	mux.HandleFunc("GET /trace/threads/overview", h.HandleThreadOverviews)
	mux.HandleFunc("GET /trace/systems", h.HandleSystems)
	mux.HandleFunc("GET /trace/threads", h.HandleThreadIDs)

	// Runs.
	mux.HandleFunc("GET /runs/{runId}", h.HandleGetRun)
	mux.HandleFunc("GET /runs/{runId}/feedback", h.HandleRunFeedback)
	mux.HandleFunc("GET /runs/{runId}/attachments", h.HandleRunAttachments)

	// MCP StreamableHTTP transport (read-only tools).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	for _, register := range cfg.ExtraRoutes {
		register(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
