// Package kansoku is the embeddable trace ingestion and query server.
//
// Construct an App with New, then call Run. Extension points (attachment
// storage, ingest hooks, extra routes, middleware) are supplied as options.
package kansoku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kansoku/api"
	"github.com/ashita-ai/kansoku/internal/config"
	"github.com/ashita-ai/kansoku/internal/mcp"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/ratelimit"
	"github.com/ashita-ai/kansoku/internal/server"
	"github.com/ashita-ai/kansoku/internal/service/ingest"
	"github.com/ashita-ai/kansoku/internal/service/query"
	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/internal/telemetry"
	"github.com/ashita-ai/kansoku/internal/tracestore"
)

const shutdownHTTPTimeout = 10 * time.Second

// App is the kansoku server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	db           storage.Adapter
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the kansoku server. It opens storage, creates the schema,
// wires all subsystems, and returns a ready-to-run App.
// It does NOT accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, o)
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kansoku starting", "version", version, "port", cfg.Port, "storage", cfg.StorageDriver)

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		ServiceName:    cfg.ServiceName,
		Version:        version,
		StorageDialect: cfg.StorageDriver,
		Attachments:    cfg.AttachmentDir != "",
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.Open(ctx, storage.Config{
		Driver:       cfg.StorageDriver,
		SQLitePath:   cfg.SQLitePath,
		DatabaseURL:  cfg.DatabaseURL,
		MaxConns:     int32(cfg.DBMaxConns), //nolint:gosec // bounded by config validation
		RetryMax:     cfg.DBRetryMax,
		RetryBackoff: cfg.DBRetryBackoff,
	}, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	if pg, ok := db.(*storage.Postgres); ok {
		pg.RegisterPoolMetrics()
	}

	store, err := tracestore.New(ctx, db, logger,
		tracestore.WithRelationCounter(tracestore.NewPerKeyCounter(db, cfg.CountConcurrency)))
	if err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("tracestore: %w", err)
	}

	sink, err := newAttachmentSink(cfg, o, logger)
	if err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	hooks := make([]ingest.Hook, 0, len(o.ingestHooks))
	for _, h := range o.ingestHooks {
		hooks = append(hooks, &ingestHookAdapter{hook: h})
	}

	// Query service is shared by the HTTP and MCP surfaces.
	ingestSvc := ingest.New(store, sink, logger, hooks...)
	querySvc := query.New(store)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket, per system)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srvCfg := server.ServerConfig{
		IngestSvc:           ingestSvc,
		QuerySvc:            querySvc,
		Resolver:            server.NewSystemResolver(cfg.CredentialHeader, cfg.APIKeys, cfg.DefaultSystem),
		Logger:              logger,
		Limiter:             limiter,
		Pinger:              store,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		Storage:             string(db.Dialect()),
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxPartBytes:        cfg.MaxPartBytes,
		OpenAPISpec:         api.OpenAPISpec,
	}
	if cfg.MCPEnabled {
		srvCfg.MCPServer = mcp.New(querySvc, logger, version).MCPServer()
	}
	for _, r := range o.routeRegistrars {
		srvCfg.ExtraRoutes = append(srvCfg.ExtraRoutes, r)
	}
	for _, m := range o.middlewares {
		srvCfg.Middlewares = append(srvCfg.Middlewares, m)
	}

	return &App{
		db:           db,
		srv:          server.New(srvCfg),
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for embedding in an existing server
// or for tests. Run does not need to be called to use it.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server, then blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown has been called; callers should
// not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the limiter, storage,
// and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kansoku shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	_ = a.limiter.Close()
	var errs []error
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if err := a.otelShutdown(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}

	a.logger.Info("kansoku stopped", "version", a.version)
	return errors.Join(errs...)
}

func applyOverrides(cfg *config.Config, o resolvedOptions) {
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.storageDriver != "" {
		cfg.StorageDriver = o.storageDriver
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
}

func newAttachmentSink(cfg config.Config, o resolvedOptions, logger *slog.Logger) (ingest.AttachmentSink, error) {
	switch {
	case o.attachmentSink != nil:
		logger.Info("attachments: custom sink")
		return o.attachmentSink, nil
	case cfg.AttachmentDir != "":
		dirSink, err := ingest.NewDirSink(cfg.AttachmentDir)
		if err != nil {
			return nil, err
		}
		logger.Info("attachments: writing to directory", "dir", cfg.AttachmentDir)
		return dirSink, nil
	default:
		logger.Info("attachments: metadata only (no KANSOKU_ATTACHMENT_DIR)")
		return nil, nil
	}
}

// ingestHookAdapter wraps a kansoku.IngestHook to satisfy ingest.Hook.
// It converts the internal response to the public summary at the boundary.
type ingestHookAdapter struct {
	hook IngestHook
}

func (a *ingestHookAdapter) AfterIngest(ctx context.Context, system string, resp model.IngestResponse) error {
	return a.hook.OnBatchIngested(ctx, toBatchSummary(system, resp))
}
