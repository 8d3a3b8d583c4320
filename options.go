package kansoku

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            int
	storageDriver   string
	sqlitePath      string
	databaseURL     string
	logger          *slog.Logger
	version         string
	attachmentSink  AttachmentSink
	ingestHooks     []IngestHook
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (KANSOKU_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithStorageDriver overrides the storage backend from config
// (KANSOKU_STORAGE_DRIVER env var). Accepts "sqlite" or "postgres".
func WithStorageDriver(driver string) Option {
	return func(o *resolvedOptions) { o.storageDriver = driver }
}

// WithSQLitePath overrides the SQLite database file (KANSOKU_SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithDatabaseURL overrides the Postgres connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithAttachmentSink replaces the directory sink configured by
// KANSOKU_ATTACHMENT_DIR. Only the last call wins.
func WithAttachmentSink(s AttachmentSink) Option {
	return func(o *resolvedOptions) { o.attachmentSink = s }
}

// WithIngestHook registers a hook notified after every ingestion request.
// May be called multiple times; all hooks are invoked.
func WithIngestHook(h IngestHook) Option {
	return func(o *resolvedOptions) { o.ingestHooks = append(o.ingestHooks, h) }
}

// WithExtraRoutes registers additional routes on the HTTP mux.
// May be called multiple times; registrars run in order.
func WithExtraRoutes(r RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, r) }
}

// WithMiddleware adds an HTTP middleware around the whole handler chain.
// May be called multiple times; the first registered is outermost.
func WithMiddleware(m Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, m) }
}
