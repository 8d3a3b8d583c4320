// Package storage provides a uniform low-level interface over the database
// engines kansoku can persist traces to.
//
// Two adapters ship: an embedded, file-backed SQLite adapter (modernc.org/sqlite)
// and a networked Postgres adapter (pgxpool). Both expose the same Adapter
// contract: Exec for DDL, Prepare for parameterized statements using positional
// "?" placeholders, Transaction for atomic multi-statement work, and
// StringAggregate for the one piece of SQL whose spelling differs by dialect.
//
// Every call takes a context.Context and blocks only the calling goroutine, so
// request handlers can share one Adapter without coordinating.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Dialect identifies the SQL dialect spoken by an Adapter.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Row is the result of a single-row query. Scan returns ErrNoRows when the
// query matched nothing.
type Row interface {
	Scan(dest ...any) error
}

// Rows iterates a multi-row result. Callers must Close it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Stmt is a prepared statement handle with positional parameters.
type Stmt interface {
	// Run executes a write and returns the number of affected rows.
	Run(ctx context.Context, args ...any) (int64, error)
	// Get returns the first row of the result.
	Get(ctx context.Context, args ...any) Row
	// All returns every row of the result.
	All(ctx context.Context, args ...any) (Rows, error)
}

// Querier prepares statements. Both Adapter and the handle passed into a
// Transaction callback implement it.
type Querier interface {
	Prepare(query string) Stmt
}

// Adapter is the contract every storage engine implements.
type Adapter interface {
	Querier

	// Exec runs one or more DDL statements.
	Exec(ctx context.Context, query string) error

	// Transaction runs fn atomically. If fn returns an error the transaction is
	// rolled back and the error is returned unchanged.
	Transaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) error

	// StringAggregate returns the dialect's grouped-concatenation fragment for
	// column, e.g. group_concat(DISTINCT run_type) or string_agg(...).
	StringAggregate(column string, distinct bool, delimiter string) string

	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and parameterizes an adapter.
type Config struct {
	Driver       string // "sqlite" or "postgres"
	SQLitePath   string
	DatabaseURL  string
	MaxConns     int32
	RetryMax     int
	RetryBackoff time.Duration
}

// Open returns the adapter named by cfg.Driver. Invalid parameters produce a
// *ConfigError; connection failures are returned wrapped.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Adapter, error) {
	switch Dialect(strings.ToLower(cfg.Driver)) {
	case DialectSQLite:
		if cfg.SQLitePath == "" {
			return nil, &ConfigError{Field: "sqlite path", Reason: "must not be empty"}
		}
		db, err := OpenSQLite(ctx, cfg.SQLitePath, retryPolicy(cfg), logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	case DialectPostgres:
		if cfg.DatabaseURL == "" {
			return nil, &ConfigError{Field: "database url", Reason: "must not be empty"}
		}
		db, err := OpenPostgres(ctx, cfg.DatabaseURL, cfg.MaxConns, retryPolicy(cfg), logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, &ConfigError{Field: "driver", Reason: fmt.Sprintf("unsupported driver %q (want sqlite or postgres)", cfg.Driver)}
	}
}

func retryPolicy(cfg Config) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.RetryMax > 0 {
		p.MaxRetries = cfg.RetryMax
	}
	if cfg.RetryBackoff > 0 {
		p.BaseDelay = cfg.RetryBackoff
	}
	return p
}
