package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kansoku/internal/telemetry"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the networked adapter backed by a pgx connection pool.
// Each call blocks only its own goroutine while the pool multiplexes
// connections, so concurrent request handlers never wait on each other's I/O.
type Postgres struct {
	pool   *pgxpool.Pool
	retry  RetryPolicy
	logger *slog.Logger
}

// OpenPostgres creates a connection pool for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32, retry RetryPolicy, logger *slog.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &ConfigError{Field: "database url", Reason: err.Error()}
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	logger.Debug("storage: postgres pool ready", "max_conns", poolCfg.MaxConns)
	return &Postgres{pool: pool, retry: retry, logger: logger}, nil
}

// Dialect reports DialectPostgres.
func (p *Postgres) Dialect() Dialect {
	return DialectPostgres
}

// Exec runs DDL using the simple protocol, which permits several statements
// in one string.
func (p *Postgres) Exec(ctx context.Context, query string) error {
	return WithRetry(ctx, p.retry, func() error {
		_, err := p.pool.Exec(ctx, query)
		return err
	})
}

// Prepare returns a statement handle. Placeholders are rebound from "?" to
// "$n"; pgx caches the server-side prepared statement per connection.
func (p *Postgres) Prepare(query string) Stmt {
	return &pgStmt{q: p.pool, query: rebind(query), retry: p.retry}
}

// Transaction runs fn inside a transaction, retrying the whole unit on
// serialization failures and deadlocks.
func (p *Postgres) Transaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	return WithRetry(ctx, p.retry, func() error {
		return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			return fn(ctx, pgTx{tx: tx})
		})
	})
}

// StringAggregate renders string_agg, casting to text so non-text columns
// aggregate the same way they do under SQLite.
func (p *Postgres) StringAggregate(column string, distinct bool, delimiter string) string {
	if distinct {
		return fmt.Sprintf("string_agg(DISTINCT (%s)::text, %s)", column, quoteLiteral(delimiter))
	}
	return fmt.Sprintf("string_agg((%s)::text, %s)", column, quoteLiteral(delimiter))
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// RegisterPoolMetrics exposes pool statistics as OTEL observable gauges.
// Must be called after telemetry.Init so the global meter provider is set.
func (p *Postgres) RegisterPoolMetrics() {
	meter := telemetry.Meter("kansoku/storage")

	total, err := meter.Int64ObservableGauge("db.pool.total_conns")
	if err != nil {
		p.logger.Warn("storage: register pool metric", "metric", "db.pool.total_conns", "error", err)
		return
	}
	idle, err := meter.Int64ObservableGauge("db.pool.idle_conns")
	if err != nil {
		p.logger.Warn("storage: register pool metric", "metric", "db.pool.idle_conns", "error", err)
		return
	}
	acquired, err := meter.Int64ObservableGauge("db.pool.acquired_conns")
	if err != nil {
		p.logger.Warn("storage: register pool metric", "metric", "db.pool.acquired_conns", "error", err)
		return
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := p.pool.Stat()
		o.ObserveInt64(total, int64(stat.TotalConns()))
		o.ObserveInt64(idle, int64(stat.IdleConns()))
		o.ObserveInt64(acquired, int64(stat.AcquiredConns()))
		return nil
	}, total, idle, acquired)
	if err != nil {
		p.logger.Warn("storage: register pool metrics callback", "error", err)
	}
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Prepare(query string) Stmt {
	return &pgStmt{q: t.tx, query: rebind(query)}
}

type pgStmt struct {
	q     pgQuerier
	query string
	retry RetryPolicy
}

func (st *pgStmt) Run(ctx context.Context, args ...any) (int64, error) {
	var n int64
	err := WithRetry(ctx, st.retry, func() error {
		tag, err := st.q.Exec(ctx, st.query, args...)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

func (st *pgStmt) Get(ctx context.Context, args ...any) Row {
	return &pgRow{ctx: ctx, stmt: st, args: args}
}

func (st *pgStmt) All(ctx context.Context, args ...any) (Rows, error) {
	rows, err := st.q.Query(ctx, st.query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type pgRow struct {
	ctx  context.Context
	stmt *pgStmt
	args []any
}

func (r *pgRow) Scan(dest ...any) error {
	err := WithRetry(r.ctx, r.stmt.retry, func() error {
		return r.stmt.q.QueryRow(r.ctx, r.stmt.query, r.args...).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

// rebind converts "?" placeholders to Postgres "$n" form. Question marks inside
// single-quoted literals, double-quoted identifiers and comments are left alone.
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inSingle, inDouble, inLineComment := false, false, false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case inLineComment:
			if c == '\n' {
				inLineComment = false
			}
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			inLineComment = true
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
