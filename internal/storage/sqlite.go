package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"
)

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite is the embedded, file-backed adapter.
type SQLite struct {
	db     *sql.DB
	path   string
	retry  RetryPolicy
	logger *slog.Logger
}

// sqliteMaxConns sizes the file-backed pool. WAL lets readers run alongside
// the one writer SQLite admits at a time; competing writers wait out
// busy_timeout and are then retried by WithRetry.
const sqliteMaxConns = 8

// OpenSQLite opens (creating if needed) the database file at path.
// WAL journaling, a busy timeout and foreign keys are enabled on every
// pooled connection through the DSN so they survive connection churn.
func OpenSQLite(ctx context.Context, path string, retry RetryPolicy, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	// An in-memory database exists per connection, so it must be pinned to one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(sqliteMaxConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}

	logger.Debug("storage: sqlite opened", "path", path)
	return &SQLite{db: db, path: path, retry: retry, logger: logger}, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

// Dialect reports DialectSQLite.
func (s *SQLite) Dialect() Dialect {
	return DialectSQLite
}

// Exec runs DDL.
func (s *SQLite) Exec(ctx context.Context, query string) error {
	return WithRetry(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, query)
		return err
	})
}

// Prepare returns a statement handle bound to the database.
func (s *SQLite) Prepare(query string) Stmt {
	return &sqliteStmt{exec: s.db, query: query, retry: s.retry}
}

// Transaction runs fn inside a database transaction. The whole transaction is
// retried when SQLite reports the database as busy.
func (s *SQLite) Transaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	return WithRetry(ctx, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage: begin sqlite tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(ctx, sqliteTx{tx: tx}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage: commit sqlite tx: %w", err)
		}
		return nil
	})
}

// StringAggregate renders group_concat. SQLite rejects a custom separator on
// DISTINCT aggregates, so a non-comma delimiter is substituted afterwards.
// Commas inside values are swapped for sqliteCommaStandIn around the
// substitution and restored.
func (s *SQLite) StringAggregate(column string, distinct bool, delimiter string) string {
	if !distinct {
		return fmt.Sprintf("group_concat(%s, %s)", column, quoteLiteral(delimiter))
	}
	if delimiter == "," {
		return fmt.Sprintf("group_concat(DISTINCT %s)", column)
	}
	standIn := quoteLiteral(sqliteCommaStandIn)
	agg := fmt.Sprintf("group_concat(DISTINCT replace(%s, ',', %s))", column, standIn)
	return fmt.Sprintf("replace(replace(%s, ',', %s), %s, ',')", agg, quoteLiteral(delimiter), standIn)
}

// Ping checks the database file is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

// Statements inside a transaction are not retried individually; the
// enclosing Transaction call retries as a unit.
func (t sqliteTx) Prepare(query string) Stmt {
	return &sqliteStmt{exec: t.tx, query: query}
}

type sqliteStmt struct {
	exec  sqlExecutor
	query string
	retry RetryPolicy
}

func (st *sqliteStmt) Run(ctx context.Context, args ...any) (int64, error) {
	var n int64
	err := WithRetry(ctx, st.retry, func() error {
		res, err := st.exec.ExecContext(ctx, st.query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (st *sqliteStmt) Get(ctx context.Context, args ...any) Row {
	return &sqliteRow{ctx: ctx, stmt: st, args: args}
}

func (st *sqliteStmt) All(ctx context.Context, args ...any) (Rows, error) {
	rows, err := st.exec.QueryContext(ctx, st.query, args...)
	if err != nil {
		return nil, err
	}
	return sqliteRows{rows: rows}, nil
}

// sqliteRow defers execution to Scan so that writes using RETURNING are
// retried the same way as Run.
type sqliteRow struct {
	ctx  context.Context
	stmt *sqliteStmt
	args []any
}

func (r *sqliteRow) Scan(dest ...any) error {
	err := WithRetry(r.ctx, r.stmt.retry, func() error {
		return r.stmt.exec.QueryRowContext(r.ctx, r.stmt.query, r.args...).Scan(dest...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

type sqliteRows struct {
	rows *sql.Rows
}

func (r sqliteRows) Next() bool             { return r.rows.Next() }
func (r sqliteRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqliteRows) Err() error             { return r.rows.Err() }
func (r sqliteRows) Close()                 { _ = r.rows.Close() }

// quoteLiteral renders s as a single-quoted SQL string literal.
// sqliteCommaStandIn must not occur in aggregated values.
const sqliteCommaStandIn = "\x1e"

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
