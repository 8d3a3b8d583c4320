// Package testutil provides shared test infrastructure: a Postgres container
// for adapter integration tests and throwaway SQLite databases.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc, err := testutil.StartPostgres()
//	    if err == nil {
//	        defer tc.Terminate()
//	        pg = tc
//	    }
//	    os.Exit(m.Run())
//	}
//
// Postgres tests call testutil.RequirePostgres, which skips when Docker was
// not available.
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/kansoku/internal/storage"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string

	host string
	port string
	dbs  atomic.Int64
}

// StartPostgres starts a Postgres container. The error is returned rather
// than exiting so that packages can still run their SQLite tests on hosts
// without Docker.
func StartPostgres() (tc *TestContainer, err error) {
	ctx := context.Background()

	// testcontainers panics when no Docker host can be found.
	defer func() {
		if r := recover(); r != nil {
			tc, err = nil, fmt.Errorf("testutil: docker unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kansoku",
			"POSTGRES_PASSWORD": "kansoku",
			"POSTGRES_DB":       "kansoku",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container port: %w", err)
	}

	return &TestContainer{
		Container: container,
		DSN:       postgresDSN(host, port.Port(), "kansoku"),
		host:      host,
		port:      port.Port(),
	}, nil
}

func postgresDSN(host, port, db string) string {
	return fmt.Sprintf("postgres://kansoku:kansoku@%s:%s/%s?sslmode=disable", host, port, db)
}

// NewPostgres creates a fresh database inside the container and returns an
// adapter connected to it, so every caller starts from an empty schema.
func (tc *TestContainer) NewPostgres(ctx context.Context, logger *slog.Logger) (*storage.Postgres, error) {
	name := fmt.Sprintf("test_%d_%s", tc.dbs.Add(1), uuid.NewString()[:8])

	conn, err := pgx.Connect(ctx, tc.DSN)
	if err != nil {
		return nil, fmt.Errorf("testutil: bootstrap connection: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+name); err != nil {
		return nil, fmt.Errorf("testutil: create database %s: %w", name, err)
	}

	db, err := storage.OpenPostgres(ctx, postgresDSN(tc.host, tc.port, name), 8, storage.DefaultRetryPolicy(), logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: open postgres: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// RequirePostgres skips the test when tc is nil, i.e. the container could
// not be started, and otherwise returns a fresh adapter closed at cleanup.
func RequirePostgres(t *testing.T, tc *TestContainer) *storage.Postgres {
	t.Helper()
	if tc == nil {
		t.Skip("postgres container unavailable")
	}
	db, err := tc.NewPostgres(context.Background(), TestLogger())
	if err != nil {
		t.Fatalf("testutil: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewSQLite opens a file-backed SQLite database under t.TempDir().
func NewSQLite(t *testing.T) *storage.SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kansoku.db")
	db, err := storage.OpenSQLite(context.Background(), path, storage.DefaultRetryPolicy(), TestLogger())
	if err != nil {
		t.Fatalf("testutil: open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
