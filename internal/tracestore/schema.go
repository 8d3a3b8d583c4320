package tracestore

import (
	"context"
	"fmt"

	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/migrations"
)

// ensureSchema applies the embedded migrations. Every statement in them is
// idempotent, so concurrent starts against one database are safe.
func (s *Store) ensureSchema(ctx context.Context) error {
	if err := storage.RunMigrations(ctx, s.db, migrations.FS, s.logger); err != nil {
		return fmt.Errorf("tracestore: create schema: %w", err)
	}
	return nil
}
