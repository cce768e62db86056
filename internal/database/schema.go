package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool used for schema setup.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// archiveSchema creates the archive table. Rows are never updated; the first
// writer of an id wins.
var archiveSchema = []string{
	`CREATE TABLE IF NOT EXISTS feed_items (
		id         TEXT PRIMARY KEY,
		resource   TEXT NOT NULL,
		parent_id  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		read       BOOLEAN NOT NULL DEFAULT FALSE,
		payload    JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS feed_items_parent_created_idx
		ON feed_items (resource, parent_id, created_at DESC)`,
}

// EnsureArchiveSchema creates the feed_items table and its index if missing.
func EnsureArchiveSchema(ctx context.Context, db Execer) error {
	for i, stmt := range archiveSchema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("archive schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
