// internal/store/migrate.go
package store

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS applications (
		id              BIGSERIAL PRIMARY KEY,
		candidate_id    TEXT NOT NULL,
		origin_id       TEXT NOT NULL,
		form_key        TEXT NOT NULL,
		answers         JSONB NOT NULL DEFAULT '[]',
		status          TEXT NOT NULL DEFAULT 'pending',
		reviewer_id     TEXT,
		decision_reason TEXT,
		submitted_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		decided_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_status_submitted
		ON applications (status, submitted_at DESC)`,
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
