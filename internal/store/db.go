package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the ideas table if it does not exist. The engine
// owns a single table; a migration runner would be overkill here.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS ideas (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL,
			content     TEXT NOT NULL,
			details     TEXT NOT NULL DEFAULT '',
			x           DOUBLE PRECISION NOT NULL,
			y           DOUBLE PRECISION NOT NULL,
			priority    TEXT NOT NULL DEFAULT 'moderate',
			owner_id    TEXT NOT NULL,
			editing_by  TEXT,
			editing_at  TIMESTAMPTZ,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ideas_project ON ideas (project_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_ideas_editing ON ideas (editing_at) WHERE editing_by IS NOT NULL;
		ALTER TABLE ideas ADD COLUMN IF NOT EXISTS fts tsvector
			GENERATED ALWAYS AS (to_tsvector('english', content || ' ' || details)) STORED;
		CREATE INDEX IF NOT EXISTS idx_ideas_fts ON ideas USING GIN (fts);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
