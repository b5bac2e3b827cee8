package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed by SQLStore.
// Safe to call multiple times - uses IF NOT EXISTS. The DDL is valid for both
// PostgreSQL and SQLite.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
-- Item pool
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    attributes TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS item_tags (
    item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    tag TEXT NOT NULL,
    PRIMARY KEY (item_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_item_tags_tag ON item_tags(tag);

-- Relationship graph (targets may be outside the pool)
CREATE TABLE IF NOT EXISTS edges (
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (from_id, to_id)
);

-- Players and their scores
CREATE TABLE IF NOT EXISTS players (
    id TEXT PRIMARY KEY,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS scores (
    player_id TEXT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
    item_id TEXT NOT NULL,
    score DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (score >= 0),
    PRIMARY KEY (player_id, item_id)
);
`
