package database

import (
	"context"
	"fmt"
)

// schema is applied at startup. Statements are idempotent so both binaries
// can run it without coordination.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS streams (
		id         TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL DEFAULT '',
		url        TEXT NOT NULL UNIQUE,
		media_type TEXT NOT NULL,
		quality    TEXT NOT NULL DEFAULT '',
		referrer   TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_streams_channel_id ON streams (channel_id)`,
	`CREATE TABLE IF NOT EXISTS health_records (
		stream_id   TEXT PRIMARY KEY REFERENCES streams (id) ON DELETE CASCADE,
		status      TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		response_ms BIGINT NOT NULL DEFAULT 0,
		checked_at  TIMESTAMPTZ NOT NULL,
		changed_at  TIMESTAMPTZ NOT NULL,
		version     BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_health_records_changed_at ON health_records (changed_at)`,
}

// Migrate applies the schema to the connected database.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
