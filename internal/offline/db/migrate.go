package db

import (
	"context"
	"fmt"
)

// SchemaVersion is the latest store schema version.
//
// Version history:
//
//	1 - restaurants
//	2 - reviews with restaurant_id index
//	3 - pending write queue
//	4 - restaurants is_favorite index
//	5 - static asset cache
const SchemaVersion = 5

// migrations[i] upgrades the schema to version i+1. Every statement is
// additive and safe to run twice.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS restaurants (
			id INTEGER PRIMARY KEY,
			is_favorite INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL
		)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS reviews (
			id INTEGER PRIMARY KEY,
			restaurant_id INTEGER NOT NULL,
			updated_at TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_restaurant_id ON reviews(restaurant_id)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS pending (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			target TEXT NOT NULL,
			target_key INTEGER NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			body BLOB,
			idempotency_key TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_target ON pending(target, target_key)`,
	},
	{
		`CREATE INDEX IF NOT EXISTS idx_restaurants_is_favorite ON restaurants(is_favorite)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS static_assets (
			cache_name TEXT NOT NULL,
			url TEXT NOT NULL,
			status INTEGER NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			etag TEXT NOT NULL DEFAULT '',
			body BLOB NOT NULL,
			stored_at INTEGER NOT NULL,
			PRIMARY KEY (cache_name, url)
		)`,
	},
}

// Version returns the schema version recorded in the database.
func (db *DB) Version(ctx context.Context) (int, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	var version int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, storageErr("read user_version", err)
	}
	return version, nil
}

// migrate applies every step between the recorded version and target.
// A store already at or past target is left alone.
func (db *DB) migrate(ctx context.Context, target int) error {
	var current int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to get user_version: %w", err)
	}

	for v := current; v < target; v++ {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration to v%d: %w", v+1, err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("failed to migrate to v%d: %w", v+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set user_version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration to v%d: %w", v+1, err)
		}
	}

	return nil
}
