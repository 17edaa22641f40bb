// Package db is the local store of the offline sync layer.
//
// The store keeps three collections in one embedded SQLite database
// (ncruces/go-sqlite3, WAL mode):
//
//   - restaurants, keyed by id, indexed by is_favorite
//   - reviews, keyed by id, indexed by restaurant_id
//   - pending, an auto-increment queue of writes awaiting the server
//
// plus the static asset cache used by the request interceptor.
//
// Records are stored as the JSON body the API uses, next to the columns
// needed for indexed lookups, so reads return exactly what was written.
//
// When the database cannot be opened the caller can fall back to
// Disabled, a store whose every operation fails with
// ErrStorageUnavailable. The sync coordinator treats that as a cache miss
// and keeps serving from the network.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrStorageUnavailable means the local database could not be opened
	// or has failed. Callers fall through to the network.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrNotFound is returned by lookups that match no record.
	ErrNotFound = errors.New("record not found")
)

// DB wraps the SQLite connection backing the local store.
type DB struct {
	conn  *sql.DB
	path  string
	cause error
}

// Open opens (creating if needed) the store at path and migrates it to
// SchemaVersion.
//
// Example:
//
//	store, err := db.Open("offline.db")
//	if err != nil {
//	    store = db.Disabled(err)
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	return OpenVersion(path, SchemaVersion)
}

// OpenVersion opens the store at path and applies migrations up to
// version. Opening an existing store at a higher version applies only the
// missing steps; data already stored is kept.
func OpenVersion(path string, version int) (*DB, error) {
	if version < 1 || version > SchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d (max %d)", version, SchemaVersion)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %v", ErrStorageUnavailable, err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStorageUnavailable, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStorageUnavailable, err)
	}

	// SQLite allows one writer; a single connection also keeps :memory:
	// databases shared across queries.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: failed to apply %q: %v", ErrStorageUnavailable, p, err)
		}
	}

	if err := db.migrate(context.Background(), version); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return db, nil
}

// Disabled returns a store that fails every operation with
// ErrStorageUnavailable. cause is kept for diagnostics.
func Disabled(cause error) *DB {
	return &DB{cause: cause}
}

// Available reports whether the store is backed by an open database.
func (db *DB) Available() bool {
	return db != nil && db.conn != nil
}

// Cause returns why a Disabled store is unavailable.
func (db *DB) Cause() error {
	if db == nil {
		return nil
	}
	return db.cause
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB, or nil for a disabled store.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	db.cause = errors.New("store closed")
	return nil
}

func (db *DB) ready() error {
	if db == nil || db.conn == nil {
		return ErrStorageUnavailable
	}
	return nil
}

// storageErr marks a driver failure as a storage failure so callers can
// match it with errors.Is(err, ErrStorageUnavailable).
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", ErrStorageUnavailable, op, err)
}
