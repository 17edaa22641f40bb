package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Asset is one cached static response.
type Asset struct {
	CacheName   string
	URL         string
	Status      int
	ContentType string
	ETag        string
	Body        []byte
	StoredAt    time.Time
}

// GetAsset returns the cached asset for url in the named cache, or
// ErrNotFound.
func (db *DB) GetAsset(ctx context.Context, cacheName, url string) (*Asset, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	a := &Asset{CacheName: cacheName, URL: url}
	var storedAt int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT status, content_type, etag, body, stored_at
		FROM static_assets WHERE cache_name = ? AND url = ?
	`, cacheName, url).Scan(&a.Status, &a.ContentType, &a.ETag, &a.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get asset", err)
	}
	a.StoredAt = time.UnixMilli(storedAt).UTC()
	return a, nil
}

// PutAsset stores or replaces a cached asset.
func (db *DB) PutAsset(ctx context.Context, a *Asset) error {
	if err := db.ready(); err != nil {
		return err
	}
	if a.StoredAt.IsZero() {
		a.StoredAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO static_assets (cache_name, url, status, content_type, etag, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_name, url) DO UPDATE SET
			status = excluded.status,
			content_type = excluded.content_type,
			etag = excluded.etag,
			body = excluded.body,
			stored_at = excluded.stored_at
	`, a.CacheName, a.URL, a.Status, a.ContentType, a.ETag, a.Body, a.StoredAt.UnixMilli())
	if err != nil {
		return storageErr("put asset", err)
	}
	return nil
}

// DeleteCachesExcept drops every cached asset whose cache name is not
// keep and returns how many rows went away.
func (db *DB) DeleteCachesExcept(ctx context.Context, keep string) (int64, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	res, err := db.conn.ExecContext(ctx, "DELETE FROM static_assets WHERE cache_name <> ?", keep)
	if err != nil {
		return 0, storageErr("delete stale caches", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("count deleted assets", err)
	}
	return n, nil
}

// CacheNames lists the distinct cache names holding assets.
func (db *DB) CacheNames(ctx context.Context) ([]string, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, "SELECT DISTINCT cache_name FROM static_assets ORDER BY cache_name")
	if err != nil {
		return nil, storageErr("list caches", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr("scan cache name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate caches", err)
	}
	return names, nil
}
