package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mwsrs/reviews/internal/offline/db"
)

// AssetStore persists static assets. *db.DB implements it.
type AssetStore interface {
	GetAsset(ctx context.Context, cacheName, url string) (*db.Asset, error)
	PutAsset(ctx context.Context, a *db.Asset) error
	DeleteCachesExcept(ctx context.Context, keep string) (int64, error)
}

// AssetCache is the versioned static cache: an in-memory LRU in front of
// the store's asset table.
type AssetCache struct {
	name  string
	hot   *lru.Cache[string, *db.Asset]
	store AssetStore
}

// NewAssetCache creates a cache named name holding up to size assets in
// memory.
func NewAssetCache(name string, size int, store AssetStore) (*AssetCache, error) {
	if name == "" {
		name = DefaultCacheName
	}
	if size <= 0 {
		size = 256
	}
	hot, err := lru.New[string, *db.Asset](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset LRU: %w", err)
	}
	return &AssetCache{name: name, hot: hot, store: store}, nil
}

// Name returns the cache version name.
func (c *AssetCache) Name() string {
	return c.name
}

// Get returns the cached asset for url.
func (c *AssetCache) Get(ctx context.Context, url string) (*db.Asset, bool) {
	if a, ok := c.hot.Get(url); ok {
		return a, true
	}
	a, err := c.store.GetAsset(ctx, c.name, url)
	if err != nil {
		return nil, false
	}
	c.hot.Add(url, a)
	return a, true
}

// Put caches body as the response for url. The ETag is derived from the
// body.
func (c *AssetCache) Put(ctx context.Context, url, contentType string, body []byte) (*db.Asset, error) {
	a := &db.Asset{
		CacheName:   c.name,
		URL:         url,
		Status:      200,
		ContentType: contentType,
		ETag:        etag(body),
		Body:        body,
	}
	c.hot.Add(url, a)
	if err := c.store.PutAsset(ctx, a); err != nil && !errors.Is(err, db.ErrStorageUnavailable) {
		return a, err
	}
	return a, nil
}

// Activate removes assets stored under any other cache name.
func (c *AssetCache) Activate(ctx context.Context) (int64, error) {
	return c.store.DeleteCachesExcept(ctx, c.name)
}

func etag(body []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
}
