package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/juanbarco92/delta/core"
)

const itemCacheKeyPrefix = "delta::item::v1"

// ItemCacheKey returns delta::item::v1::<id> with the id path-escaped.
func ItemCacheKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("sqlstore: item id is required")
	}
	return itemCacheKeyPrefix + "::" + url.PathEscape(id), nil
}

// CachedItemReader serves item reads through a go-repository-cache service.
// Writes made through it evict the cached entries.
type CachedItemReader struct {
	base  *ItemStore
	cache repositorycache.CacheService
}

func NewCachedItemReader(base *ItemStore, cacheService repositorycache.CacheService) (*CachedItemReader, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base item store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: item cache service is required")
	}
	return &CachedItemReader{base: base, cache: cacheService}, nil
}

// NewItemCache builds a cache service from the library defaults. A positive
// ttl overrides the default entry lifetime.
func NewItemCache(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

func (r *CachedItemReader) Get(ctx context.Context, id string) (core.ItemDetail, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return core.ItemDetail{}, fmt.Errorf("sqlstore: cached item reader is not configured")
	}
	key, err := ItemCacheKey(id)
	if err != nil {
		return core.ItemDetail{}, err
	}
	item, err := repositorycache.GetOrFetch(ctx, r.cache, key, func(ctx context.Context) (core.ItemDetail, error) {
		return r.base.Get(ctx, id)
	})
	if err != nil {
		return core.ItemDetail{}, err
	}
	return cloneItem(item), nil
}

func (r *CachedItemReader) UpsertMany(ctx context.Context, items []core.ItemDetail) (int, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached item reader is not configured")
	}
	written, err := r.base.UpsertMany(ctx, items)
	if err != nil {
		return written, err
	}
	for _, item := range items {
		key, keyErr := ItemCacheKey(item.ID)
		if keyErr != nil {
			continue
		}
		if err := r.cache.Delete(ctx, key); err != nil {
			return written, err
		}
	}
	return written, nil
}

func cloneItem(item core.ItemDetail) core.ItemDetail {
	cloned := item
	cloned.OfficialStoreID = copyInt64Pointer(item.OfficialStoreID)
	cloned.Dimensions = copyStringPointer(item.Dimensions)
	return cloned
}

var _ ItemReader = (*CachedItemReader)(nil)
