package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/polysweep/sweepmon/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultMetaTTL = 5 * time.Minute

// MetaCache implements domain.MetaCache using Redis hashes with JSON-
// serialized market metadata.
//
// Key schema:
//
//	meta:{slug} - hash with field "data" containing JSON
type MetaCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMetaCache creates a MetaCache backed by the given Client. A ttl of zero
// selects the default of 5 minutes.
func NewMetaCache(c *Client, ttl time.Duration) *MetaCache {
	if ttl <= 0 {
		ttl = defaultMetaTTL
	}
	return &MetaCache{rdb: c.rdb, ttl: ttl}
}

func metaKey(slug string) string { return "meta:" + slug }

// Set stores market metadata in the cache with the configured TTL.
func (mc *MetaCache) Set(ctx context.Context, meta domain.MarketMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("redis: marshal meta %s: %w", meta.Slug, err)
	}

	key := metaKey(meta.Slug)

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set meta %s: %w", meta.Slug, err)
	}
	return nil
}

// Get retrieves market metadata by slug from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MetaCache) Get(ctx context.Context, slug string) (domain.MarketMeta, error) {
	data, err := mc.rdb.HGet(ctx, metaKey(slug), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketMeta{}, domain.ErrNotFound
		}
		return domain.MarketMeta{}, fmt.Errorf("redis: get meta %s: %w", slug, err)
	}

	var meta domain.MarketMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.MarketMeta{}, fmt.Errorf("redis: unmarshal meta %s: %w", slug, err)
	}
	return meta, nil
}

// Invalidate removes cached metadata for a slug. Used once a market ends so
// resolution polls see fresh outcome prices.
func (mc *MetaCache) Invalidate(ctx context.Context, slug string) error {
	if err := mc.rdb.Del(ctx, metaKey(slug)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate meta %s: %w", slug, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MetaCache = (*MetaCache)(nil)
