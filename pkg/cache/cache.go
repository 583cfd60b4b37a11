// Package cache provides the Redis-backed object cache used for corporate
// contact lookups and other slow upstream reads.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/orgportal/pkg/observability"
)

// ObjectCache stores JSON-encoded values under a namespaced key prefix.
type ObjectCache struct {
	client  *redis.Client
	name    string
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewObjectCache builds a cache namespace. The name doubles as the key
// prefix and the metric label. Metrics may be nil.
func NewObjectCache(client *redis.Client, name string, ttl time.Duration, metrics *observability.Metrics) *ObjectCache {
	return &ObjectCache{
		client:  client,
		name:    name,
		ttl:     ttl,
		metrics: metrics,
	}
}

func (c *ObjectCache) cacheKey(key string) string {
	return fmt.Sprintf("orgportal:%s:%s", c.name, key)
}

// Get loads a value into out. Returns false on a miss; corrupt entries are
// deleted and treated as misses.
func (c *ObjectCache) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.cacheKey(key)).Result()
	if err == redis.Nil {
		c.miss()
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		c.client.Del(ctx, c.cacheKey(key))
		c.miss()
		return false, nil
	}
	c.hit()
	return true, nil
}

// Set stores a value under the cache's TTL.
func (c *ObjectCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return c.client.Set(ctx, c.cacheKey(key), data, c.ttl).Err()
}

// Delete removes one entry.
func (c *ObjectCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.cacheKey(key)).Err()
}

// Invalidate removes every entry in the namespace.
func (c *ObjectCache) Invalidate(ctx context.Context) error {
	pattern := c.cacheKey("*")
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	return nil
}

func (c *ObjectCache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
	}
}

func (c *ObjectCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
	}
}
