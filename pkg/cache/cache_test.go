package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgportal/pkg/observability"
)

type record struct {
	Login string `json:"login"`
	Email string `json:"email"`
}

func newTestCache(t *testing.T) (*ObjectCache, *miniredis.Miniredis, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewObjectCache(client, "contacts", time.Minute, metrics), mr, metrics
}

func TestObjectCacheRoundTrip(t *testing.T) {
	c, _, metrics := newTestCache(t)
	ctx := context.Background()

	var out record
	found, err := c.Get(ctx, "ada", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "ada", record{Login: "ada", Email: "ada@contoso.example"}))
	found, err = c.Get(ctx, "ada", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ada@contoso.example", out.Email)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("contacts")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("contacts")))
}

func TestObjectCacheCorruptEntryIsAMiss(t *testing.T) {
	c, mr, _ := newTestCache(t)
	require.NoError(t, mr.Set("orgportal:contacts:ada", "{not json"))

	var out record
	found, err := c.Get(context.Background(), "ada", &out)
	require.NoError(t, err)
	assert.False(t, found)

	// The corrupt entry is gone.
	assert.False(t, mr.Exists("orgportal:contacts:ada"))
}

func TestObjectCacheExpiry(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "ada", record{Login: "ada"}))

	mr.FastForward(2 * time.Minute)

	var out record
	found, err := c.Get(ctx, "ada", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestObjectCacheDeleteAndInvalidate(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "ada", record{Login: "ada"}))
	require.NoError(t, c.Set(ctx, "grace", record{Login: "grace"}))

	require.NoError(t, c.Delete(ctx, "ada"))
	var out record
	found, err := c.Get(ctx, "ada", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Invalidate(ctx))
	found, err = c.Get(ctx, "grace", &out)
	require.NoError(t, err)
	assert.False(t, found)
}
