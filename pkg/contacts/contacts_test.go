package contacts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgportal/pkg/cache"
	"github.com/platinummonkey/orgportal/pkg/observability"
)

func newIdentityServer(t *testing.T, contacts map[string]Contact) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		username, password, ok := r.BasicAuth()
		if !ok || username != "apikey" || password != "secret-pat" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		const prefix = "/api/v1/contacts/"
		contact, found := contacts[r.URL.Path[len(prefix):]]
		if !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(contact))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestClientGetContact(t *testing.T) {
	server, _ := newIdentityServer(t, map[string]Contact{
		"ada": {CorporateUsername: "ada", DisplayName: "Ada L", Email: "ada@contoso.example"},
	})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	client, err := NewClient(ClientOptions{BaseURL: server.URL, Token: "secret-pat", Metrics: metrics})
	require.NoError(t, err)
	ctx := context.Background()

	contact, err := client.GetContact(ctx, "ada")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "ada@contoso.example", contact.Email)

	missing, err := client.GetContact(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ContactLookupsTotal.WithLabelValues("found")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ContactLookupsTotal.WithLabelValues("not_found")))
}

func TestClientBadCredentialsIsAnError(t *testing.T) {
	server, _ := newIdentityServer(t, nil)
	client, err := NewClient(ClientOptions{BaseURL: server.URL, Token: "wrong"})
	require.NoError(t, err)

	_, err = client.GetContact(context.Background(), "ada")
	assert.ErrorContains(t, err, "401")
}

func TestClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientOptions{})
	assert.Error(t, err)
}

func newTwoTierProvider(t *testing.T, upstream Provider) (*CachedProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })
	l2 := cache.NewObjectCache(redisClient, "contacts", time.Hour, nil)
	provider, err := NewCachedProvider(upstream, 8, l2)
	require.NoError(t, err)
	return provider, mr
}

func TestCachedProviderHitsUpstreamOnce(t *testing.T) {
	server, hits := newIdentityServer(t, map[string]Contact{
		"ada": {CorporateUsername: "ada", Email: "ada@contoso.example"},
	})
	client, err := NewClient(ClientOptions{BaseURL: server.URL, Token: "secret-pat"})
	require.NoError(t, err)
	provider, _ := newTwoTierProvider(t, client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		contact, err := provider.GetContact(ctx, "Ada")
		require.NoError(t, err)
		require.NotNil(t, contact)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(hits))

	// Not-found results are cached too.
	for i := 0; i < 3; i++ {
		contact, err := provider.GetContact(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, contact)
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(hits))
}

func TestCachedProviderRedisTierSurvivesProcessRestart(t *testing.T) {
	server, hits := newIdentityServer(t, map[string]Contact{
		"ada": {CorporateUsername: "ada", Email: "ada@contoso.example"},
	})
	client, err := NewClient(ClientOptions{BaseURL: server.URL, Token: "secret-pat"})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })
	l2 := cache.NewObjectCache(redisClient, "contacts", time.Hour, nil)
	ctx := context.Background()

	first, err := NewCachedProvider(client, 8, l2)
	require.NoError(t, err)
	_, err = first.GetContact(ctx, "ada")
	require.NoError(t, err)

	// A fresh provider sharing the Redis tier never reaches upstream.
	second, err := NewCachedProvider(client, 8, l2)
	require.NoError(t, err)
	contact, err := second.GetContact(ctx, "ada")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "ada@contoso.example", contact.Email)
	assert.Equal(t, int64(1), atomic.LoadInt64(hits))
}

func TestCachedProviderBulkAndInvalidate(t *testing.T) {
	server, hits := newIdentityServer(t, map[string]Contact{
		"ada":   {CorporateUsername: "ada", Email: "ada@contoso.example"},
		"grace": {CorporateUsername: "grace", Email: "grace@contoso.example"},
	})
	client, err := NewClient(ClientOptions{BaseURL: server.URL, Token: "secret-pat"})
	require.NoError(t, err)
	provider, _ := newTwoTierProvider(t, client)
	ctx := context.Background()

	batch, err := provider.GetContacts(ctx, []string{"ada", "grace", "ghost"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, "grace@contoso.example", batch["grace"].Email)

	require.NoError(t, provider.Invalidate(ctx, "ada"))
	before := atomic.LoadInt64(hits)
	_, err = provider.GetContact(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, before+1, atomic.LoadInt64(hits))
}
