package contacts

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/orgportal/pkg/cache"
)

// cachedEntry is the envelope stored in both cache tiers. Not-found results
// are cached too so repeated lookups for departed users stay cheap.
type cachedEntry struct {
	Found   bool     `json:"found"`
	Contact *Contact `json:"contact,omitempty"`
}

// CachedProvider layers an in-process LRU and a shared Redis cache in front
// of the identity service.
type CachedProvider struct {
	upstream Provider
	l1       *lru.Cache[string, cachedEntry]
	l2       *cache.ObjectCache
}

// NewCachedProvider builds the two-tier cache. The Redis tier may be nil for
// single-process deployments.
func NewCachedProvider(upstream Provider, l1Size int, l2 *cache.ObjectCache) (*CachedProvider, error) {
	if l1Size <= 0 {
		l1Size = 1024
	}
	l1, err := lru.New[string, cachedEntry](l1Size)
	if err != nil {
		return nil, fmt.Errorf("create contact LRU: %w", err)
	}
	return &CachedProvider{
		upstream: upstream,
		l1:       l1,
		l2:       l2,
	}, nil
}

// GetContact resolves through L1, then L2, then the identity service.
func (p *CachedProvider) GetContact(ctx context.Context, corporateUsername string) (*Contact, error) {
	key := strings.ToLower(corporateUsername)

	if entry, ok := p.l1.Get(key); ok {
		return entry.Contact, nil
	}
	if p.l2 != nil {
		var entry cachedEntry
		found, err := p.l2.Get(ctx, key, &entry)
		if err == nil && found {
			p.l1.Add(key, entry)
			return entry.Contact, nil
		}
		// A Redis outage degrades to upstream lookups, it never fails them.
	}

	contact, err := p.upstream.GetContact(ctx, corporateUsername)
	if err != nil {
		return nil, err
	}
	entry := cachedEntry{Found: contact != nil, Contact: contact}
	p.l1.Add(key, entry)
	if p.l2 != nil {
		// Best effort, same as the read path.
		_ = p.l2.Set(ctx, key, entry)
	}
	return contact, nil
}

// GetContacts resolves a batch of usernames. Unknown users are omitted from
// the result map; the first upstream error aborts the batch.
func (p *CachedProvider) GetContacts(ctx context.Context, corporateUsernames []string) (map[string]*Contact, error) {
	result := make(map[string]*Contact, len(corporateUsernames))
	for _, username := range corporateUsernames {
		contact, err := p.GetContact(ctx, username)
		if err != nil {
			return nil, err
		}
		if contact != nil {
			result[strings.ToLower(username)] = contact
		}
	}
	return result, nil
}

// Invalidate drops a user from both cache tiers.
func (p *CachedProvider) Invalidate(ctx context.Context, corporateUsername string) error {
	key := strings.ToLower(corporateUsername)
	p.l1.Remove(key)
	if p.l2 != nil {
		return p.l2.Delete(ctx, key)
	}
	return nil
}
