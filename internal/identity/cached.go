package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/uvaco/cardauth/internal/cache"
)

const lookupTTL = 2 * time.Minute

// CachedStore layers a short-lived read cache over a Store. Login is
// lookup-heavy (every exchange starts with one) and links change rarely, so
// a couple of minutes of staleness on display-name updates is a fine trade.
type CachedStore struct {
	inner Store
	cache cache.Cache
}

func WithCache(inner Store, c cache.Cache) *CachedStore {
	return &CachedStore{inner: inner, cache: c}
}

func cacheKey(p Provider, providerUserID string) string {
	return "idlink:" + string(p) + ":" + providerUserID
}

func (s *CachedStore) Lookup(ctx context.Context, p Provider, providerUserID string) (*Link, error) {
	k := cacheKey(p, providerUserID)
	if b, ok := s.cache.Get(k); ok {
		var l Link
		if json.Unmarshal(b, &l) == nil {
			return &l, nil
		}
	}
	l, err := s.inner.Lookup(ctx, p, providerUserID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(l); err == nil {
		s.cache.Set(k, b, lookupTTL)
	}
	return l, nil
}

func (s *CachedStore) EnsureLink(ctx context.Context, link Link) (*Link, error) {
	stored, err := s.inner.EnsureLink(ctx, link)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(stored); err == nil {
		s.cache.Set(cacheKey(stored.Provider, stored.ProviderUserID), b, lookupTTL)
	}
	return stored, nil
}

func (s *CachedStore) Touch(ctx context.Context, p Provider, providerUserID string, profile Profile) error {
	s.cache.Delete(cacheKey(p, providerUserID))
	return s.inner.Touch(ctx, p, providerUserID, profile)
}
