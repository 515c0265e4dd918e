package store

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedStore decorates a Store with an in-process cache of positive blacklist
// lookups. A blacklisted jti stays blacklisted until its entry expires, so hits
// are cached until then; misses always reach the backing store.
type CachedStore struct {
	Store
	now   func() time.Time
	cache *gocache.Cache
}

// NewCachedStore wraps s. cleanup is the interval at which expired cache items are
// evicted; a non-positive value uses one minute.
func NewCachedStore(s Store, cleanup time.Duration, now func() time.Time) *CachedStore {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &CachedStore{
		Store: s,
		now:   now,
		cache: gocache.New(gocache.NoExpiration, cleanup),
	}
}

// InsertBlacklistEntry stores the entry and caches it on success.
func (c *CachedStore) InsertBlacklistEntry(ctx context.Context, entry BlacklistEntry) error {
	if err := c.Store.InsertBlacklistEntry(ctx, entry); err != nil {
		return err
	}
	c.remember(entry.JTI, entry.ExpiresAt)
	return nil
}

// IsBlacklisted answers from the cache when a live positive entry exists.
func (c *CachedStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	if v, ok := c.cache.Get(jti); ok {
		if exp, _ := v.(time.Time); c.now().Before(exp) {
			return true, nil
		}
		c.cache.Delete(jti)
	}

	hit, err := c.Store.IsBlacklisted(ctx, jti)
	if err != nil || !hit {
		return hit, err
	}
	// The backend does not report the entry's expiry, so the hit is cached briefly.
	c.remember(jti, c.now().Add(time.Minute))
	return true, nil
}

// CachedEntries returns the number of cached blacklist entries.
func (c *CachedStore) CachedEntries() int {
	return c.cache.ItemCount()
}

func (c *CachedStore) remember(jti string, expiresAt time.Time) {
	ttl := expiresAt.Sub(c.now())
	if ttl <= 0 {
		return
	}
	c.cache.Set(jti, expiresAt, ttl)
}
