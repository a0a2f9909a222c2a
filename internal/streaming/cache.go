package streaming

import (
	"net/url"
	"strconv"
	"sync"
	"time"
)

// DefaultCacheTTL is the validity window of a resolved URL when the caller does
// not configure one.
const DefaultCacheTTL = time.Hour

// URLCache is the concurrency-safe map from ContentID to ResolvedStream.
// Entries are valid until ExpiresAt and are dropped lazily on lookup.
type URLCache struct {
	mu     sync.RWMutex
	store  Store
	ttl    time.Duration
	margin time.Duration
	now    func() time.Time
}

// NewURLCache returns a cache over an unbounded in-memory store.
func NewURLCache(ttl, margin time.Duration) *URLCache {
	return NewURLCacheWithStore(NewInMemoryStore(), ttl, margin)
}

// NewURLCacheWithStore returns a cache that keeps its entries in store.
// margin is subtracted from an expiry signed into the URL itself.
func NewURLCacheWithStore(store Store, ttl, margin time.Duration) *URLCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &URLCache{store: store, ttl: ttl, margin: margin, now: time.Now}
}

// Get returns the entry for id only if it is unexpired.
func (c *URLCache) Get(id ContentID) (ResolvedStream, bool) {
	now := c.now()

	c.mu.RLock()
	s, ok := c.store.Get(id)
	c.mu.RUnlock()
	if !ok {
		return ResolvedStream{}, false
	}
	if s.Fresh(now) {
		return s, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another writer may have replaced the stale entry meanwhile.
	if cur, ok := c.store.Get(id); ok && !cur.Fresh(now) {
		c.store.Delete(id)
	}
	return ResolvedStream{}, false
}

// Put stores s for id, overwriting any previous entry, and returns the stored
// value. ResolvedAt defaults to now. ExpiresAt, when unset, is ResolvedAt+TTL
// clamped to the URL's own signed expiry minus the margin. An entry that would
// already be expired is not stored.
func (c *URLCache) Put(id ContentID, s ResolvedStream) ResolvedStream {
	now := c.now()
	if s.ResolvedAt.IsZero() {
		s.ResolvedAt = now
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = c.expiry(s.URL, s.ResolvedAt)
	}
	if !s.Fresh(now) {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Set(id, s)
	return s
}

// Invalidate removes the entry for id and reports whether one existed.
func (c *URLCache) Invalidate(id ContentID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(id)
}

// Len returns the number of stored entries, including stale ones not yet dropped.
func (c *URLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Len()
}

func (c *URLCache) expiry(raw string, from time.Time) time.Time {
	exp := from.Add(c.ttl)
	if signed, ok := signedExpiry(raw); ok {
		if limit := signed.Add(-c.margin); limit.Before(exp) {
			exp = limit
		}
	}
	return exp
}

// signedExpiry reads the unix "expire" parameter that signed media URLs carry.
func signedExpiry(raw string) (time.Time, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return time.Time{}, false
	}
	v := u.Query().Get("expire")
	if v == "" {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}
