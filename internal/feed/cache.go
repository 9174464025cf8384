package feed

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"calmerge/internal/clock"
	appLog "calmerge/internal/log"
)

// FetchFunc produces the raw text for a feed URL on a cache miss.
type FetchFunc func(ctx context.Context, url string) (string, error)

// cacheEntry holds raw feed text together with its insertion time and the
// ttl it was stored under. An entry is valid until insertedAt + ttl.
type cacheEntry struct {
	text       string
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is a time-boxed store of raw feed text keyed by source URL. It is
// shared across concurrent requests; concurrent reads for the same URL
// trigger at most one underlying fetch (single-flight).
//
// The Force/Unforce pair is a manual-override escape hatch: a forced entry
// is authoritative for reads regardless of ttl until Unforce removes it.
// Callers must scope an override to the single fetch it wraps (see Prime)
// so it cannot leak into unrelated concurrent requests.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	forced  map[string]string

	group singleflight.Group
	clk   clock.Clock
}

// NewCache creates an empty Cache using clk for staleness decisions.
func NewCache(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		forced:  make(map[string]string),
		clk:     clk,
	}
}

// GetOrFetch returns the cached text for url if a valid entry exists,
// otherwise invokes fetch, stores the result under ttl, and returns it.
// A forced override for url wins over both paths and is installed as a
// regular entry as it is read.
func (c *Cache) GetOrFetch(ctx context.Context, url string, ttl time.Duration, fetch FetchFunc) (string, error) {
	c.mu.Lock()
	if text, ok := c.forced[url]; ok {
		c.entries[url] = cacheEntry{text: text, insertedAt: c.clk.Now(), ttl: ttl}
		c.mu.Unlock()
		appLog.Debug("feed cache forced read", "url", redactURL(url))
		return text, nil
	}
	if e, ok := c.entries[url]; ok && c.clk.Now().Sub(e.insertedAt) < e.ttl {
		c.mu.Unlock()
		return e.text, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(url, func() (any, error) {
		// Re-check after winning the flight: a concurrent caller may have
		// refreshed the entry while this one waited.
		c.mu.Lock()
		if e, ok := c.entries[url]; ok && c.clk.Now().Sub(e.insertedAt) < e.ttl {
			c.mu.Unlock()
			return e.text, nil
		}
		c.mu.Unlock()

		text, err := fetch(ctx, url)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.entries[url] = cacheEntry{text: text, insertedAt: c.clk.Now(), ttl: ttl}
		c.mu.Unlock()
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Force installs a manual override for url. Until Unforce is called, every
// read of url returns text regardless of ttl.
func (c *Cache) Force(url, text string) {
	c.mu.Lock()
	c.forced[url] = text
	c.mu.Unlock()
}

// Unforce removes a manual override for url, reverting to ttl semantics.
func (c *Cache) Unforce(url string) {
	c.mu.Lock()
	delete(c.forced, url)
	c.mu.Unlock()
}

// Prime forces text for url, runs one fetch cycle through the cache so the
// value is installed as a regular entry, and removes the override before
// returning. The override can never outlive the wrapped fetch.
func (c *Cache) Prime(ctx context.Context, url, text string, ttl time.Duration, fetch FetchFunc) (string, error) {
	c.Force(url, text)
	defer c.Unforce(url)
	return c.GetOrFetch(ctx, url, ttl, fetch)
}

// PurgeExpired drops every entry past its ttl and reports how many were
// removed. Forced overrides are untouched.
func (c *Cache) PurgeExpired() int {
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for url, e := range c.entries {
		if now.Sub(e.insertedAt) >= e.ttl {
			delete(c.entries, url)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
