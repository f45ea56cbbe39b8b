package search

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/marusama/semaphore/v2"
)

const (
	DefaultListingTTL          = 5 * time.Minute
	DefaultListingMaxEntries   = 1000
	DefaultPrefetchConcurrency = 4
)

// FetchFunc loads a directory listing from the backend.
type FetchFunc func(ctx context.Context, path string) (*Listing, error)

type listingEntry struct {
	listing *Listing
	stored  time.Time
}

// ListingCacheStats tracks cache effectiveness.
type ListingCacheStats struct {
	Entries     int   `json:"entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	StaleServes int64 `json:"staleServes"`
	Evictions   int64 `json:"evictions"`
}

// ListingCacheEntry is one flattened cache entry of an export.
type ListingCacheEntry struct {
	Key        string    `json:"key"`
	Listing    *Listing  `json:"listing"`
	Timestamp  time.Time `json:"timestamp"`
	LastAccess uint64    `json:"lastAccess"`
}

// ListingCacheSnapshot is the serializable form of a ListingCache.
type ListingCacheSnapshot struct {
	Entries      []ListingCacheEntry `json:"entries"`
	MaxCacheSize int                 `json:"maxCacheSize"`
	TTL          time.Duration       `json:"ttl"`
}

// ListingCache holds directory listings keyed by normalized path.
// Entries are fresh while now-stored < ttl. Expired entries are kept as a
// fallback for failed fetches until evicted (least recently accessed first).
type ListingCache struct {
	mu          gosync.Mutex
	entries     map[string]*listingEntry
	access      map[string]uint64 // key → access tick, higher is more recent
	tick        uint64
	ttl         time.Duration
	maxSize     int
	concurrency int
	stats       ListingCacheStats
}

// NewListingCache creates a cache. Non-positive arguments select the defaults.
func NewListingCache(ttl time.Duration, maxSize int) *ListingCache {
	if ttl <= 0 {
		ttl = DefaultListingTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultListingMaxEntries
	}
	return &ListingCache{
		entries:     make(map[string]*listingEntry),
		access:      make(map[string]uint64),
		ttl:         ttl,
		maxSize:     maxSize,
		concurrency: DefaultPrefetchConcurrency,
	}
}

func (c *ListingCache) freshLocked(e *listingEntry) bool {
	return nowFunc().Sub(e.stored) < c.ttl
}

func (c *ListingCache) touchLocked(key string) {
	c.tick++
	c.access[key] = c.tick
}

// ListDirectory returns the cached listing for path when fresh, otherwise
// calls fetch and stores the result. When fetch fails and a stale entry
// exists, the stale listing is returned without error.
func (c *ListingCache) ListDirectory(ctx context.Context, path string, fetch FetchFunc) (*Listing, error) {
	l := sub("listing")
	key := NormalizePath(path)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.freshLocked(e) {
		c.touchLocked(key)
		c.stats.Hits++
		c.mu.Unlock()
		if logEnabled(slog.LevelDebug) {
			l.Debug("cache hit", "path", key)
		}
		return e.listing, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	listing, err := fetch(ctx, path)
	if err != nil {
		c.mu.Lock()
		e, ok := c.entries[key]
		if ok {
			c.touchLocked(key)
			c.stats.StaleServes++
		}
		c.mu.Unlock()
		if ok {
			l.Warn("fetch failed, serving stale listing", "path", path, "age", nowFunc().Sub(e.stored), "err", err)
			return e.listing, nil
		}
		return nil, err
	}
	if listing == nil {
		listing = &Listing{Success: true, Path: path}
	}

	c.mu.Lock()
	c.storeLocked(key, listing)
	c.mu.Unlock()
	if logEnabled(slog.LevelDebug) {
		l.Debug("cache store", "path", key, "items", len(listing.Items))
	}
	return listing, nil
}

// Put stores a listing directly, as if it had just been fetched.
func (c *ListingCache) Put(path string, listing *Listing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(NormalizePath(path), listing)
}

func (c *ListingCache) storeLocked(key string, listing *Listing) {
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxSize {
			if !c.evictLRULocked() {
				break
			}
		}
	}
	c.entries[key] = &listingEntry{listing: listing, stored: nowFunc()}
	c.touchLocked(key)
}

// evictLRULocked removes the least recently accessed entry.
func (c *ListingCache) evictLRULocked() bool {
	var oldestKey string
	var oldest uint64
	found := false
	for key := range c.entries {
		at := c.access[key]
		if !found || at < oldest {
			oldestKey, oldest, found = key, at, true
		}
	}
	if !found {
		return false
	}
	delete(c.entries, oldestKey)
	delete(c.access, oldestKey)
	c.stats.Evictions++
	if logEnabled(slog.LevelDebug) {
		sub("listing").Debug("evicted", "path", oldestKey)
	}
	return true
}

// Invalidate drops the entry for path. Returns whether one existed.
func (c *ListingCache) Invalidate(path string) bool {
	key := NormalizePath(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	delete(c.access, key)
	return ok
}

// InvalidatePrefix drops every entry at or below prefix and returns how many.
func (c *ListingCache) InvalidatePrefix(prefix string) int {
	norm := NormalizePath(prefix)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if HasPathPrefix(key, norm) {
			delete(c.entries, key)
			delete(c.access, key)
			n++
		}
	}
	if n > 0 {
		sub("listing").Debug("invalidated prefix", "prefix", norm, "removed", n)
	}
	return n
}

// PrefetchDirectories fetches every path independently with bounded
// concurrency. A failure is reported for its path and never stops the others.
func (c *ListingCache) PrefetchDirectories(ctx context.Context, paths []string, fetch FetchFunc) []PrefetchResult {
	l := sub("listing")
	c.mu.Lock()
	sem := semaphore.New(c.concurrency)
	c.mu.Unlock()

	results := make([]PrefetchResult, len(paths))
	var wg gosync.WaitGroup
	for i, p := range paths {
		results[i].Path = p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i].Err = err
				return
			}
			defer sem.Release(1)

			listing, err := c.ListDirectory(ctx, p, fetch)
			if err != nil {
				results[i].Err = err
				l.Warn("prefetch failed", "path", p, "err", err)
				return
			}
			results[i].Items = len(listing.Items)
		}()
	}
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	l.Info("prefetch complete", "requested", len(paths), "ok", ok, "failed", len(paths)-ok)
	return results
}

// SetMaxCacheSize changes the capacity, evicting synchronously when shrinking.
func (c *ListingCache) SetMaxCacheSize(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = n
	for len(c.entries) > c.maxSize {
		if !c.evictLRULocked() {
			break
		}
	}
}

// SetTTL changes the freshness window for existing and future entries.
func (c *ListingCache) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// SetConcurrency bounds the number of parallel prefetch fetches.
func (c *ListingCache) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.concurrency = n
}

// Age reports how old the entry for path is, fresh or not.
func (c *ListingCache) Age(path string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[NormalizePath(path)]
	if !ok {
		return 0, false
	}
	return nowFunc().Sub(e.stored), true
}

// Peek returns a fresh entry without touching its access order.
func (c *ListingCache) Peek(path string) (*Listing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[NormalizePath(path)]
	if !ok || !c.freshLocked(e) {
		return nil, false
	}
	return e.listing, true
}

// Len returns the number of entries, fresh or stale.
func (c *ListingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the cache counters.
func (c *ListingCache) Stats() ListingCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Clear drops every entry and resets the counters.
func (c *ListingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*listingEntry)
	c.access = make(map[string]uint64)
	c.tick = 0
	c.stats = ListingCacheStats{}
}

// Export returns every entry in flattened form.
func (c *ListingCache) Export() ListingCacheSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := ListingCacheSnapshot{
		Entries:      make([]ListingCacheEntry, 0, len(c.entries)),
		MaxCacheSize: c.maxSize,
		TTL:          c.ttl,
	}
	for key, e := range c.entries {
		snap.Entries = append(snap.Entries, ListingCacheEntry{
			Key:        key,
			Listing:    e.listing,
			Timestamp:  e.stored,
			LastAccess: c.access[key],
		})
	}
	return snap
}

// Import replaces the cache content with snap.
func (c *ListingCache) Import(snap ListingCacheSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*listingEntry, len(snap.Entries))
	c.access = make(map[string]uint64, len(snap.Entries))
	c.tick = 0
	if snap.MaxCacheSize > 0 {
		c.maxSize = snap.MaxCacheSize
	}
	if snap.TTL > 0 {
		c.ttl = snap.TTL
	}
	for _, e := range snap.Entries {
		if e.Listing == nil {
			continue
		}
		key := NormalizePath(e.Key)
		c.entries[key] = &listingEntry{listing: e.Listing, stored: e.Timestamp}
		c.access[key] = e.LastAccess
		c.tick = max(c.tick, e.LastAccess)
	}
	for len(c.entries) > c.maxSize {
		if !c.evictLRULocked() {
			break
		}
	}
}
