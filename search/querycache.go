package search

import (
	"encoding/json"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/zeebo/xxh3"
)

const (
	DefaultQueryCacheTTL        = 30 * time.Second
	DefaultQueryCacheMaxEntries = 100
)

type queryEntry struct {
	resp   *SearchResponse
	stored time.Time
}

// QueryCache holds complete search responses for a short time. At capacity
// the oldest inserted entry goes first; reads do not reorder.
type QueryCache struct {
	mu      gosync.Mutex
	entries map[string]queryEntry
	order   []string // insertion order
	ttl     time.Duration
	maxSize int
}

// NewQueryCache creates a query cache. Non-positive arguments select the defaults.
func NewQueryCache(ttl time.Duration, maxSize int) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultQueryCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultQueryCacheMaxEntries
	}
	return &QueryCache{
		entries: make(map[string]queryEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// QueryKey builds the cache key from the lowercased query and a hash of the
// serialized options.
func QueryKey(query string, opts SearchOptions) string {
	b, err := json.Marshal(opts)
	if err != nil {
		b = nil
	}
	return strings.ToLower(strings.TrimSpace(query)) + "|" + strconv.FormatUint(xxh3.Hash(b), 16)
}

// Get returns the cached response for key while it is fresh.
func (c *QueryCache) Get(key string) (*SearchResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if nowFunc().Sub(e.stored) >= c.ttl {
		c.removeLocked(key)
		return nil, false
	}
	return e.resp, true
}

// Put stores resp under key, evicting the oldest inserted entries at capacity.
func (c *QueryCache) Put(key string, resp *SearchResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.removeLocked(key)
	}
	for len(c.order) >= c.maxSize {
		c.removeLocked(c.order[0])
	}
	c.entries[key] = queryEntry{resp: resp, stored: nowFunc()}
	c.order = append(c.order, key)
}

func (c *QueryCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Clear drops every cached response.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]queryEntry)
	c.order = nil
}

// Len returns the number of cached responses, expired ones included.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
