package search

import (
	"context"
	"errors"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setClock replaces nowFunc with a controllable clock for the test.
func setClock(t *testing.T, start time.Time) *time.Time {
	t.Helper()
	now := start
	var mu gosync.Mutex
	old := nowFunc
	nowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	t.Cleanup(func() { nowFunc = old })
	return &now
}

type fakeFetcher struct {
	calls atomic.Int64
	fail  map[string]error
}

func (f *fakeFetcher) fetch(ctx context.Context, path string) (*Listing, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.fail[path]; err != nil {
		return nil, err
	}
	return &Listing{Success: true, Path: path, Items: []Item{
		{Path: JoinPath(path, "child.txt"), Name: "child.txt", Type: ItemFile},
	}}, nil
}

func TestListingCache_TTLBoundary(t *testing.T) {
	now := setClock(t, baseTime)
	ttl := 10 * time.Second
	c := NewListingCache(ttl, 10)
	f := &fakeFetcher{}
	ctx := context.Background()

	_, err := c.ListDirectory(ctx, "/a", f.fetch)
	require.NoError(t, err)
	require.Equal(t, int64(1), f.calls.Load())

	*now = baseTime.Add(ttl - time.Millisecond)
	_, err = c.ListDirectory(ctx, "/a", f.fetch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.calls.Load(), "hit just before the ttl")

	*now = baseTime.Add(ttl)
	_, err = c.ListDirectory(ctx, "/a", f.fetch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.calls.Load(), "miss at exactly the ttl")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
}

func TestListingCache_LRUEviction(t *testing.T) {
	setClock(t, baseTime)
	c := NewListingCache(time.Minute, 2)
	f := &fakeFetcher{}
	ctx := context.Background()

	c.ListDirectory(ctx, "/A", f.fetch) //nolint:errcheck
	c.ListDirectory(ctx, "/B", f.fetch) //nolint:errcheck
	c.ListDirectory(ctx, "/A", f.fetch) //nolint:errcheck
	c.ListDirectory(ctx, "/C", f.fetch) //nolint:errcheck

	assert.Equal(t, 2, c.Len())
	_, okA := c.Peek("/A")
	_, okB := c.Peek("/B")
	_, okC := c.Peek("/C")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestListingCache_NormalizedKeys(t *testing.T) {
	setClock(t, baseTime)
	c := NewListingCache(time.Minute, 10)
	f := &fakeFetcher{}
	ctx := context.Background()

	c.ListDirectory(ctx, `C:\Users\Me\`, f.fetch)  //nolint:errcheck
	c.ListDirectory(ctx, "c:/users//me", f.fetch) //nolint:errcheck
	assert.Equal(t, int64(1), f.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestListingCache_StaleFallback(t *testing.T) {
	now := setClock(t, baseTime)
	c := NewListingCache(time.Second, 10)
	f := &fakeFetcher{fail: map[string]error{}}
	ctx := context.Background()

	first, err := c.ListDirectory(ctx, "/a", f.fetch)
	require.NoError(t, err)

	*now = baseTime.Add(time.Hour)
	f.fail["/a"] = errors.New("backend down")
	got, err := c.ListDirectory(ctx, "/a", f.fetch)
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Equal(t, int64(1), c.Stats().StaleServes)

	age, ok := c.Age("/a")
	require.True(t, ok)
	assert.Equal(t, time.Hour, age)

	f.fail["/b"] = errors.New("backend down")
	_, err = c.ListDirectory(ctx, "/b", f.fetch)
	assert.EqualError(t, err, "backend down")
}

func TestListingCache_NilListingStoredAsEmpty(t *testing.T) {
	c := NewListingCache(time.Minute, 10)
	got, err := c.ListDirectory(context.Background(), "/empty", func(context.Context, string) (*Listing, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Empty(t, got.Items)
}

func TestListingCache_Invalidate(t *testing.T) {
	setClock(t, baseTime)
	c := NewListingCache(time.Minute, 10)
	f := &fakeFetcher{}
	ctx := context.Background()
	for _, p := range []string{"/a", "/a/b", "/a/b/c", "/ab"} {
		c.ListDirectory(ctx, p, f.fetch) //nolint:errcheck
	}

	assert.True(t, c.Invalidate("/A/B/C/"))
	assert.False(t, c.Invalidate("/a/b/c"))
	assert.Equal(t, 2, c.InvalidatePrefix("/A"))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Peek("/ab")
	assert.True(t, ok)
}

func TestListingCache_PrefetchReportsPerPath(t *testing.T) {
	setClock(t, baseTime)
	c := NewListingCache(time.Minute, 10)
	c.SetConcurrency(2)
	f := &fakeFetcher{fail: map[string]error{"/bad": errors.New("boom")}}

	results := c.PrefetchDirectories(context.Background(), []string{"/one", "/bad", "/two"}, f.fetch)
	require.Len(t, results, 3)
	assert.Equal(t, "/one", results[0].Path)
	assert.True(t, results[0].OK())
	assert.Equal(t, 1, results[0].Items)
	assert.False(t, results[1].OK())
	assert.EqualError(t, results[1].Err, "boom")
	assert.True(t, results[2].OK())
	assert.Equal(t, 2, c.Len())
}

func TestListingCache_PrefetchCancelled(t *testing.T) {
	c := NewListingCache(time.Minute, 10)
	f := &fakeFetcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := c.PrefetchDirectories(ctx, []string{"/x"}, f.fetch)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestListingCache_SetMaxCacheSizeShrinks(t *testing.T) {
	setClock(t, baseTime)
	c := NewListingCache(time.Minute, 10)
	f := &fakeFetcher{}
	ctx := context.Background()
	for _, p := range []string{"/1", "/2", "/3"} {
		c.ListDirectory(ctx, p, f.fetch) //nolint:errcheck
	}
	c.ListDirectory(ctx, "/1", f.fetch) //nolint:errcheck

	c.SetMaxCacheSize(1)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Peek("/1")
	assert.True(t, ok)
}

func TestListingCache_SetTTL(t *testing.T) {
	now := setClock(t, baseTime)
	c := NewListingCache(time.Hour, 10)
	c.Put("/a", &Listing{Success: true, Path: "/a"})

	*now = baseTime.Add(2 * time.Minute)
	_, ok := c.Peek("/a")
	assert.True(t, ok)

	c.SetTTL(time.Minute)
	_, ok = c.Peek("/a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "stale entries stay until evicted")
}

func TestListingCache_ExportImport(t *testing.T) {
	setClock(t, baseTime)
	c := NewListingCache(time.Minute, 3)
	f := &fakeFetcher{}
	ctx := context.Background()
	c.ListDirectory(ctx, "/a", f.fetch) //nolint:errcheck
	c.ListDirectory(ctx, "/b", f.fetch) //nolint:errcheck

	snap := c.Export()
	assert.Len(t, snap.Entries, 2)
	assert.Equal(t, 3, snap.MaxCacheSize)
	assert.Equal(t, time.Minute, snap.TTL)

	restored := NewListingCache(0, 0)
	restored.Import(snap)
	assert.Equal(t, 2, restored.Len())
	got, ok := restored.Peek("/b")
	require.True(t, ok)
	assert.Equal(t, "/b", got.Path)

	// the access order survives: /a is older and goes first
	restored.Put("/c", &Listing{})
	restored.Put("/d", &Listing{})
	_, ok = restored.Peek("/a")
	assert.False(t, ok)
}

func TestListingCache_Clear(t *testing.T) {
	c := NewListingCache(time.Minute, 10)
	c.Put("/a", &Listing{})
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, ListingCacheStats{}, c.Stats())
}
