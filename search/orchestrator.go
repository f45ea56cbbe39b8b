package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

// DefaultIndexThreshold is the index size above which searches are answered
// from the index instead of the backend.
const DefaultIndexThreshold = 100

// ErrWarmupRunning is returned by Warmup while another warmup is in progress.
var ErrWarmupRunning = errors.New("warmup already in progress")

// OrchestratorConfig configures an Orchestrator. Zero values select defaults.
type OrchestratorConfig struct {
	IndexThreshold       int
	ListingTTL           time.Duration
	ListingMaxEntries    int
	QueryCacheTTL        time.Duration
	QueryCacheMaxEntries int
	PrefetchConcurrency  int
	// SearchRoots are searched on the backend when a query has no directory.
	// Empty means the guard's allowed directories.
	SearchRoots []string
}

// SearchStats are the orchestrator's own counters.
type SearchStats struct {
	TotalSearches     int64         `json:"totalSearches"`
	IndexedSearches   int64         `json:"indexedSearches"`
	RemoteSearches    int64         `json:"remoteSearches"`
	CacheHits         int64         `json:"cacheHits"`
	AverageSearchTime time.Duration `json:"averageSearchTime"`
}

// Stats aggregates the counters of every owned component.
type Stats struct {
	Search            SearchStats       `json:"search"`
	Index             IndexStats        `json:"index"`
	Listings          ListingCacheStats `json:"listings"`
	QueryCacheEntries int               `json:"queryCacheEntries"`
	GuardDecisions    int               `json:"guardDecisions"`
	Indexing          bool              `json:"indexing"`
	LastIndexTime     time.Time         `json:"lastIndexTime"`
}

// UpdateOptions controls UpdateFileContent.
type UpdateOptions struct {
	Encoding string // "utf8" (default) or "base64"
	Backup   bool
	// RequireBackup turns a failed backup into a failed update.
	RequireBackup bool
}

// Orchestrator combines the access guard, the keyword index, the listing
// cache and the query cache in front of a Backend.
type Orchestrator struct {
	backend   Backend
	guard     *DirectoryAccessGuard
	index     *KeywordIndex
	listings  *ListingCache
	queries   *QueryCache
	events    *EventBus
	threshold int
	roots     []string

	indexing atomic.Bool

	mu            gosync.Mutex
	stats         SearchStats
	lastIndexTime time.Time
}

// NewOrchestrator creates an orchestrator owning a fresh index and caches.
func NewOrchestrator(backend Backend, guard *DirectoryAccessGuard, cfg OrchestratorConfig) *Orchestrator {
	if guard == nil {
		guard = NewDirectoryAccessGuard(GuardConfig{})
	}
	threshold := cfg.IndexThreshold
	if threshold <= 0 {
		threshold = DefaultIndexThreshold
	}
	listings := NewListingCache(cfg.ListingTTL, cfg.ListingMaxEntries)
	if cfg.PrefetchConcurrency > 0 {
		listings.SetConcurrency(cfg.PrefetchConcurrency)
	}
	return &Orchestrator{
		backend:   backend,
		guard:     guard,
		index:     NewKeywordIndex(),
		listings:  listings,
		queries:   NewQueryCache(cfg.QueryCacheTTL, cfg.QueryCacheMaxEntries),
		events:    NewEventBus(),
		threshold: threshold,
		roots:     lo.Map(cfg.SearchRoots, func(r string, _ int) string { return CleanPath(r) }),
	}
}

// SearchFiles answers a query from the query cache, the index or the backend.
func (o *Orchestrator) SearchFiles(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	l := sub("orchestrator")
	start := time.Now()
	key := QueryKey(query, opts)

	if cached, ok := o.queries.Get(key); ok {
		o.mu.Lock()
		o.stats.TotalSearches++
		o.stats.CacheHits++
		o.mu.Unlock()
		hit := *cached
		hit.Results = slices.Clone(cached.Results)
		hit.Provenance = ProvenanceCached
		hit.Cached = true
		hit.Elapsed = time.Since(start)
		l.Debug("query cache hit", "query", query)
		return &hit, nil
	}

	if opts.Directory != "" {
		if err := o.guard.CheckDirectoryAccess(opts.Directory); err != nil {
			return nil, err
		}
	}

	var (
		results    []IndexedFile
		provenance Provenance
	)
	if !opts.ForceRemote && o.index.Len() > o.threshold {
		results = o.index.Search(query, opts)
		provenance = ProvenanceIndexed
	} else {
		remote, err := o.searchRemote(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		results = remote
		provenance = ProvenanceRemote
	}

	// Indexed entries may predate a policy change.
	results = lo.Filter(results, func(f IndexedFile, _ int) bool {
		return o.guard.Allowed(f.Path)
	})
	if results == nil {
		results = []IndexedFile{}
	}

	elapsed := time.Since(start)
	o.mu.Lock()
	o.stats.TotalSearches++
	if provenance == ProvenanceIndexed {
		o.stats.IndexedSearches++
	} else {
		o.stats.RemoteSearches++
	}
	n := o.stats.IndexedSearches + o.stats.RemoteSearches
	o.stats.AverageSearchTime += (elapsed - o.stats.AverageSearchTime) / time.Duration(n)
	o.mu.Unlock()

	resp := &SearchResponse{
		Query:      query,
		Results:    results,
		Total:      len(results),
		Provenance: provenance,
		Indexed:    provenance == ProvenanceIndexed,
		Elapsed:    elapsed,
	}
	o.queries.Put(key, resp)
	l.Info("search", "query", query, "provenance", provenance, "results", len(results), "elapsed", elapsed)
	return resp, nil
}

// searchRoots returns the backend search roots for opts.
func (o *Orchestrator) searchRoots(opts SearchOptions) []string {
	if opts.Directory != "" {
		return []string{CleanPath(opts.Directory)}
	}
	if len(o.roots) > 0 {
		return o.roots
	}
	return o.guard.AllowedDirectories()
}

// searchRemote queries the backend under each root, indexes whatever comes
// back and runs the filter stage over the indexed records.
func (o *Orchestrator) searchRemote(ctx context.Context, query string, opts SearchOptions) ([]IndexedFile, error) {
	var items []Item
	for _, root := range o.searchRoots(opts) {
		if opts.Directory == "" && !o.guard.Allowed(root) {
			continue
		}
		found, err := o.backend.Search(ctx, query, root)
		if err != nil {
			return nil, err
		}
		items = append(items, found...)
	}
	items = lo.UniqBy(items, func(it Item) string { return NormalizePath(it.Path) })
	return ApplyFilters(o.indexItems(items), opts), nil
}

// indexItems replaces any existing records for the items' paths with fresh
// ones and returns the new records.
func (o *Orchestrator) indexItems(items []Item) []IndexedFile {
	files := make([]IndexedFile, 0, len(items))
	for _, it := range items {
		if it.Path == "" {
			continue
		}
		for _, id := range o.index.FindByPath(it.Path) {
			o.index.RemoveFile(id)
		}
		id := o.index.AddFile(it.Path, FileMetadata{
			Name:     it.Name,
			Size:     it.Size,
			Modified: it.Modified,
			Type:     ParseFileType(it.FileType, it.Name, it.IsDir()),
		})
		if f, ok := o.index.Get(id); ok {
			files = append(files, f)
		}
	}
	return files
}

// fetchAndIndex is the listing cache's fetch function: browse, then index
// the entries as a side effect.
func (o *Orchestrator) fetchAndIndex(ctx context.Context, path string) (*Listing, error) {
	listing, err := o.backend.Browse(ctx, path)
	if err != nil {
		return nil, err
	}
	if listing != nil {
		o.indexItems(listing.Items)
	}
	return listing, nil
}

// ListDirectory returns the guarded listing of path, through the listing cache.
func (o *Orchestrator) ListDirectory(ctx context.Context, path string) (*Listing, error) {
	if err := o.guard.CheckDirectoryAccess(path); err != nil {
		return nil, err
	}
	listing, err := o.listings.ListDirectory(ctx, CleanPath(path), o.fetchAndIndex)
	if err != nil {
		return nil, err
	}
	out := &Listing{Success: listing.Success, Path: listing.Path}
	out.Items = lo.Filter(listing.Items, func(it Item, _ int) bool {
		return o.guard.Allowed(it.Path)
	})
	return out, nil
}

// ReadFileContent reads a file whose directory is accessible.
func (o *Orchestrator) ReadFileContent(ctx context.Context, path string, maxSize int64) (*FileContent, error) {
	if err := o.guard.CheckDirectoryAccess(ParentDir(path)); err != nil {
		return nil, err
	}
	return o.backend.ReadFile(ctx, CleanPath(path), maxSize)
}

// FileInfo returns metadata of a file whose directory is accessible.
func (o *Orchestrator) FileInfo(ctx context.Context, path string) (*FileInfo, error) {
	if err := o.guard.CheckDirectoryAccess(ParentDir(path)); err != nil {
		return nil, err
	}
	return o.backend.FileInfo(ctx, CleanPath(path))
}

// BackupPathFor returns the timestamped backup location of path.
func BackupPathFor(path string) string {
	return CleanPath(path) + ".bak-" + nowFunc().UTC().Format("20060102-150405")
}

// UpdateFileContent writes content to path and returns the backup path, if
// a backup was taken.
func (o *Orchestrator) UpdateFileContent(ctx context.Context, path, content string, opts UpdateOptions) (string, error) {
	l := sub("orchestrator")
	if err := o.guard.CheckFileEditAccess(path); err != nil {
		return "", err
	}
	path = CleanPath(path)
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "utf8"
	}

	var backupPath string
	if opts.Backup {
		backupPath = BackupPathFor(path)
		if err := o.backend.BackupFile(ctx, path, backupPath); err != nil {
			if opts.RequireBackup {
				return "", fmt.Errorf("backup %s: %w", path, err)
			}
			l.Warn("backup failed, continuing", "path", path, "err", err)
			backupPath = ""
		}
	}

	if _, err := o.backend.WriteFile(ctx, path, content, encoding, false); err != nil {
		return "", err
	}
	o.afterMutation(EventUpdate, path, ParentDir(path))
	l.Info("file updated", "path", path, "backup", backupPath)
	return backupPath, nil
}

// DeleteFile removes path on the backend and drops its index records.
func (o *Orchestrator) DeleteFile(ctx context.Context, path string) error {
	if err := o.guard.CheckFileEditAccess(path); err != nil {
		return err
	}
	path = CleanPath(path)
	if err := o.backend.DeleteFile(ctx, path); err != nil {
		return err
	}
	removed := o.removeIndexed(path)
	o.listings.InvalidatePrefix(path)
	o.afterMutation(EventDelete, path, ParentDir(path))
	sub("orchestrator").Info("file deleted", "path", path, "unindexed", removed)
	return nil
}

// RenameFile moves oldPath to newPath. When oldPath is a directory every
// record below it is re-indexed under newPath.
func (o *Orchestrator) RenameFile(ctx context.Context, oldPath, newPath string) error {
	if err := o.guard.CheckFileEditAccess(oldPath); err != nil {
		return err
	}
	if err := o.guard.CheckFileEditAccess(newPath); err != nil {
		return err
	}
	oldPath, newPath = CleanPath(oldPath), CleanPath(newPath)
	if err := o.backend.RenameFile(ctx, oldPath, newPath); err != nil {
		return err
	}

	moved := o.rehome(oldPath, newPath)
	o.listings.InvalidatePrefix(oldPath)
	o.listings.InvalidatePrefix(newPath)
	o.afterMutation(EventRename, oldPath, ParentDir(oldPath), ParentDir(newPath))
	sub("orchestrator").Info("file renamed", "from", oldPath, "to", newPath, "reindexed", moved)
	return nil
}

// InvalidatePath forgets everything cached or indexed at or below path.
// Used for changes made outside the orchestrator.
func (o *Orchestrator) InvalidatePath(path string) {
	path = CleanPath(path)
	n := o.listings.InvalidatePrefix(path)
	if o.listings.Invalidate(ParentDir(path)) {
		n++
	}
	ids := o.index.FindUnder(path)
	for _, id := range ids {
		o.index.RemoveFile(id)
	}
	o.queries.Clear()
	o.events.Publish(CacheEvent{Kind: EventInvalidate, Path: path})
	sub("orchestrator").Debug("path invalidated", "path", path, "listings", n, "unindexed", len(ids))
}

func (o *Orchestrator) removeIndexed(path string) int {
	ids := o.index.FindUnder(path)
	for _, id := range ids {
		o.index.RemoveFile(id)
	}
	return len(ids)
}

// rehome moves every record at or below oldPath to the same place under newPath.
func (o *Orchestrator) rehome(oldPath, newPath string) int {
	ids := o.index.FindUnder(oldPath)
	for _, id := range ids {
		f, ok := o.index.Get(id)
		if !ok {
			continue
		}
		target := newPath
		if len(f.Path) > len(oldPath) {
			target = JoinPath(newPath, f.Path[len(oldPath):])
		}
		o.index.RemoveFile(id)
		o.index.AddFile(target, FileMetadata{
			Name:     BaseName(target),
			Size:     f.Size,
			Modified: f.Modified,
			Snippet:  strings.Join(f.ContentTokens, " "),
		})
	}
	return len(ids)
}

// afterMutation drops the listings of dirs and the whole query cache.
func (o *Orchestrator) afterMutation(kind EventKind, path string, dirs ...string) {
	for _, dir := range lo.Uniq(dirs) {
		o.listings.Invalidate(dir)
	}
	o.queries.Clear()
	o.events.Publish(CacheEvent{Kind: kind, Path: path})
}

// PrefetchDirectories loads listings for paths in the background of a
// session. Denied paths are reported without a fetch.
func (o *Orchestrator) PrefetchDirectories(ctx context.Context, paths []string) []PrefetchResult {
	results := make([]PrefetchResult, len(paths))
	var allowed []string
	var slots []int
	for i, p := range paths {
		results[i].Path = p
		if err := o.guard.CheckDirectoryAccess(p); err != nil {
			results[i].Err = err
			continue
		}
		allowed = append(allowed, CleanPath(p))
		slots = append(slots, i)
	}
	for j, r := range o.listings.PrefetchDirectories(ctx, allowed, o.fetchAndIndex) {
		results[slots[j]].Items = r.Items
		results[slots[j]].Err = r.Err
	}
	return results
}

// Warmup prefetches paths and their subfolders down to depth levels below
// them, indexing every listed entry. Only one warmup runs at a time.
func (o *Orchestrator) Warmup(ctx context.Context, paths []string, depth int) ([]PrefetchResult, error) {
	if !o.indexing.CompareAndSwap(false, true) {
		return nil, ErrWarmupRunning
	}
	defer o.indexing.Store(false)

	l := sub("orchestrator")
	start := time.Now()
	var all []PrefetchResult
	level := paths
	for d := 0; len(level) > 0 && d <= depth; d++ {
		results := o.PrefetchDirectories(ctx, level)
		all = append(all, results...)
		var next []string
		for _, r := range results {
			if !r.OK() {
				continue
			}
			listing, ok := o.listings.Peek(r.Path)
			if !ok {
				continue
			}
			for _, it := range listing.Items {
				if it.IsDir() && o.guard.Allowed(it.Path) {
					next = append(next, it.Path)
				}
			}
		}
		if ctx.Err() != nil {
			break
		}
		level = next
	}

	o.mu.Lock()
	o.lastIndexTime = nowFunc()
	o.mu.Unlock()
	l.Info("warmup complete", "dirs", len(all), "indexed", o.index.Len(), "elapsed", time.Since(start))
	return all, ctx.Err()
}

// IsIndexing reports whether a warmup is running.
func (o *Orchestrator) IsIndexing() bool {
	return o.indexing.Load()
}

// LastIndexTime returns when the last warmup finished.
func (o *Orchestrator) LastIndexTime() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastIndexTime
}

// Stats returns the counters of the orchestrator and its components.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	search, last := o.stats, o.lastIndexTime
	o.mu.Unlock()
	return Stats{
		Search:            search,
		Index:             o.index.Stats(),
		Listings:          o.listings.Stats(),
		QueryCacheEntries: o.queries.Len(),
		GuardDecisions:    o.guard.CacheLen(),
		Indexing:          o.IsIndexing(),
		LastIndexTime:     last,
	}
}

func (o *Orchestrator) Guard() *DirectoryAccessGuard { return o.guard }
func (o *Orchestrator) Index() *KeywordIndex         { return o.index }
func (o *Orchestrator) Listings() *ListingCache      { return o.listings }
func (o *Orchestrator) QueryCache() *QueryCache      { return o.queries }
func (o *Orchestrator) Events() *EventBus            { return o.events }

// Export captures the state of every component.
func (o *Orchestrator) Export() Snapshot {
	o.mu.Lock()
	search, last := o.stats, o.lastIndexTime
	o.mu.Unlock()
	return Snapshot{
		Index:           o.index.Export(),
		Cache:           o.listings.Export(),
		DirectoryConfig: o.guard.Export(),
		Stats:           search,
		LastIndexTime:   last,
	}
}

// Import restores a snapshot taken with Export. The query cache starts empty.
func (o *Orchestrator) Import(snap Snapshot) error {
	if err := o.index.Import(snap.Index); err != nil {
		return err
	}
	o.listings.Import(snap.Cache)
	if len(snap.DirectoryConfig.Allowed) > 0 || len(snap.DirectoryConfig.Blacklisted) > 0 {
		o.guard.Import(snap.DirectoryConfig)
	}
	o.queries.Clear()

	o.mu.Lock()
	o.stats = snap.Stats
	o.lastIndexTime = snap.LastIndexTime
	o.mu.Unlock()
	o.events.Publish(CacheEvent{Kind: EventClear})
	return nil
}

// ClearAll resets every component and counter.
func (o *Orchestrator) ClearAll() {
	o.index.Clear()
	o.listings.Clear()
	o.queries.Clear()
	o.guard.ClearCache()

	o.mu.Lock()
	o.stats = SearchStats{}
	o.lastIndexTime = time.Time{}
	o.mu.Unlock()
	o.events.Publish(CacheEvent{Kind: EventClear})
	sub("orchestrator").Info("all caches cleared")
}
