package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTree = map[string]string{
	"/data/docs/report.pdf":       "pdf",
	"/data/docs/report_final.pdf": "final",
	"/data/docs/notes.txt":        "notes",
	"/data/music/song.mp3":        "la",
	"/data/.git/config":           "secret",
	"/outside/report.pdf":         "nope",
}

func setupOrchestrator(t *testing.T, cfg OrchestratorConfig) (*Orchestrator, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for p, content := range testTree {
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0644))
	}
	guard := NewDirectoryAccessGuard(GuardConfig{Allowed: []string{"/data"}})
	return NewOrchestrator(NewFSBackend(fs, nil), guard, cfg), fs
}

func TestOrchestrator_RemoteThenCached(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()

	resp, err := o.SearchFiles(ctx, "report", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, ProvenanceRemote, resp.Provenance)
	assert.False(t, resp.Cached)
	assert.ElementsMatch(t, []string{"/data/docs/report.pdf", "/data/docs/report_final.pdf"}, paths(resp.Results))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 2, o.Index().Len(), "remote results are indexed")

	again, err := o.SearchFiles(ctx, "REPORT", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, ProvenanceCached, again.Provenance)
	assert.True(t, again.Cached)
	assert.Equal(t, paths(resp.Results), paths(again.Results))
	assert.Equal(t, ProvenanceRemote, resp.Provenance, "the stored response is not modified")

	s := o.Stats().Search
	assert.Equal(t, int64(2), s.TotalSearches)
	assert.Equal(t, int64(1), s.RemoteSearches)
	assert.Equal(t, int64(0), s.IndexedSearches)
	assert.Equal(t, int64(1), s.CacheHits)
}

func TestOrchestrator_CachedHitIsACopy(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()

	_, err := o.SearchFiles(ctx, "report", SearchOptions{})
	require.NoError(t, err)
	hit, err := o.SearchFiles(ctx, "report", SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, hit.Results)
	want := paths(hit.Results)

	hit.Results[0].Path = "/tampered"
	hit.Results = hit.Results[:0]

	again, err := o.SearchFiles(ctx, "report", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, want, paths(again.Results))
}

func TestOrchestrator_IndexedAboveThreshold(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{IndexThreshold: 2})
	ctx := context.Background()

	_, err := o.ListDirectory(ctx, "/data/docs")
	require.NoError(t, err)
	require.Equal(t, 3, o.Index().Len())

	resp, err := o.SearchFiles(ctx, "notes", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, ProvenanceIndexed, resp.Provenance)
	assert.True(t, resp.Indexed)
	assert.Equal(t, []string{"/data/docs/notes.txt"}, paths(resp.Results))

	forced, err := o.SearchFiles(ctx, "notes", SearchOptions{ForceRemote: true})
	require.NoError(t, err)
	assert.Equal(t, ProvenanceRemote, forced.Provenance)
	assert.Equal(t, 3, o.Index().Len(), "re-indexing replaces records")

	s := o.Stats().Search
	assert.Equal(t, int64(1), s.IndexedSearches)
	assert.Equal(t, int64(1), s.RemoteSearches)
}

func TestOrchestrator_AtThresholdStaysRemote(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{IndexThreshold: 3})
	ctx := context.Background()
	_, err := o.ListDirectory(ctx, "/data/docs")
	require.NoError(t, err)

	resp, err := o.SearchFiles(ctx, "notes", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, ProvenanceRemote, resp.Provenance)
}

func TestOrchestrator_SearchDirectoryGuarded(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()

	_, err := o.SearchFiles(ctx, "report", SearchOptions{Directory: "/outside"})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = o.SearchFiles(ctx, "config", SearchOptions{Directory: "/data/.git"})
	assert.ErrorIs(t, err, ErrBlacklisted)

	resp, err := o.SearchFiles(ctx, "report", SearchOptions{Directory: "/data/docs", FileTypes: []string{"pdf"}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestOrchestrator_ResultsFilteredByGuard(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	resp, err := o.SearchFiles(context.Background(), "config", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
}

func TestOrchestrator_SearchRoots(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{SearchRoots: []string{"/data/music", "/outside"}})
	resp, err := o.SearchFiles(context.Background(), "song", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/music/song.mp3"}, paths(resp.Results))

	resp, err = o.SearchFiles(context.Background(), "report", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "disallowed roots are skipped")
}

func TestOrchestrator_ListDirectory(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()

	listing, err := o.ListDirectory(ctx, "/data")
	require.NoError(t, err)
	names := make([]string, 0, len(listing.Items))
	for _, it := range listing.Items {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"docs", "music"}, names)

	_, err = o.ListDirectory(ctx, "/outside")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = o.ListDirectory(ctx, "/data/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrchestrator_ReadAndInfo(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()

	content, err := o.ReadFileContent(ctx, "/data/docs/notes.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "notes", content.Content)
	assert.Equal(t, "utf8", content.Encoding)

	info, err := o.FileInfo(ctx, "/data/docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.IsDirectory)

	_, err = o.ReadFileContent(ctx, "/outside/report.pdf", 0)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = o.FileInfo(ctx, "/data/.git/config")
	assert.ErrorIs(t, err, ErrBlacklisted)
}

func TestOrchestrator_RenameInvalidates(t *testing.T) {
	o, fs := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()

	_, err := o.SearchFiles(ctx, "notes", SearchOptions{})
	require.NoError(t, err)
	_, err = o.ListDirectory(ctx, "/data/docs")
	require.NoError(t, err)
	require.Equal(t, 1, o.QueryCache().Len())

	require.NoError(t, o.RenameFile(ctx, "/data/docs/notes.txt", "/data/docs/memo.txt"))
	assert.Equal(t, 0, o.QueryCache().Len())
	_, cached := o.Listings().Peek("/data/docs")
	assert.False(t, cached)
	assert.Empty(t, o.Index().FindByPath("/data/docs/notes.txt"))
	assert.Len(t, o.Index().FindByPath("/data/docs/memo.txt"), 1)

	exists, _ := afero.Exists(fs, "/data/docs/memo.txt")
	assert.True(t, exists)

	listing, err := o.ListDirectory(ctx, "/data/docs")
	require.NoError(t, err)
	for _, it := range listing.Items {
		assert.NotEqual(t, "notes.txt", it.Name)
	}

	err = o.RenameFile(ctx, "/data/docs/memo.txt", "/outside/memo.txt")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestOrchestrator_RenameDirectoryInvalidates(t *testing.T) {
	o, fs := setupOrchestrator(t, OrchestratorConfig{IndexThreshold: 2})
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fs, "/data/docs/old/draft.txt", []byte("draft"), 0644))

	for _, dir := range []string{"/data", "/data/docs", "/data/docs/old"} {
		_, err := o.ListDirectory(ctx, dir)
		require.NoError(t, err)
	}
	require.Len(t, o.Index().FindUnder("/data/docs"), 6)

	require.NoError(t, o.RenameFile(ctx, "/data/docs", "/data/papers"))

	for _, dir := range []string{"/data", "/data/docs", "/data/docs/old"} {
		_, cached := o.Listings().Peek(dir)
		assert.False(t, cached, dir)
	}
	_, err := o.ListDirectory(ctx, "/data/docs")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, o.Index().FindUnder("/data/docs"))
	assert.Len(t, o.Index().FindUnder("/data/papers"), 6)
	moved := o.Index().FindByPath("/data/papers/old/draft.txt")
	require.Len(t, moved, 1)
	f, _ := o.Index().Get(moved[0])
	assert.Equal(t, "draft.txt", f.Name)
	folder := o.Index().FindByPath("/data/papers")
	require.Len(t, folder, 1)
	f, _ = o.Index().Get(folder[0])
	assert.Equal(t, "papers", f.Name)

	resp, err := o.SearchFiles(ctx, "report", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, ProvenanceIndexed, resp.Provenance)
	assert.ElementsMatch(t, []string{"/data/papers/report.pdf", "/data/papers/report_final.pdf"}, paths(resp.Results))

	listing, err := o.ListDirectory(ctx, "/data/papers/old")
	require.NoError(t, err)
	assert.Equal(t, []string{"draft.txt"}, itemNames(listing.Items))
}

// folderBackend deletes directories recursively, as some remote backends do.
type folderBackend struct {
	*FSBackend
	fs afero.Fs
}

func (b folderBackend) DeleteFile(_ context.Context, path string) error {
	return b.fs.RemoveAll(path)
}

func TestOrchestrator_DeleteDirectoryInvalidates(t *testing.T) {
	fs := afero.NewMemMapFs()
	for p, content := range testTree {
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0644))
	}
	guard := NewDirectoryAccessGuard(GuardConfig{Allowed: []string{"/data"}})
	o := NewOrchestrator(folderBackend{FSBackend: NewFSBackend(fs, nil), fs: fs}, guard, OrchestratorConfig{})
	ctx := context.Background()

	for _, dir := range []string{"/data", "/data/docs"} {
		_, err := o.ListDirectory(ctx, dir)
		require.NoError(t, err)
	}
	require.NoError(t, o.DeleteFile(ctx, "/data/docs"))

	assert.Empty(t, o.Index().FindUnder("/data/docs"))
	assert.Len(t, o.Index().FindUnder("/data/music"), 1)
	_, cached := o.Listings().Peek("/data/docs")
	assert.False(t, cached)
	_, err := o.ListDirectory(ctx, "/data/docs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrchestrator_DeleteUnindexes(t *testing.T) {
	o, fs := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()
	events := o.Events().Subscribe()
	defer o.Events().Unsubscribe(events)

	_, err := o.ListDirectory(ctx, "/data/docs")
	require.NoError(t, err)
	require.Len(t, o.Index().FindByPath("/data/docs/notes.txt"), 1)

	require.NoError(t, o.DeleteFile(ctx, "/data/docs/notes.txt"))
	assert.Empty(t, o.Index().FindByPath("/data/docs/notes.txt"))
	exists, _ := afero.Exists(fs, "/data/docs/notes.txt")
	assert.False(t, exists)

	select {
	case ev := <-events:
		assert.Equal(t, EventDelete, ev.Kind)
		assert.Equal(t, "/data/docs/notes.txt", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("no delete event")
	}

	assert.ErrorIs(t, o.DeleteFile(ctx, "/data/tool.exe"), ErrUnsafeFileType)
}

func TestOrchestrator_UpdateWithBackup(t *testing.T) {
	setClock(t, baseTime)
	o, fs := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()

	backup, err := o.UpdateFileContent(ctx, "/data/docs/notes.txt", "rewritten", UpdateOptions{Backup: true})
	require.NoError(t, err)
	assert.Equal(t, "/data/docs/notes.txt.bak-20240501-120000", backup)

	data, err := afero.ReadFile(fs, backup)
	require.NoError(t, err)
	assert.Equal(t, "notes", string(data))
	data, err = afero.ReadFile(fs, "/data/docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", string(data))
}

func TestOrchestrator_UpdateBackupFailure(t *testing.T) {
	o, fs := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()

	backup, err := o.UpdateFileContent(ctx, "/data/docs/new.txt", "hello", UpdateOptions{Backup: true})
	require.NoError(t, err, "a failed backup does not block the write")
	assert.Empty(t, backup)
	data, err := afero.ReadFile(fs, "/data/docs/new.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = o.UpdateFileContent(ctx, "/data/docs/other.txt", "x", UpdateOptions{Backup: true, RequireBackup: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	exists, _ := afero.Exists(fs, "/data/docs/other.txt")
	assert.False(t, exists)
}

func TestOrchestrator_UpdateBase64AndGuard(t *testing.T) {
	o, fs := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()

	_, err := o.UpdateFileContent(ctx, "/data/blob.bin", "AAEC", UpdateOptions{Encoding: "base64"})
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, "/data/blob.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, data)

	_, err = o.UpdateFileContent(ctx, "/data/run.bat", "echo", UpdateOptions{})
	assert.ErrorIs(t, err, ErrUnsafeFileType)
	_, err = o.UpdateFileContent(ctx, "/data/.git/config", "x", UpdateOptions{})
	assert.ErrorIs(t, err, ErrBlacklisted)
}

func TestOrchestrator_InvalidatePath(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()
	_, err := o.ListDirectory(ctx, "/data")
	require.NoError(t, err)
	_, err = o.ListDirectory(ctx, "/data/docs")
	require.NoError(t, err)
	_, err = o.SearchFiles(ctx, "song", SearchOptions{})
	require.NoError(t, err)

	o.InvalidatePath("/data/docs")
	assert.Empty(t, o.Index().FindUnder("/data/docs"))
	assert.NotEmpty(t, o.Index().FindByPath("/data/music/song.mp3"))
	_, ok := o.Listings().Peek("/data/docs")
	assert.False(t, ok)
	_, ok = o.Listings().Peek("/data")
	assert.False(t, ok, "the parent listing is dropped too")
	assert.Equal(t, 0, o.QueryCache().Len())
}

func TestOrchestrator_PrefetchReportsDenied(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	results := o.PrefetchDirectories(context.Background(), []string{"/data/docs", "/outside", "/data/missing"})
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.Equal(t, 3, results[0].Items)
	assert.True(t, IsDenied(results[1].Err))
	assert.ErrorIs(t, results[2].Err, ErrNotFound)
}

func TestOrchestrator_Warmup(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	results, err := o.Warmup(context.Background(), []string{"/data"}, 2)
	require.NoError(t, err)

	var dirs []string
	for _, r := range results {
		require.NoError(t, r.Err)
		dirs = append(dirs, r.Path)
	}
	assert.ElementsMatch(t, []string{"/data", "/data/docs", "/data/music"}, dirs)
	assert.Len(t, o.Index().FindByPath("/data/music/song.mp3"), 1)
	assert.False(t, o.IsIndexing())
	assert.False(t, o.LastIndexTime().IsZero())

	shallow, _ := setupOrchestrator(t, OrchestratorConfig{})
	results, err = shallow.Warmup(context.Background(), []string{"/data"}, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestOrchestrator_WarmupRunsOnce(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	o.indexing.Store(true)
	_, err := o.Warmup(context.Background(), []string{"/data"}, 1)
	assert.True(t, errors.Is(err, ErrWarmupRunning))
	assert.True(t, o.Stats().Indexing)
}

func TestOrchestrator_ExportImport(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()
	_, err := o.Warmup(ctx, []string{"/data"}, 1)
	require.NoError(t, err)
	_, err = o.SearchFiles(ctx, "report", SearchOptions{})
	require.NoError(t, err)

	snap := o.Export()
	restored := NewOrchestrator(nil, nil, OrchestratorConfig{})
	require.NoError(t, restored.Import(snap))

	assert.Equal(t, o.Index().Len(), restored.Index().Len())
	assert.Equal(t, o.Listings().Len(), restored.Listings().Len())
	assert.Equal(t, o.Stats().Search, restored.Stats().Search)
	assert.True(t, restored.Guard().IsDirectoryAllowed("/data/docs"))
	assert.Equal(t, o.LastIndexTime(), restored.LastIndexTime())
	assert.Equal(t, 0, restored.QueryCache().Len())

	listing, err := restored.ListDirectory(ctx, "/data/docs")
	require.NoError(t, err, "served from the restored listing cache")
	assert.Len(t, listing.Items, 3)
}

func TestOrchestrator_ClearAll(t *testing.T) {
	o, _ := setupOrchestrator(t, OrchestratorConfig{})
	ctx := context.Background()
	_, err := o.Warmup(ctx, []string{"/data"}, 1)
	require.NoError(t, err)
	_, err = o.SearchFiles(ctx, "report", SearchOptions{})
	require.NoError(t, err)

	o.ClearAll()
	s := o.Stats()
	assert.Equal(t, 0, s.Index.TotalFiles)
	assert.Equal(t, 0, s.Listings.Entries)
	assert.Equal(t, 0, s.QueryCacheEntries)
	assert.Equal(t, 0, s.GuardDecisions)
	assert.Equal(t, SearchStats{}, s.Search)
	assert.True(t, s.LastIndexTime.IsZero())
}
