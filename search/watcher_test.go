package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWatcher(t *testing.T, ignore *IgnoreList) (string, *InvalidationQueue) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))

	q := NewInvalidationQueue()
	w, err := NewWatcher([]string{root}, q, ignore)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx) //nolint:errcheck
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// let Start register its watches
	time.Sleep(50 * time.Millisecond)
	return root, q
}

func TestWatcher_QueuesChangedPaths(t *testing.T) {
	root, q := setupWatcher(t, nil)

	target := filepath.Join(root, "sub", "new.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	key := CleanPath(filepath.ToSlash(target))
	require.Eventually(t, func() bool { return q.Has(key) }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_SkipsIgnoredAndTempFiles(t *testing.T) {
	root, q := setupWatcher(t, NewIgnoreList("*.log"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "app.log"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt.search-tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.txt"), []byte("x"), 0644))

	kept := CleanPath(filepath.ToSlash(filepath.Join(root, "kept.txt")))
	require.Eventually(t, func() bool { return q.Has(kept) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{kept}, q.Drain())
}

func TestWatcher_DrivesInvalidation(t *testing.T) {
	root, q := setupWatcher(t, nil)
	inv := &recordingInvalidator{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunInvalidations(ctx, q, inv)

	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.md"), []byte("x"), 0644))
	want := CleanPath(filepath.ToSlash(filepath.Join(root, "doc.md")))
	require.Eventually(t, func() bool {
		for _, p := range inv.seen() {
			if p == want {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
