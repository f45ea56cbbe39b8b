package search

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 300 * time.Millisecond

// Invalidator drops cached state for a path. *Orchestrator implements it.
type Invalidator interface {
	InvalidatePath(path string)
}

// Watcher monitors local roots for filesystem changes and feeds the changed
// paths into an invalidation queue.
type Watcher struct {
	roots    []string
	queue    *InvalidationQueue
	ignore   *IgnoreList
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher creates a filesystem watcher for roots. ignore may be nil.
func NewWatcher(roots []string, queue *InvalidationQueue, ignore *IgnoreList) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		roots:    roots,
		queue:    queue,
		ignore:   ignore,
		watcher:  w,
		debounce: debounceInterval,
	}, nil
}

// Start adds recursive watches and debounces events into the queue.
// Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	l := sub("watcher")
	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			return err
		}
	}
	l.Info("watching", "roots", w.roots)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(event.Name)
			if base == IgnoreFileName || strings.HasSuffix(base, ".search-tmp") {
				continue
			}
			if w.ignore.IsIgnored(base, false) {
				continue
			}

			pending[CleanPath(filepath.ToSlash(event.Name))] = struct{}{}
			timer.Reset(w.debounce)

			// A new directory needs its own watch; Add fails harmlessly on files.
			if event.Has(fsnotify.Create) {
				w.watcher.Add(event.Name) //nolint:errcheck
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watch error", "err", err)

		case <-timer.C:
			if len(pending) > 0 {
				paths := make([]string, 0, len(pending))
				for p := range pending {
					paths = append(paths, p)
				}
				w.queue.PushMany(paths)
				l.Debug("flushed", "paths", len(paths))
				pending = make(map[string]struct{})
			}
		}
	}
}

// addRecursive adds a directory and all subdirectories to the watcher.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible dirs
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignore.IsIgnored(d.Name(), true) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Close closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// RunInvalidations pops paths from q and hands them to inv until ctx is done.
func RunInvalidations(ctx context.Context, q *InvalidationQueue, inv Invalidator) {
	l := sub("watcher")
	l.Info("invalidation worker started")
	for {
		path, ok := q.Pop(ctx.Done())
		if !ok {
			l.Info("invalidation worker stopped")
			return
		}
		inv.InvalidatePath(path)
	}
}
