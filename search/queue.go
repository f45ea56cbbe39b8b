package search

import (
	"log/slog"
	gosync "sync"
)

// InvalidationQueue is a thread-safe set-based queue of paths whose cached
// state must be dropped. Duplicates are coalesced; Pop returns paths in FIFO order.
type InvalidationQueue struct {
	mu     gosync.Mutex
	set    map[string]struct{}
	order  []string
	notify chan struct{} // signaled when items are added
}

// NewInvalidationQueue creates an empty queue.
func NewInvalidationQueue() *InvalidationQueue {
	return &InvalidationQueue{
		set:    make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

func (q *InvalidationQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Push adds a path. A path already queued is not added again.
func (q *InvalidationQueue) Push(path string) {
	q.mu.Lock()
	if _, exists := q.set[path]; exists {
		q.mu.Unlock()
		if logEnabled(slog.LevelDebug) {
			sub("queue").Debug("push dedup", "path", path)
		}
		return
	}
	q.set[path] = struct{}{}
	q.order = append(q.order, path)
	newLen := len(q.order)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("push", "path", path, "queueLen", newLen)
	}
	q.signal()
}

// PushMany adds multiple paths.
func (q *InvalidationQueue) PushMany(paths []string) {
	q.mu.Lock()
	added := 0
	for _, path := range paths {
		if _, exists := q.set[path]; exists {
			continue
		}
		q.set[path] = struct{}{}
		q.order = append(q.order, path)
		added++
	}
	newLen := len(q.order)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("pushMany", "requested", len(paths), "added", added, "queueLen", newLen)
	}
	if added > 0 {
		q.signal()
	}
}

// Pop removes and returns the next path. Blocks until a path is available
// or done is closed. Returns ("", false) when done.
func (q *InvalidationQueue) Pop(done <-chan struct{}) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			path := q.order[0]
			q.order = q.order[1:]
			delete(q.set, path)
			remaining := len(q.order)
			q.mu.Unlock()
			if logEnabled(slog.LevelDebug) {
				sub("queue").Debug("pop", "path", path, "queueLen", remaining)
			}
			return path, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return "", false
		case <-q.notify:
		}
	}
}

// Has reports whether path is currently queued.
func (q *InvalidationQueue) Has(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.set[path]
	return exists
}

// Len returns the current queue size.
func (q *InvalidationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Drain removes and returns all queued paths.
func (q *InvalidationQueue) Drain() []string {
	q.mu.Lock()
	result := q.order
	q.order = nil
	q.set = make(map[string]struct{})
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("drain", "count", len(result))
	}
	return result
}
