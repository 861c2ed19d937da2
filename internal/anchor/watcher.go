// Package anchor waits for host elements to appear and to finish animating in.
//
// Both waits run an event subscription and a fixed-interval poll side by side
// and always end at a hard deadline. The host batches some renders in ways the
// subscription misses, and transitionend is not reliably delivered, so the
// poll is never optional.
package anchor

import (
	"context"
	"errors"
	"sync"
	"time"

	"sipdmod/internal/host"
	"sipdmod/internal/logging"
)

const (
	DefaultWatchTimeout = 15 * time.Second
	DefaultWatchPoll    = 500 * time.Millisecond
)

// Via records which detection path resolved a wait.
type Via string

const (
	ViaImmediate Via = "immediate"
	ViaMutation  Via = "mutation"
	ViaPoll      Via = "poll"
)

// WatcherStats tracks how anchors were found. Useful for tuning the poll
// interval against a particular host.
type WatcherStats struct {
	Immediate int
	Mutation  int
	Poll      int
	Timeouts  int
	Errors    int
}

// Watcher resolves a selector to the first matching element in the host tree.
type Watcher struct {
	Timeout time.Duration
	Poll    time.Duration

	mu    sync.Mutex
	stats WatcherStats
}

// NewWatcher creates a Watcher. Non-positive durations fall back to defaults.
func NewWatcher(timeout, poll time.Duration) *Watcher {
	if timeout <= 0 {
		timeout = DefaultWatchTimeout
	}
	if poll <= 0 {
		poll = DefaultWatchPoll
	}
	return &Watcher{Timeout: timeout, Poll: poll}
}

// Stats returns a snapshot of the watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) count(fn func(*WatcherStats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}

// Await blocks until an element matching selector exists, the deadline passes
// or ctx is done. It returns false on timeout; a timeout is not an error.
func (w *Watcher) Await(ctx context.Context, doc host.Document, selector string) (host.Node, bool) {
	if n := w.query(ctx, doc, selector); n != nil {
		w.count(func(s *WatcherStats) { s.Immediate++ })
		logging.AnchorDebug("Watcher: %s present immediately (%s)", selector, n.Describe())
		return n, true
	}

	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	mutations, err := doc.Observe(ctx)
	if err != nil {
		// Poll alone still satisfies the contract.
		logging.AnchorWarn("Watcher: observe failed for %s, polling only: %v", selector, err)
		mutations = nil
	}

	ticker := time.NewTicker(w.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				w.count(func(s *WatcherStats) { s.Timeouts++ })
				logging.AnchorWarn("Watcher: %s not found within %v", selector, w.Timeout)
			}
			return nil, false

		case _, ok := <-mutations:
			if !ok {
				mutations = nil
				continue
			}
			if n := w.query(ctx, doc, selector); n != nil {
				w.count(func(s *WatcherStats) { s.Mutation++ })
				logging.AnchorDebug("Watcher: %s resolved via mutation", selector)
				return n, true
			}

		case <-ticker.C:
			if n := w.query(ctx, doc, selector); n != nil {
				w.count(func(s *WatcherStats) { s.Poll++ })
				logging.AnchorDebug("Watcher: %s resolved via poll", selector)
				return n, true
			}
		}
	}
}

// Watch invokes cb exactly once with the first match, or never if none appears
// before the deadline. It blocks until one of the two happens.
func (w *Watcher) Watch(ctx context.Context, doc host.Document, selector string, cb func(host.Node)) {
	if n, ok := w.Await(ctx, doc, selector); ok {
		cb(n)
	}
}

func (w *Watcher) query(ctx context.Context, doc host.Document, selector string) host.Node {
	n, err := doc.Query(ctx, selector)
	if err != nil {
		w.count(func(s *WatcherStats) { s.Errors++ })
		logging.AnchorDebug("Watcher: query %s failed: %v", selector, err)
		return nil
	}
	return n
}
