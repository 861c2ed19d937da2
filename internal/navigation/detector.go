// Package navigation turns the host's raw route change reports into one
// re-evaluation signal per change.
package navigation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sipdmod/internal/host"
	"sipdmod/internal/logging"
)

// Reason says what produced a Signal.
type Reason string

const (
	ReasonInitial  Reason = "initial"
	ReasonRetry    Reason = "retry"
	ReasonNavigate Reason = "navigate"
	ReasonHistory  Reason = "history"
)

// Signal asks the lifecycle engine to re-evaluate every module against URL.
type Signal struct {
	URL    string
	Reason Reason
	At     time.Time
}

func (s Signal) String() string {
	return fmt.Sprintf("%s %s", s.Reason, s.URL)
}

// Options configures a Detector. Zero values use the defaults below.
type Options struct {
	HistoryDelay   time.Duration
	DedupeWindow   time.Duration
	StartupRetries []time.Duration
}

// DefaultStartupRetries are measured from Run, not from each other.
var DefaultStartupRetries = []time.Duration{
	500 * time.Millisecond,
	1500 * time.Millisecond,
	3 * time.Second,
	5 * time.Second,
}

const (
	DefaultHistoryDelay = 300 * time.Millisecond
	DefaultDedupeWindow = time.Second
)

// Detector merges navigate and history reports, delays history reports so
// the new route can start rendering, and drops a report for a URL already
// signalled within the dedupe window. At startup it signals once immediately
// and again at each startup retry delay.
type Detector struct {
	historyDelay time.Duration
	dedupeWindow time.Duration
	retries      []time.Duration
}

// NewDetector creates a Detector.
func NewDetector(opts Options) *Detector {
	d := &Detector{
		historyDelay: opts.HistoryDelay,
		dedupeWindow: opts.DedupeWindow,
		retries:      append([]time.Duration(nil), opts.StartupRetries...),
	}
	if d.historyDelay <= 0 {
		d.historyDelay = DefaultHistoryDelay
	}
	if d.dedupeWindow <= 0 {
		d.dedupeWindow = DefaultDedupeWindow
	}
	if opts.StartupRetries == nil {
		d.retries = append(d.retries, DefaultStartupRetries...)
	}
	sort.Slice(d.retries, func(i, j int) bool { return d.retries[i] < d.retries[j] })
	return d
}

// URLSource reports the current location.
type URLSource interface {
	URL(ctx context.Context) (string, error)
}

// Run subscribes to nav and returns the signal stream. The stream is closed
// when ctx is done or the navigator's stream ends.
func (d *Detector) Run(ctx context.Context, nav host.Navigator, loc URLSource) (<-chan Signal, error) {
	ctx, cancel := context.WithCancel(ctx)
	reports, err := nav.Navigations(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe navigations: %w", err)
	}

	out := make(chan Signal, 8)
	go func() {
		defer close(out)
		defer cancel()
		d.loop(ctx, reports, loc, out)
	}()
	return out, nil
}

func (d *Detector) loop(ctx context.Context, reports <-chan host.Navigation, loc URLSource, out chan<- Signal) {
	start := time.Now()

	var (
		lastURL string
		lastAt  time.Time
	)
	emit := func(url string, reason Reason, dedupe bool) bool {
		now := time.Now()
		if dedupe && url == lastURL && now.Sub(lastAt) < d.dedupeWindow {
			logging.NavigationDebug("Detector: dropped duplicate %s for %s", reason, url)
			return true
		}
		lastURL, lastAt = url, now
		logging.Navigation("Detector: %s -> %s", reason, url)
		select {
		case out <- Signal{URL: url, Reason: reason, At: now}:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// Signals never carry an empty URL. A failed read skips that emit only.
	current := func(reason Reason) (string, bool) {
		url, err := loc.URL(ctx)
		if err != nil || url == "" {
			logging.NavigationWarn("Detector: %s skipped, location unreadable: %v", reason, err)
			return "", false
		}
		return url, true
	}

	if url, ok := current(ReasonInitial); ok && !emit(url, ReasonInitial, false) {
		return
	}

	// One timer for history reports; it fires for the latest URL only.
	var (
		historyURL   string
		historyTimer *time.Timer
		historyC     <-chan time.Time
	)
	defer func() {
		if historyTimer != nil {
			historyTimer.Stop()
		}
	}()

	next := 0
	var (
		retryC     <-chan time.Time
		retryTimer *time.Timer
	)
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()
	arm := func() {
		if next >= len(d.retries) {
			retryC = nil
			return
		}
		wait := d.retries[next] - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		retryTimer = time.NewTimer(wait)
		retryC = retryTimer.C
	}
	arm()

	for {
		select {
		case <-ctx.Done():
			return

		case <-retryC:
			next++
			// Retries re-check the same URL on purpose, so they bypass dedupe.
			if url, ok := current(ReasonRetry); ok && !emit(url, ReasonRetry, false) {
				return
			}
			arm()

		case n, ok := <-reports:
			if !ok {
				return
			}
			switch n.Kind {
			case host.KindHistory:
				historyURL = n.URL
				if historyTimer == nil {
					historyTimer = time.NewTimer(d.historyDelay)
					historyC = historyTimer.C
				} else {
					historyTimer.Reset(d.historyDelay)
				}
			default:
				if !emit(n.URL, ReasonNavigate, true) {
					return
				}
			}

		case <-historyC:
			if !emit(historyURL, ReasonHistory, true) {
				return
			}
		}
	}
}
