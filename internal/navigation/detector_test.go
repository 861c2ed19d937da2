package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sipdmod/internal/host"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newHost(t *testing.T, url string) *host.Memory {
	t.Helper()
	m, err := host.NewMemory(url, "<html><body></body></html>")
	require.NoError(t, err)
	return m
}

// collect drains signals until quiet has passed without one arriving.
func collect(t *testing.T, ch <-chan Signal, quiet time.Duration) []Signal {
	t.Helper()
	var out []Signal
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s)
		case <-time.After(quiet):
			return out
		}
	}
}

func reasons(signals []Signal) []Reason {
	out := make([]Reason, len(signals))
	for i, s := range signals {
		out[i] = s.Reason
	}
	return out
}

func TestInitialSignalAndStartupRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHost(t, "https://sipd.test/a")
	d := NewDetector(Options{StartupRetries: []time.Duration{20 * time.Millisecond, 60 * time.Millisecond}})
	ch, err := d.Run(ctx, h, h)
	require.NoError(t, err)

	got := collect(t, ch, 200*time.Millisecond)
	assert.Equal(t, []Reason{ReasonInitial, ReasonRetry, ReasonRetry}, reasons(got))
	for _, s := range got {
		assert.Equal(t, "https://sipd.test/a", s.URL)
	}
}

func TestNavigateEmitsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHost(t, "https://sipd.test/a")
	d := NewDetector(Options{StartupRetries: []time.Duration{}, HistoryDelay: time.Hour})
	ch, err := d.Run(ctx, h, h)
	require.NoError(t, err)
	<-ch // initial

	start := time.Now()
	h.Navigate("https://sipd.test/b", host.KindNavigate)
	s := <-ch
	assert.Equal(t, ReasonNavigate, s.Reason)
	assert.Equal(t, "https://sipd.test/b", s.URL)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestHistoryEmitsAfterDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHost(t, "https://sipd.test/a")
	d := NewDetector(Options{StartupRetries: []time.Duration{}, HistoryDelay: 50 * time.Millisecond})
	ch, err := d.Run(ctx, h, h)
	require.NoError(t, err)
	<-ch

	start := time.Now()
	h.Navigate("https://sipd.test/b", host.KindHistory)
	s := <-ch
	assert.Equal(t, ReasonHistory, s.Reason)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestBothSourcesFireOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHost(t, "https://sipd.test/a")
	d := NewDetector(Options{
		StartupRetries: []time.Duration{},
		HistoryDelay:   20 * time.Millisecond,
		DedupeWindow:   time.Second,
	})
	ch, err := d.Run(ctx, h, h)
	require.NoError(t, err)
	<-ch

	h.Navigate("https://sipd.test/b", host.KindNavigate)
	h.Navigate("https://sipd.test/b", host.KindHistory)

	got := collect(t, ch, 150*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, ReasonNavigate, got[0].Reason)
}

func TestDistinctChangesAreNotDeduped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHost(t, "https://sipd.test/a")
	d := NewDetector(Options{StartupRetries: []time.Duration{}})
	ch, err := d.Run(ctx, h, h)
	require.NoError(t, err)
	<-ch

	h.Navigate("https://sipd.test/b", host.KindNavigate)
	h.Navigate("https://sipd.test/a", host.KindNavigate)

	got := collect(t, ch, 100*time.Millisecond)
	require.Len(t, got, 2)
	assert.Equal(t, "https://sipd.test/b", got[0].URL)
	assert.Equal(t, "https://sipd.test/a", got[1].URL)
}

func TestStreamClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHost(t, "https://sipd.test/a")
	d := NewDetector(Options{HistoryDelay: time.Hour})
	ch, err := d.Run(ctx, h, h)
	require.NoError(t, err)
	<-ch

	h.Navigate("https://sipd.test/b", host.KindHistory)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

// failingLocation fails the listed calls (1-based) and otherwise reads h.
type failingLocation struct {
	h     *host.Memory
	fail  map[int]bool
	calls atomic.Int32
}

func (f *failingLocation) URL(ctx context.Context) (string, error) {
	if f.fail[int(f.calls.Add(1))] {
		return "", errors.New("execution context was destroyed")
	}
	return f.h.URL(ctx)
}

func TestUnreadableLocationSkipsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHost(t, "https://sipd.test/pengeluaran/laporan/realisasi")
	loc := &failingLocation{h: h, fail: map[int]bool{2: true}}
	d := NewDetector(Options{StartupRetries: []time.Duration{20 * time.Millisecond, 40 * time.Millisecond}})
	ch, err := d.Run(ctx, h, loc)
	require.NoError(t, err)

	got := collect(t, ch, 200*time.Millisecond)
	assert.Equal(t, []Reason{ReasonInitial, ReasonRetry}, reasons(got))
	for _, s := range got {
		assert.NotEmpty(t, s.URL)
	}
	assert.EqualValues(t, 3, loc.calls.Load())
}

func TestUnreadableLocationAtStartup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHost(t, "https://sipd.test/a")
	loc := &failingLocation{h: h, fail: map[int]bool{1: true}}
	d := NewDetector(Options{StartupRetries: []time.Duration{20 * time.Millisecond}})
	ch, err := d.Run(ctx, h, loc)
	require.NoError(t, err)

	got := collect(t, ch, 150*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, ReasonRetry, got[0].Reason)
	assert.Equal(t, "https://sipd.test/a", got[0].URL)
}

func TestHistoryBurstSignalsLatestOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHost(t, "https://sipd.test/a")
	d := NewDetector(Options{StartupRetries: []time.Duration{}, HistoryDelay: 40 * time.Millisecond})
	ch, err := d.Run(ctx, h, h)
	require.NoError(t, err)
	<-ch

	for i := 0; i < 10; i++ {
		h.Navigate(fmt.Sprintf("https://sipd.test/page/%d", i), host.KindHistory)
	}
	got := collect(t, ch, 200*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, ReasonHistory, got[0].Reason)
	assert.Equal(t, "https://sipd.test/page/9", got[0].URL)

	// The timer is reused for later bursts.
	h.Navigate("https://sipd.test/b", host.KindHistory)
	s := <-ch
	assert.Equal(t, "https://sipd.test/b", s.URL)
}
