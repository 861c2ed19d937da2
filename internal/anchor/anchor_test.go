package anchor

import (
	"context"
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

func newDoc(t *testing.T, body string) *host.Memory {
	t.Helper()
	doc, err := host.NewMemory("https://sipd.test/", "<html><body>"+body+"</body></html>")
	require.NoError(t, err)
	return doc
}

func TestAwaitImmediate(t *testing.T) {
	doc := newDoc(t, `<div class="container-fluid"></div>`)
	w := NewWatcher(time.Second, 50*time.Millisecond)

	n, ok := w.Await(context.Background(), doc, "div.container-fluid")
	require.True(t, ok)
	assert.Equal(t, "div.container-fluid", n.Describe())
	assert.Equal(t, 1, w.Stats().Immediate)
}

func TestAwaitStructuralInsertion(t *testing.T) {
	doc := newDoc(t, `<main></main>`)
	// Poll interval longer than the test so only the mutation path can win.
	w := NewWatcher(2*time.Second, time.Hour)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = doc.AppendHTML("main", `<div class="container-fluid"></div>`)
	}()

	n, ok := w.Await(context.Background(), doc, "div.container-fluid")
	require.True(t, ok)
	require.NotNil(t, n)
	assert.Equal(t, 1, w.Stats().Mutation)
}

func TestAwaitAttributeChange(t *testing.T) {
	doc := newDoc(t, `<div id="tpl" class="hidden"></div>`)
	w := NewWatcher(2*time.Second, time.Hour)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = doc.SetAttr("#tpl", "class", "ready")
	}()

	_, ok := w.Await(context.Background(), doc, "#tpl.ready")
	require.True(t, ok)
	assert.Equal(t, 1, w.Stats().Mutation)
}

func TestAwaitPollFallback(t *testing.T) {
	doc := newDoc(t, `<main></main>`)
	w := NewWatcher(2*time.Second, 20*time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = doc.AppendHTMLSilently("main", `<div class="container-fluid"></div>`)
	}()

	_, ok := w.Await(context.Background(), doc, "div.container-fluid")
	require.True(t, ok)
	assert.Equal(t, 1, w.Stats().Poll)
}

func TestWatchTimeoutIsNonFatal(t *testing.T) {
	doc := newDoc(t, `<div class="present"></div>`)
	w := NewWatcher(60*time.Millisecond, 10*time.Millisecond)

	var calls atomic.Int32
	w.Watch(context.Background(), doc, "div.never", func(host.Node) { calls.Add(1) })
	assert.Zero(t, calls.Load())
	assert.Equal(t, 1, w.Stats().Timeouts)

	w.Watch(context.Background(), doc, "div.present", func(host.Node) { calls.Add(1) })
	assert.Equal(t, int32(1), calls.Load())
}

func TestAwaitCancelled(t *testing.T) {
	doc := newDoc(t, ``)
	w := NewWatcher(time.Hour, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, ok := w.Await(ctx, doc, "div.never")
	assert.False(t, ok)
	assert.Zero(t, w.Stats().Timeouts)
}

func TestSettleAlreadyStable(t *testing.T) {
	doc := newDoc(t, `<div id="a" style="opacity:1"></div>`)
	n, _ := doc.Query(context.Background(), "#a")
	s := NewSettler(time.Second, 10*time.Millisecond)
	assert.Equal(t, SettledStable, s.Wait(context.Background(), doc, n))
}

func TestSettleTransitionEnd(t *testing.T) {
	doc := newDoc(t, `<div id="a" style="opacity:0.2; transition: opacity 1s"></div>`)
	n, _ := doc.Query(context.Background(), "#a")
	s := NewSettler(2*time.Second, time.Hour)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = doc.FireTransitionEnd("#a")
	}()
	assert.Equal(t, SettledTransitionEnd, s.Wait(context.Background(), doc, n))
}

func TestSettlePollFallback(t *testing.T) {
	doc := newDoc(t, `<div id="a" style="opacity:0"></div>`)
	n, _ := doc.Query(context.Background(), "#a")
	s := NewSettler(2*time.Second, 10*time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = doc.SetAttr("#a", "style", "opacity:1")
	}()
	assert.Equal(t, SettledStable, s.Wait(context.Background(), doc, n))
}

func TestSettleCeiling(t *testing.T) {
	doc := newDoc(t, `<div id="a" style="opacity:0.5; transition: opacity 9s"></div>`)
	n, _ := doc.Query(context.Background(), "#a")
	s := NewSettler(50*time.Millisecond, 10*time.Millisecond)

	start := time.Now()
	assert.Equal(t, SettledCeiling, s.Wait(context.Background(), doc, n))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSettleCancelled(t *testing.T) {
	doc := newDoc(t, `<div id="a" style="opacity:0"></div>`)
	n, _ := doc.Query(context.Background(), "#a")
	s := NewSettler(time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, SettledCancelled, s.Wait(ctx, doc, n))
}
