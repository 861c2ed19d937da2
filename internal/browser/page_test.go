package browser

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"
	"go.uber.org/goleak"

	"sipdmod/internal/host"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestDispatchRoutesEvents(t *testing.T) {
	d := newPageDocument(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	muts, _ := d.Observe(ctx)
	navs, _ := d.Navigations(ctx)
	acts, _ := d.Actions(ctx)

	_, err := d.dispatch(gson.New(map[string]interface{}{"type": "mutation", "kind": "childList"}))
	require.NoError(t, err)
	assert.Equal(t, host.Mutation{Kind: host.MutationChildList}, recv(t, muts))

	_, _ = d.dispatch(gson.New(map[string]interface{}{"type": "mutation", "kind": "attributes", "attr": "style"}))
	assert.Equal(t, host.Mutation{Kind: host.MutationAttributes, Attribute: "style"}, recv(t, muts))

	_, _ = d.dispatch(gson.New(map[string]interface{}{"type": "navigate", "url": "https://x/a"}))
	assert.Equal(t, host.Navigation{URL: "https://x/a", Kind: host.KindNavigate}, recv(t, navs))

	_, _ = d.dispatch(gson.New(map[string]interface{}{"type": "history", "url": "https://x/b"}))
	assert.Equal(t, host.Navigation{URL: "https://x/b", Kind: host.KindHistory}, recv(t, navs))

	_, _ = d.dispatch(gson.New(map[string]interface{}{
		"type":   "action",
		"module": "realisasi",
		"name":   "view",
		"values": map[string]interface{}{"start": "1", "end": "3"},
	}))
	assert.Equal(t, host.Action{
		ModuleID: "realisasi",
		Name:     "view",
		Values:   map[string]string{"start": "1", "end": "3"},
	}, recv(t, acts))

	// Unknown events are ignored.
	_, err = d.dispatch(gson.New(map[string]interface{}{"type": "bogus"}))
	assert.NoError(t, err)
}

func TestDispatchTransitionEnd(t *testing.T) {
	d := newPageDocument(nil)
	ch := make(chan struct{})
	d.transitions["tok"] = []chan struct{}{ch}

	_, _ = d.dispatch(gson.New(map[string]interface{}{"type": "transitionend", "token": "other"}))
	select {
	case <-ch:
		t.Fatal("waiter fired for a different token")
	default:
	}

	_, _ = d.dispatch(gson.New(map[string]interface{}{"type": "transitionend", "token": "tok"}))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
	assert.Empty(t, d.transitions)
}

func TestHubUnsubscribesOnCancel(t *testing.T) {
	h := newHub[int]()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.subscribe(ctx, 1)
	assert.Equal(t, 1, h.len())

	h.publish(1)
	h.publish(2) // dropped, buffer full
	assert.Equal(t, 1, <-ch)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Eventually(t, func() bool { return h.len() == 0 }, time.Second, 5*time.Millisecond)
	h.publish(3)
}

func TestForeignNodeIsRejected(t *testing.T) {
	d := newPageDocument(nil)
	_, err := d.Style(context.Background(), fakeNode{})
	assert.ErrorIs(t, err, host.ErrDetached)
	_, err = d.Inject(context.Background(), fakeNode{}, host.BeforeEnd, "m", "")
	assert.ErrorIs(t, err, host.ErrDetached)
}

type fakeNode struct{}

func (fakeNode) Describe() string { return "fake" }

func TestNodeSelector(t *testing.T) {
	assert.Equal(t, `[data-sipd-node="abc"]`, nodeSelector("abc"))
	assert.Equal(t, "div#x", pageNode{token: "t", desc: "div#x"}.Describe())
}

func TestConfigDefaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 1920, c.ViewportWidth)
	assert.Equal(t, 1080, c.ViewportHeight)
	assert.Equal(t, 30*time.Second, c.NavigationTimeout)
	assert.False(t, c.external())

	c = Config{DebuggerURL: "http://127.0.0.1:9222", ViewportWidth: 800, NavigationTimeout: time.Second}.withDefaults()
	assert.Equal(t, 800, c.ViewportWidth)
	assert.Equal(t, 1080, c.ViewportHeight)
	assert.Equal(t, time.Second, c.NavigationTimeout)
	assert.True(t, c.external())
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store := filepath.Join(t.TempDir(), "browser", "sessions.json")
	m := NewSessionManager(Config{SessionStore: store})
	now := time.Now()
	m.sessions["old"] = &sessionRecord{meta: Session{ID: "old", URL: "https://sipd/old", Status: StatusAttached, LastActive: now.Add(-time.Hour)}}
	m.sessions["new"] = &sessionRecord{meta: Session{ID: "new", URL: "https://sipd/x", Status: StatusActive, LastActive: now}}
	require.NoError(t, m.persistLocked())

	data, err := os.ReadFile(store)
	require.NoError(t, err)
	var saved []Session
	require.NoError(t, json.Unmarshal(data, &saved))
	require.Len(t, saved, 2)

	restored := NewSessionManager(Config{SessionStore: store})
	require.NoError(t, restored.LoadSessions())
	list := restored.List()
	require.Len(t, list, 2)
	assert.Equal(t, "https://sipd/x", list[0].URL, "most recent first")
	assert.Equal(t, StatusDetached, list[0].Status)
	assert.Equal(t, StatusDetached, list[1].Status)

	_, ok := restored.Page("new")
	assert.False(t, ok, "detached sessions have no page")

	restored.touch("old", "https://sipd/moved")
	assert.Equal(t, "https://sipd/moved", restored.List()[0].URL)
}

func TestLoadSessionsCorruptStore(t *testing.T) {
	store := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(store, []byte("{not json"), 0o644))
	m := NewSessionManager(Config{SessionStore: store})
	assert.Error(t, m.LoadSessions())
}

func TestLoadSessionsMissingStore(t *testing.T) {
	m := NewSessionManager(Config{SessionStore: filepath.Join(t.TempDir(), "none.json")})
	assert.NoError(t, m.LoadSessions())
	assert.Empty(t, m.List())
}

func TestIsInternalURL(t *testing.T) {
	assert.True(t, isInternalURL("chrome://newtab/"))
	assert.True(t, isInternalURL("about:blank"))
	assert.False(t, isInternalURL("https://sipd.kemendagri.go.id/penatausahaan/"))
}

func TestCookieCredentialWithoutPage(t *testing.T) {
	var c CookieCredential
	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}
