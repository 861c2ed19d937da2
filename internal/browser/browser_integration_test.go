//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/require"

	"sipdmod/internal/browser"
	"sipdmod/internal/host"
)

const panelPage = `<html><body>
<div class="container-fluid" id="main"><h1>Laporan</h1></div>
</body></html>`

func startSession(t *testing.T, handler http.HandlerFunc) (*browser.SessionManager, *browser.PageDocument, string, context.Context) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := browser.DefaultConfig()
	cfg.Headless = true
	cfg.NavigationTimeout = 10 * time.Second
	cfg.SessionStore = t.TempDir() + "/sessions.json"

	sm := browser.NewSessionManager(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	t.Cleanup(func() {
		if err := sm.Shutdown(context.Background()); err != nil {
			t.Logf("Shutdown error: %v", err)
		}
	})

	require.NoError(t, sm.Start(ctx), "Failed to start browser")
	session, err := sm.CreateSession(ctx, ts.URL)
	require.NoError(t, err, "Failed to create session")
	require.Equal(t, "active", session.Status)

	doc, err := sm.Document(ctx, session.ID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = doc.Close() })
	return sm, doc, session.ID, ctx
}

func TestPageDocument_Inject_Integration(t *testing.T) {
	_, doc, _, ctx := startSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, panelPage)
	})

	anchor, err := doc.Query(ctx, "div.container-fluid")
	require.NoError(t, err)
	require.NotNil(t, anchor)
	require.Equal(t, "div#main.container-fluid", anchor.Describe())

	missing, err := doc.Query(ctx, ".nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	markup := `<select name="start"><option value="1">Januari</option><option value="2" selected>Februari</option></select>
<button type="button" name="view" data-sipd-action="view"><span class="btn-label">Lihat</span></button>
<div class="result"></div>`
	_, err = doc.Inject(ctx, anchor, host.BeforeEnd, "realisasi", markup)
	require.NoError(t, err)

	_, err = doc.Inject(ctx, anchor, host.BeforeEnd, "realisasi", markup)
	require.ErrorIs(t, err, host.ErrMarkerExists)

	marked, err := doc.Marked(ctx, "realisasi")
	require.NoError(t, err)
	require.NotNil(t, marked)

	values, err := doc.FormValues(ctx, "realisasi")
	require.NoError(t, err)
	require.Equal(t, "2", values["start"])

	require.NoError(t, doc.SetBusy(ctx, "realisasi", "view", true, "Mohon Tunggu ..."))
	require.NoError(t, doc.SetBusy(ctx, "realisasi", "view", false, ""))
	require.NoError(t, doc.SetContent(ctx, "realisasi", ".result", "<p>ok</p>"))
	require.ErrorIs(t, doc.SetContent(ctx, "realisasi", ".absent", "x"), host.ErrNoMatch)

	n, err := doc.RemoveMarked(ctx, "realisasi")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPageDocument_Events_Integration(t *testing.T) {
	sm, doc, sessionID, ctx := startSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, panelPage)
	})

	mutations, err := doc.Observe(ctx)
	require.NoError(t, err)
	actions, err := doc.Actions(ctx)
	require.NoError(t, err)

	anchor, err := doc.Query(ctx, "#main")
	require.NoError(t, err)
	_, err = doc.Inject(ctx, anchor, host.AfterEnd, "m",
		`<button type="button" name="go" data-sipd-action="go">Go</button>`)
	require.NoError(t, err)

	select {
	case <-mutations:
	case <-time.After(10 * time.Second):
		t.Fatal("no mutation reported after inject")
	}

	page, ok := sm.Page(sessionID)
	require.True(t, ok)
	btn, err := page.Context(ctx).Element(`[data-sipd-action="go"]`)
	require.NoError(t, err)
	require.NoError(t, btn.Click(proto.InputMouseButtonLeft, 1))

	select {
	case a := <-actions:
		require.Equal(t, "m", a.ModuleID)
		require.Equal(t, "go", a.Name)
	case <-time.After(10 * time.Second):
		t.Fatal("no action reported after click")
	}
}
