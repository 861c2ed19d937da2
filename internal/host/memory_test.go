package host

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const page = `<html><body><div class="container-fluid"><h1 id="title">Realisasi</h1></div></body></html>`

func newPage(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory("https://sipd.test/pengeluaran/laporan/realisasi", page)
	require.NoError(t, err)
	return m
}

func TestInjectPositions(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		pos  Position
		want string
	}{
		{BeforeBegin, `<body><div data-sipd-mod="m"><p>x</p></div><div class="container-fluid">`},
		{AfterBegin, `<div class="container-fluid"><div data-sipd-mod="m"><p>x</p></div><h1`},
		{BeforeEnd, `Realisasi</h1><div data-sipd-mod="m"><p>x</p></div></div>`},
		{AfterEnd, `</div><div data-sipd-mod="m"><p>x</p></div></body>`},
	}
	for _, tt := range tests {
		t.Run(string(tt.pos), func(t *testing.T) {
			m := newPage(t)
			anchor, err := m.Query(ctx, "div.container-fluid")
			require.NoError(t, err)
			require.NotNil(t, anchor)

			node, err := m.Inject(ctx, anchor, tt.pos, "m", "<p>x</p>")
			require.NoError(t, err)
			assert.Equal(t, `div[data-sipd-mod=m]`, node.Describe())
			assert.Contains(t, m.Render(), tt.want)
		})
	}
}

func TestInjectRefusesSecondMarker(t *testing.T) {
	ctx := context.Background()
	m := newPage(t)
	anchor, _ := m.Query(ctx, "div.container-fluid")

	_, err := m.Inject(ctx, anchor, BeforeEnd, "m", "a")
	require.NoError(t, err)
	_, err = m.Inject(ctx, anchor, AfterEnd, "m", "b")
	require.ErrorIs(t, err, ErrMarkerExists)
	assert.Equal(t, 1, m.Count(MarkerSelector("m")))
}

func TestInjectDetachedAnchor(t *testing.T) {
	ctx := context.Background()
	m := newPage(t)
	anchor, _ := m.Query(ctx, "#title")

	n, err := m.Remove("#title")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = m.Inject(ctx, anchor, AfterEnd, "m", "x")
	require.ErrorIs(t, err, ErrDetached)
}

func TestQueryAbsentReturnsNil(t *testing.T) {
	m := newPage(t)
	n, err := m.Query(context.Background(), "table.report")
	require.NoError(t, err)
	assert.Nil(t, n)

	_, err = m.Query(context.Background(), "[[")
	assert.Error(t, err)
}

func TestRemoveMarked(t *testing.T) {
	ctx := context.Background()
	m := newPage(t)
	anchor, _ := m.Query(ctx, "div.container-fluid")
	_, err := m.Inject(ctx, anchor, BeforeEnd, "m", "x")
	require.NoError(t, err)

	n, err := m.RemoveMarked(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	marked, err := m.Marked(ctx, "m")
	require.NoError(t, err)
	assert.Nil(t, marked)
}

func TestParseInlineStyle(t *testing.T) {
	s := parseInlineStyle("display:block; opacity: 0.4; transition: opacity .3s ease")
	assert.InDelta(t, 0.4, s.Opacity, 1e-9)
	assert.Equal(t, "opacity .3s ease", s.Transition)
	assert.True(t, s.Transitioning())
	assert.False(t, s.Stable())

	s = parseInlineStyle("")
	assert.True(t, s.Stable())
}

func TestObserveNotifiesAndCloses(t *testing.T) {
	m := newPage(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Observe(ctx)
	require.NoError(t, err)

	require.NoError(t, m.SetAttr("#title", "class", "shown"))
	select {
	case mu := <-ch:
		assert.Equal(t, MutationAttributes, mu.Kind)
		assert.Equal(t, "class", mu.Attribute)
	case <-time.After(time.Second):
		t.Fatal("no mutation delivered")
	}

	require.NoError(t, m.AppendHTMLSilently("body", "<span>quiet</span>"))
	select {
	case mu := <-ch:
		t.Fatalf("unexpected mutation %v", mu)
	default:
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestPanelInteraction(t *testing.T) {
	ctx := context.Background()
	m := newPage(t)
	anchor, _ := m.Query(ctx, "div.container-fluid")
	_, err := m.Inject(ctx, anchor, BeforeEnd, "m", `
		<select name="bulanAwal"><option value="1">Januari</option><option value="2">Februari</option></select>
		<button name="view"><span class="btn-label">Lihat</span></button>
		<div data-role="result"></div>`)
	require.NoError(t, err)

	values, err := m.FormValues(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "1", values["bulanAwal"])

	require.NoError(t, m.SetValue("m", "bulanAwal", "2"))
	values, _ = m.FormValues(ctx, "m")
	assert.Equal(t, "2", values["bulanAwal"])

	require.NoError(t, m.SetBusy(ctx, "m", "view", true, "Mohon Tunggu ..."))
	_, disabled := m.Attr(`[name="view"]`, "disabled")
	assert.True(t, disabled)
	assert.Equal(t, "Mohon Tunggu ...", m.Text(".btn-label"))

	require.NoError(t, m.SetBusy(ctx, "m", "view", false, ""))
	_, disabled = m.Attr(`[name="view"]`, "disabled")
	assert.False(t, disabled)
	assert.Equal(t, "Lihat", m.Text(".btn-label"))

	require.NoError(t, m.SetContent(ctx, "m", `[data-role="result"]`, "<table><tr><td>ok</td></tr></table>"))
	assert.Equal(t, "ok", m.Text(`[data-role="result"] td`))

	err = m.SetContent(ctx, "m", ".missing", "x")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestTriggerCarriesFormValues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newPage(t)
	anchor, _ := m.Query(ctx, "div.container-fluid")
	_, err := m.Inject(ctx, anchor, BeforeEnd, "m", `<input name="q" value="abc">`)
	require.NoError(t, err)

	actions, err := m.Actions(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Trigger("m", "view"))

	a := <-actions
	assert.Equal(t, "m/view", a.String())
	assert.Equal(t, "abc", a.Values["q"])
}

func TestTransitionEndFires(t *testing.T) {
	ctx := context.Background()
	m := newPage(t)
	n, _ := m.Query(ctx, "#title")
	ch, err := m.OnTransitionEnd(ctx, n)
	require.NoError(t, err)
	require.NoError(t, m.FireTransitionEnd("#title"))
	select {
	case <-ch:
	default:
		t.Fatal("transitionend not delivered")
	}
	assert.True(t, strings.HasPrefix(n.Describe(), "h1#title"))
}
