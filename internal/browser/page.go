package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/ysmood/gson"

	"sipdmod/internal/host"
	"sipdmod/internal/logging"
)

const subscriberBuffer = 16

// pageNode is a host.Node living in a browser page. The token is stored in
// the element's nodeAttr.
type pageNode struct {
	token string
	desc  string
}

func (n pageNode) Describe() string { return n.desc }

func nodeSelector(token string) string {
	return fmt.Sprintf("[%s=%q]", nodeAttr, token)
}

// PageDocument implements host.Page over a rod page. Page events arrive
// through an exposed binding installed by hookScript.
type PageDocument struct {
	page *rod.Page

	mutations   *hub[host.Mutation]
	navigations *hub[host.Navigation]
	actions     *hub[host.Action]

	mu          sync.Mutex
	transitions map[string][]chan struct{}

	cancel   context.CancelFunc
	stopBind func() error
	stopHook func() error
	done     chan struct{}
}

var _ host.Page = (*PageDocument)(nil)

func newPageDocument(page *rod.Page) *PageDocument {
	return &PageDocument{
		page:        page,
		mutations:   newHub[host.Mutation](),
		navigations: newHub[host.Navigation](),
		actions:     newHub[host.Action](),
		transitions: make(map[string][]chan struct{}),
		done:        make(chan struct{}),
	}
}

// NewPageDocument installs the page hook and starts listening for events.
// Close releases both.
func NewPageDocument(ctx context.Context, page *rod.Page) (*PageDocument, error) {
	d := newPageDocument(page)

	stopBind, err := page.Expose(bindingName, d.dispatch)
	if err != nil {
		return nil, fmt.Errorf("expose binding: %w", err)
	}
	d.stopBind = stopBind

	stopHook, err := page.EvalOnNewDocument(hookScript)
	if err != nil {
		_ = stopBind()
		return nil, fmt.Errorf("install hook: %w", err)
	}
	d.stopHook = stopHook

	if _, err := page.Context(ctx).Evaluate(rod.Eval(`() => ` + hookScript)); err != nil {
		d.release()
		return nil, fmt.Errorf("run hook: %w", err)
	}

	// Full document loads replace the hook's listeners, so they are reported
	// from CDP instead.
	evCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	wait := page.Context(evCtx).EachEvent(func(e *proto.PageFrameNavigated) {
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		d.navigations.publish(host.Navigation{URL: e.Frame.URL, Kind: host.KindNavigate})
	})
	go func() {
		defer close(d.done)
		wait()
	}()

	logging.Browser("Page hook installed on target %s", page.TargetID)
	return d, nil
}

// Close stops event delivery and removes the hook from future documents.
func (d *PageDocument) Close() error {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	return d.release()
}

func (d *PageDocument) release() error {
	var errs []error
	if d.stopHook != nil {
		errs = append(errs, d.stopHook())
	}
	if d.stopBind != nil {
		errs = append(errs, d.stopBind())
	}
	return errors.Join(errs...)
}

// dispatch receives every event reported by the page hook.
func (d *PageDocument) dispatch(ev gson.JSON) (interface{}, error) {
	switch ev.Get("type").Str() {
	case "mutation":
		m := host.Mutation{Kind: host.MutationChildList}
		if ev.Get("kind").Str() == "attributes" {
			m = host.Mutation{Kind: host.MutationAttributes, Attribute: ev.Get("attr").Str()}
		}
		d.mutations.publish(m)
	case "navigate":
		d.navigations.publish(host.Navigation{URL: ev.Get("url").Str(), Kind: host.KindNavigate})
	case "history":
		d.navigations.publish(host.Navigation{URL: ev.Get("url").Str(), Kind: host.KindHistory})
	case "action":
		values := make(map[string]string)
		for k, v := range ev.Get("values").Map() {
			values[k] = v.Str()
		}
		a := host.Action{ModuleID: ev.Get("module").Str(), Name: ev.Get("name").Str(), Values: values}
		logging.BrowserDebug("Panel action %s", a)
		d.actions.publish(a)
	case "transitionend":
		d.fireTransition(ev.Get("token").Str())
	default:
		logging.BrowserDebug("Ignoring page event %s", ev.JSON("", ""))
	}
	return nil, nil
}

func (d *PageDocument) fireTransition(token string) {
	d.mu.Lock()
	waiters := d.transitions[token]
	delete(d.transitions, token)
	d.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func (d *PageDocument) eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	res, err := d.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func asNode(n host.Node) (pageNode, error) {
	pn, ok := n.(pageNode)
	if !ok {
		return pageNode{}, fmt.Errorf("foreign node %T: %w", n, host.ErrDetached)
	}
	return pn, nil
}

// URL returns the page location.
func (d *PageDocument) URL(ctx context.Context) (string, error) {
	v, err := d.eval(ctx, jsLocation)
	if err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return v.Str(), nil
}

// Query returns the first element matching selector, or nil.
func (d *PageDocument) Query(ctx context.Context, selector string) (host.Node, error) {
	v, err := d.eval(ctx, jsQuery, selector, nodeAttr, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if v.Nil() {
		return nil, nil
	}
	return pageNode{token: v.Get("token").Str(), desc: v.Get("desc").Str()}, nil
}

// Marked returns the root injected for moduleID, or nil.
func (d *PageDocument) Marked(ctx context.Context, moduleID string) (host.Node, error) {
	return d.Query(ctx, host.MarkerSelector(moduleID))
}

// Inject inserts a marked root in a single page-side evaluation so the
// marker check and the insertion cannot interleave with page scripts.
func (d *PageDocument) Inject(ctx context.Context, anchor host.Node, pos host.Position, moduleID, markup string) (host.Node, error) {
	an, err := asNode(anchor)
	if err != nil {
		return nil, err
	}
	if !pos.Valid() {
		return nil, fmt.Errorf("invalid position %q", pos)
	}

	token := uuid.NewString()
	v, err := d.eval(ctx, jsInject,
		host.MarkerSelector(moduleID), host.MarkerAttr, moduleID,
		nodeSelector(an.token), string(pos), markup, nodeAttr, token)
	if err != nil {
		return nil, fmt.Errorf("inject %s: %w", moduleID, err)
	}

	switch v.Str() {
	case "exists":
		return nil, host.ErrMarkerExists
	case "detached":
		return nil, fmt.Errorf("inject %s at %s: %w", moduleID, an.desc, host.ErrDetached)
	}
	return pageNode{token: token, desc: fmt.Sprintf("div[%s=%s]", host.MarkerAttr, moduleID)}, nil
}

// RemoveMarked removes every root marked with moduleID.
func (d *PageDocument) RemoveMarked(ctx context.Context, moduleID string) (int, error) {
	v, err := d.eval(ctx, jsRemove, host.MarkerSelector(moduleID))
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", moduleID, err)
	}
	return v.Int(), nil
}

// Style returns the computed opacity and transition of node.
func (d *PageDocument) Style(ctx context.Context, node host.Node) (host.Style, error) {
	pn, err := asNode(node)
	if err != nil {
		return host.Style{}, err
	}
	v, err := d.eval(ctx, jsStyle, nodeSelector(pn.token))
	if err != nil {
		return host.Style{}, fmt.Errorf("style of %s: %w", pn.desc, err)
	}
	if v.Nil() {
		return host.Style{}, fmt.Errorf("style of %s: %w", pn.desc, host.ErrDetached)
	}
	return host.Style{Opacity: v.Get("opacity").Num(), Transition: v.Get("transition").Str()}, nil
}

// Observe streams mutation notifications until ctx is done.
func (d *PageDocument) Observe(ctx context.Context) (<-chan host.Mutation, error) {
	return d.mutations.subscribe(ctx, subscriberBuffer), nil
}

// OnTransitionEnd arms a one-shot transitionend listener on node.
func (d *PageDocument) OnTransitionEnd(ctx context.Context, node host.Node) (<-chan struct{}, error) {
	pn, err := asNode(node)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	ch := make(chan struct{})
	d.mu.Lock()
	d.transitions[token] = append(d.transitions[token], ch)
	d.mu.Unlock()

	drop := func() {
		d.mu.Lock()
		delete(d.transitions, token)
		d.mu.Unlock()
	}

	v, err := d.eval(ctx, jsTransitionEnd, nodeSelector(pn.token), bindingName, token)
	if err != nil {
		drop()
		return nil, fmt.Errorf("arm transitionend on %s: %w", pn.desc, err)
	}
	if !v.Bool() {
		drop()
		return nil, fmt.Errorf("arm transitionend on %s: %w", pn.desc, host.ErrDetached)
	}

	go func() {
		<-ctx.Done()
		drop()
	}()
	return ch, nil
}

// Navigations streams route changes until ctx is done.
func (d *PageDocument) Navigations(ctx context.Context) (<-chan host.Navigation, error) {
	return d.navigations.subscribe(ctx, subscriberBuffer), nil
}

// Actions streams panel clicks until ctx is done.
func (d *PageDocument) Actions(ctx context.Context) (<-chan host.Action, error) {
	return d.actions.subscribe(ctx, subscriberBuffer), nil
}

// SetContent replaces the children of selector inside the module's root.
func (d *PageDocument) SetContent(ctx context.Context, moduleID, selector, markup string) error {
	v, err := d.eval(ctx, jsSetContent, host.MarkerSelector(moduleID), selector, markup)
	if err != nil {
		return fmt.Errorf("set content %s %s: %w", moduleID, selector, err)
	}
	if !v.Bool() {
		return fmt.Errorf("%s %s: %w", moduleID, selector, host.ErrNoMatch)
	}
	return nil
}

// SetBusy disables control and shows label, or restores it.
func (d *PageDocument) SetBusy(ctx context.Context, moduleID, control string, busy bool, label string) error {
	v, err := d.eval(ctx, jsSetBusy, host.MarkerSelector(moduleID), control, busy, label, savedLabelAttr)
	if err != nil {
		return fmt.Errorf("set busy %s %s: %w", moduleID, control, err)
	}
	if !v.Bool() {
		return fmt.Errorf("%s [name=%q]: %w", moduleID, control, host.ErrNoMatch)
	}
	return nil
}

// FormValues reads every named input and select in the module's root.
func (d *PageDocument) FormValues(ctx context.Context, moduleID string) (map[string]string, error) {
	v, err := d.eval(ctx, jsFormValues, host.MarkerSelector(moduleID))
	if err != nil {
		return nil, fmt.Errorf("form values %s: %w", moduleID, err)
	}
	if v.Nil() {
		return nil, host.ErrNoMatch
	}
	out := make(map[string]string)
	for k, val := range v.Map() {
		out[k] = val.Str()
	}
	return out, nil
}
