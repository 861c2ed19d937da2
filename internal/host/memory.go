package host

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Memory is an in-process Page backed by a parsed HTML tree. Queries use CSS
// selectors (cascadia). Mutating helpers notify observers the way a browser
// MutationObserver would, except for the *Silently variants.
type Memory struct {
	mu   sync.Mutex
	url  string
	root *html.Node
	body *html.Node

	nextSub     int
	observers   map[int]chan Mutation
	navigations map[int]chan Navigation
	actions     map[int]chan Action
	transitions map[*html.Node][]chan struct{}
}

type memNode struct {
	n *html.Node
}

func (m memNode) Describe() string {
	var b strings.Builder
	b.WriteString(m.n.Data)
	for _, a := range m.n.Attr {
		switch a.Key {
		case "id":
			b.WriteString("#" + a.Val)
		case "class":
			for _, c := range strings.Fields(a.Val) {
				b.WriteString("." + c)
			}
		case MarkerAttr:
			fmt.Fprintf(&b, "[%s=%s]", MarkerAttr, a.Val)
		}
	}
	return b.String()
}

// NewMemory parses document markup and sets the initial location.
func NewMemory(url, markup string) (*Memory, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	body := cascadia.Query(root, cascadia.MustCompile("body"))
	if body == nil {
		return nil, fmt.Errorf("parse document: no body")
	}
	return &Memory{
		url:         url,
		root:        root,
		body:        body,
		observers:   make(map[int]chan Mutation),
		navigations: make(map[int]chan Navigation),
		actions:     make(map[int]chan Action),
		transitions: make(map[*html.Node][]chan struct{}),
	}, nil
}

func compile(selector string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return sel, nil
}

// URL returns the current location.
func (m *Memory) URL(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url, nil
}

func (m *Memory) Query(ctx context.Context, selector string) (Node, error) {
	sel, err := compile(selector)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := cascadia.Query(m.root, sel); n != nil {
		return memNode{n}, nil
	}
	return nil, nil
}

func (m *Memory) Marked(ctx context.Context, moduleID string) (Node, error) {
	return m.Query(ctx, MarkerSelector(moduleID))
}

func (m *Memory) Inject(ctx context.Context, anchor Node, pos Position, moduleID, markup string) (Node, error) {
	an, ok := anchor.(memNode)
	if !ok {
		return nil, fmt.Errorf("inject %s: foreign node %T", moduleID, anchor)
	}
	if !pos.Valid() {
		return nil, fmt.Errorf("inject %s: invalid position %q", moduleID, pos)
	}

	marker := cascadia.MustCompile(MarkerSelector(moduleID))

	m.mu.Lock()
	defer m.mu.Unlock()

	if cascadia.Query(m.root, marker) != nil {
		return nil, ErrMarkerExists
	}
	if !m.attached(an.n) {
		return nil, ErrDetached
	}

	wrapper := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: MarkerAttr, Val: moduleID}},
	}
	if err := m.fill(wrapper, markup); err != nil {
		return nil, err
	}

	switch pos {
	case BeforeBegin:
		if an.n.Parent == nil {
			return nil, ErrDetached
		}
		an.n.Parent.InsertBefore(wrapper, an.n)
	case AfterBegin:
		an.n.InsertBefore(wrapper, an.n.FirstChild)
	case BeforeEnd:
		an.n.AppendChild(wrapper)
	case AfterEnd:
		if an.n.Parent == nil {
			return nil, ErrDetached
		}
		an.n.Parent.InsertBefore(wrapper, an.n.NextSibling)
	}

	m.notifyLocked(Mutation{Kind: MutationChildList})
	return memNode{wrapper}, nil
}

func (m *Memory) RemoveMarked(ctx context.Context, moduleID string) (int, error) {
	marker := cascadia.MustCompile(MarkerSelector(moduleID))

	m.mu.Lock()
	defer m.mu.Unlock()

	nodes := cascadia.QueryAll(m.root, marker)
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		delete(m.transitions, n)
	}
	if len(nodes) > 0 {
		m.notifyLocked(Mutation{Kind: MutationChildList})
	}
	return len(nodes), nil
}

func (m *Memory) Style(ctx context.Context, node Node) (Style, error) {
	mn, ok := node.(memNode)
	if !ok {
		return Style{}, fmt.Errorf("style: foreign node %T", node)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return parseInlineStyle(attr(mn.n, "style")), nil
}

// parseInlineStyle reads opacity and transition from a style attribute.
// Opacity defaults to 1.
func parseInlineStyle(style string) Style {
	s := Style{Opacity: 1}
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "opacity":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				s.Opacity = f
			}
		case "transition":
			s.Transition = v
		}
	}
	return s
}

func (m *Memory) Observe(ctx context.Context) (<-chan Mutation, error) {
	ch := make(chan Mutation, 16)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.observers[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.observers, id)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) OnTransitionEnd(ctx context.Context, node Node) (<-chan struct{}, error) {
	mn, ok := node.(memNode)
	if !ok {
		return nil, fmt.Errorf("transitionend: foreign node %T", node)
	}
	ch := make(chan struct{})
	m.mu.Lock()
	m.transitions[mn.n] = append(m.transitions[mn.n], ch)
	m.mu.Unlock()
	return ch, nil
}

func (m *Memory) Navigations(ctx context.Context) (<-chan Navigation, error) {
	ch := make(chan Navigation, 16)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.navigations[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.navigations, id)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) Actions(ctx context.Context) (<-chan Action, error) {
	ch := make(chan Action, 16)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.actions[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.actions, id)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) SetContent(ctx context.Context, moduleID, selector, markup string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := m.within(moduleID, selector)
	if err != nil {
		return err
	}
	for c := target.FirstChild; c != nil; {
		next := c.NextSibling
		target.RemoveChild(c)
		c = next
	}
	if err := m.fill(target, markup); err != nil {
		return err
	}
	m.notifyLocked(Mutation{Kind: MutationChildList})
	return nil
}

const savedLabelAttr = "data-sipd-label"

func (m *Memory) SetBusy(ctx context.Context, moduleID, control string, busy bool, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctl, err := m.within(moduleID, fmt.Sprintf("[name=%q]", control))
	if err != nil {
		return err
	}
	labelNode := cascadia.Query(ctl, cascadia.MustCompile(".btn-label"))
	if labelNode == nil {
		labelNode = ctl
	}

	if busy {
		setAttr(ctl, "disabled", "disabled")
		if _, saved := attrOK(ctl, savedLabelAttr); !saved {
			setAttr(ctl, savedLabelAttr, textContent(labelNode))
		}
		setText(labelNode, label)
	} else {
		removeAttr(ctl, "disabled")
		if orig, saved := attrOK(ctl, savedLabelAttr); saved {
			setText(labelNode, orig)
			removeAttr(ctl, savedLabelAttr)
		}
	}
	m.notifyLocked(Mutation{Kind: MutationAttributes, Attribute: "disabled"})
	return nil
}

func (m *Memory) FormValues(ctx context.Context, moduleID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.formValuesLocked(moduleID)
}

func (m *Memory) formValuesLocked(moduleID string) (map[string]string, error) {
	root := cascadia.Query(m.root, cascadia.MustCompile(MarkerSelector(moduleID)))
	if root == nil {
		return nil, ErrNoMatch
	}
	values := make(map[string]string)
	for _, n := range cascadia.QueryAll(root, cascadia.MustCompile("select[name], input[name]")) {
		name := attr(n, "name")
		if n.DataAtom == atom.Select {
			values[name] = selectedOption(n)
			continue
		}
		values[name] = attr(n, "value")
	}
	return values, nil
}

func selectedOption(sel *html.Node) string {
	opts := cascadia.QueryAll(sel, cascadia.MustCompile("option"))
	for _, o := range opts {
		if _, ok := attrOK(o, "selected"); ok {
			return optionValue(o)
		}
	}
	if len(opts) > 0 {
		return optionValue(opts[0])
	}
	return ""
}

func optionValue(o *html.Node) string {
	if v, ok := attrOK(o, "value"); ok {
		return v
	}
	return textContent(o)
}

// within resolves selector inside the module's root. Caller holds m.mu.
func (m *Memory) within(moduleID, selector string) (*html.Node, error) {
	sel, err := compile(MarkerSelector(moduleID) + " " + selector)
	if err != nil {
		return nil, err
	}
	n := cascadia.Query(m.root, sel)
	if n == nil {
		return nil, fmt.Errorf("%s %s: %w", moduleID, selector, ErrNoMatch)
	}
	return n, nil
}

func (m *Memory) fill(parent *html.Node, markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return fmt.Errorf("parse markup: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return nil
}

func (m *Memory) attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == m.root {
			return true
		}
	}
	return false
}

// notifyLocked fans a mutation out to observers without blocking. Observers
// re-query on every notification, so a dropped duplicate loses nothing.
func (m *Memory) notifyLocked(mu Mutation) {
	for _, ch := range m.observers {
		select {
		case ch <- mu:
		default:
		}
	}
}

// =============================================================================
// DRIVER HELPERS - simulate the host application
// =============================================================================

// Navigate changes the location and reports it through kind.
func (m *Memory) Navigate(url string, kind NavigationKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	for _, ch := range m.navigations {
		select {
		case ch <- Navigation{URL: url, Kind: kind}:
		default:
		}
	}
}

// SetURL changes the location without any navigation event.
func (m *Memory) SetURL(url string) {
	m.mu.Lock()
	m.url = url
	m.mu.Unlock()
}

// AppendHTML parses markup into the first element matching parentSelector.
func (m *Memory) AppendHTML(parentSelector, markup string) error {
	return m.appendHTML(parentSelector, markup, true)
}

// AppendHTMLSilently appends without notifying observers, modelling a batched
// render that the mutation subscription misses.
func (m *Memory) AppendHTMLSilently(parentSelector, markup string) error {
	return m.appendHTML(parentSelector, markup, false)
}

func (m *Memory) appendHTML(parentSelector, markup string, notify bool) error {
	sel, err := compile(parentSelector)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	parent := cascadia.Query(m.root, sel)
	if parent == nil {
		return fmt.Errorf("%s: %w", parentSelector, ErrNoMatch)
	}
	if err := m.fill(parent, markup); err != nil {
		return err
	}
	if notify {
		m.notifyLocked(Mutation{Kind: MutationChildList})
	}
	return nil
}

// SetAttr sets an attribute on every element matching selector.
func (m *Memory) SetAttr(selector, key, val string) error {
	sel, err := compile(selector)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes := cascadia.QueryAll(m.root, sel)
	if len(nodes) == 0 {
		return fmt.Errorf("%s: %w", selector, ErrNoMatch)
	}
	for _, n := range nodes {
		setAttr(n, key, val)
	}
	if key == "style" || key == "class" {
		m.notifyLocked(Mutation{Kind: MutationAttributes, Attribute: key})
	}
	return nil
}

// Remove detaches every element matching selector, as a host re-render would.
func (m *Memory) Remove(selector string) (int, error) {
	sel, err := compile(selector)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes := cascadia.QueryAll(m.root, sel)
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	if len(nodes) > 0 {
		m.notifyLocked(Mutation{Kind: MutationChildList})
	}
	return len(nodes), nil
}

// FireTransitionEnd delivers a transitionend event to the first element
// matching selector.
func (m *Memory) FireTransitionEnd(selector string) error {
	sel, err := compile(selector)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := cascadia.Query(m.root, sel)
	if n == nil {
		return fmt.Errorf("%s: %w", selector, ErrNoMatch)
	}
	for _, ch := range m.transitions[n] {
		close(ch)
	}
	delete(m.transitions, n)
	return nil
}

// SetValue selects the option (or sets the input value) of a named control
// inside the module's root.
func (m *Memory) SetValue(moduleID, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctl, err := m.within(moduleID, fmt.Sprintf("[name=%q]", name))
	if err != nil {
		return err
	}
	if ctl.DataAtom != atom.Select {
		setAttr(ctl, "value", value)
		return nil
	}
	found := false
	for _, o := range cascadia.QueryAll(ctl, cascadia.MustCompile("option")) {
		removeAttr(o, "selected")
		if optionValue(o) == value {
			setAttr(o, "selected", "selected")
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%s option %q: %w", name, value, ErrNoMatch)
	}
	return nil
}

// Trigger emits an action for a mounted module, carrying its current form values.
func (m *Memory) Trigger(moduleID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	values, err := m.formValuesLocked(moduleID)
	if err != nil {
		return err
	}
	for _, ch := range m.actions {
		select {
		case ch <- Action{ModuleID: moduleID, Name: name, Values: values}:
		default:
		}
	}
	return nil
}

// Click simulates a click on the module control carrying ActionAttr=action.
// Like a browser, a disabled control reports nothing; the return value says
// whether an action was emitted.
func (m *Memory) Click(moduleID, action string) (bool, error) {
	m.mu.Lock()
	ctl, err := m.within(moduleID, fmt.Sprintf("[%s=%q]", ActionAttr, action))
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	_, disabled := attrOK(ctl, "disabled")
	m.mu.Unlock()
	if disabled {
		return false, nil
	}
	return true, m.Trigger(moduleID, action)
}

// Count returns the number of elements matching selector.
func (m *Memory) Count(selector string) int {
	sel, err := compile(selector)
	if err != nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(cascadia.QueryAll(m.root, sel))
}

// Text returns the text content of the first element matching selector.
func (m *Memory) Text(selector string) string {
	sel, err := compile(selector)
	if err != nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := cascadia.Query(m.root, sel)
	if n == nil {
		return ""
	}
	return textContent(n)
}

// Attr returns an attribute of the first element matching selector.
func (m *Memory) Attr(selector, key string) (string, bool) {
	sel, err := compile(selector)
	if err != nil {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := cascadia.Query(m.root, sel)
	if n == nil {
		return "", false
	}
	return attrOK(n, key)
}

// Render serializes the whole document.
func (m *Memory) Render() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var buf bytes.Buffer
	_ = html.Render(&buf, m.root)
	return buf.String()
}

// =============================================================================
// NODE HELPERS
// =============================================================================

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}
