// Package host abstracts the third-party page that panels are attached to.
//
// The lifecycle engine never touches a browser directly. It talks to a
// Document (tree queries, atomic injection, style inspection and change
// notifications), a Panel (interaction with injected panels) and a Navigator
// (route change events). internal/browser implements all three over CDP;
// Memory implements them over an in-process HTML tree for tests and dry runs.
package host

import (
	"context"
	"errors"
	"fmt"
)

// MarkerAttr is the attribute carried by every injected root node. Its value
// is the owning module's identifier.
const MarkerAttr = "data-sipd-mod"

// ActionAttr marks a control inside a panel whose click is reported as an
// Action named by the attribute value.
const ActionAttr = "data-sipd-action"

var (
	// ErrMarkerExists is returned by Inject when a node marked for the module
	// is already present. Nothing is inserted.
	ErrMarkerExists = errors.New("host: marker already present")

	// ErrDetached is returned when an anchor is no longer part of the tree,
	// or has no parent for a sibling insertion.
	ErrDetached = errors.New("host: anchor detached")

	// ErrNoMatch is returned by panel operations when the addressed element
	// does not exist inside the module's root.
	ErrNoMatch = errors.New("host: no matching element")
)

// Position is an insertion point relative to an anchor.
type Position string

const (
	BeforeBegin Position = "beforebegin"
	AfterBegin  Position = "afterbegin"
	BeforeEnd   Position = "beforeend"
	AfterEnd    Position = "afterend"
)

// Valid reports whether p is one of the four insertion positions.
func (p Position) Valid() bool {
	switch p {
	case BeforeBegin, AfterBegin, BeforeEnd, AfterEnd:
		return true
	}
	return false
}

// Node is an opaque handle to an element in the host tree.
type Node interface {
	Describe() string
}

// Style is the computed visual state used to decide whether an element has
// finished its entrance transition.
type Style struct {
	Opacity    float64
	Transition string
}

// Transitioning reports whether a transition is declared and the element is
// not yet fully opaque.
func (s Style) Transitioning() bool {
	return s.Transition != "" && s.Transition != "none" && s.Opacity < 1
}

// Stable reports whether the element is fully visible with no transition in progress.
func (s Style) Stable() bool {
	return s.Opacity >= 1 && !s.Transitioning()
}

// MutationKind classifies a change notification.
type MutationKind int

const (
	MutationChildList MutationKind = iota
	MutationAttributes
)

func (k MutationKind) String() string {
	if k == MutationAttributes {
		return "attributes"
	}
	return "childList"
}

// Mutation is a coalesced change notification. Receivers re-query the tree;
// the notification itself carries no node references.
type Mutation struct {
	Kind      MutationKind
	Attribute string
}

// Document is the tree-level surface of the host page.
type Document interface {
	// URL returns the current location.
	URL(ctx context.Context) (string, error)

	// Query returns the first element matching selector, or nil when absent.
	Query(ctx context.Context, selector string) (Node, error)

	// Marked returns the node carrying MarkerAttr=moduleID, or nil.
	Marked(ctx context.Context, moduleID string) (Node, error)

	// Inject wraps markup in a root div marked with moduleID and inserts it at
	// pos relative to anchor. The marker check and insertion are atomic.
	Inject(ctx context.Context, anchor Node, pos Position, moduleID, markup string) (Node, error)

	// RemoveMarked removes every node marked with moduleID and reports how many.
	RemoveMarked(ctx context.Context, moduleID string) (int, error)

	// Style returns the computed style of node.
	Style(ctx context.Context, node Node) (Style, error)

	// Observe subscribes to structural and style/class attribute changes under
	// the body. The channel is closed when ctx is done.
	Observe(ctx context.Context) (<-chan Mutation, error)

	// OnTransitionEnd returns a channel closed on the next transitionend event
	// fired on node.
	OnTransitionEnd(ctx context.Context, node Node) (<-chan struct{}, error)
}

// Action is a user-triggered event inside a mounted panel.
type Action struct {
	ModuleID string
	Name     string
	Values   map[string]string
}

func (a Action) String() string {
	return fmt.Sprintf("%s/%s", a.ModuleID, a.Name)
}

// Panel is the interaction surface of injected panels. Selectors and control
// names are resolved inside the module's marked root.
type Panel interface {
	// SetContent replaces the children of the element matching selector.
	SetContent(ctx context.Context, moduleID, selector, markup string) error

	// SetBusy disables the named control and swaps its label for label, or
	// restores both when busy is false.
	SetBusy(ctx context.Context, moduleID, control string, busy bool, label string) error

	// FormValues returns the current value of every named input and select.
	FormValues(ctx context.Context, moduleID string) (map[string]string, error)

	// Actions streams panel actions until ctx is done.
	Actions(ctx context.Context) (<-chan Action, error)
}

// NavigationKind identifies which host mechanism reported a route change.
type NavigationKind int

const (
	// KindNavigate comes from the Navigation API (navigatesuccess).
	KindNavigate NavigationKind = iota
	// KindHistory comes from the legacy popstate event.
	KindHistory
)

func (k NavigationKind) String() string {
	if k == KindHistory {
		return "history"
	}
	return "navigate"
}

// Navigation is one raw route change report.
type Navigation struct {
	URL  string
	Kind NavigationKind
}

// Navigator streams raw route change reports until ctx is done.
type Navigator interface {
	Navigations(ctx context.Context) (<-chan Navigation, error)
}

// Page is everything a running attachment session needs from the host.
type Page interface {
	Document
	Panel
	Navigator
}

// MarkerSelector returns the CSS selector for a module's root node.
func MarkerSelector(moduleID string) string {
	return fmt.Sprintf("[%s=%q]", MarkerAttr, moduleID)
}
