package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sipdmod/internal/host"
)

var (
	ErrDuplicateModule = errors.New("lifecycle: duplicate module id")
	ErrInvalidModule   = errors.New("lifecycle: invalid module descriptor")
	ErrUnknownModule   = errors.New("lifecycle: unknown module")
	ErrNotMounted      = errors.New("lifecycle: module not mounted")
	ErrUnknownAction   = errors.New("lifecycle: unknown action")
	ErrActionBusy      = errors.New("lifecycle: action already running")
)

// Readiness decides whether mounting waits for the anchor's entrance transition.
type Readiness int

const (
	ReadinessSettle Readiness = iota
	ReadinessImmediate
)

// ActionContext is passed to an action handler.
type ActionContext struct {
	Panel    host.Panel
	ModuleID string
	Action   host.Action
	// Node is the module's injected root.
	Node host.Node
}

// ActionFunc handles one user-triggered action in a mounted panel. Its
// context ends when the action's caller gives up or the module unmounts.
type ActionFunc func(ctx context.Context, ac ActionContext) error

// ModuleDescriptor is the static configuration of one injectable panel.
type ModuleDescriptor struct {
	ID   string
	Name string

	// URLPattern is matched as a substring of the current location.
	// Match, when set, replaces it.
	URLPattern string
	Match      func(url string) bool

	Selector string
	Position host.Position // default AfterEnd

	Render func() string

	// OnMount and OnUnmount run while the engine holds its lock and must not
	// call back into the Engine.
	OnMount   func(ctx context.Context, node host.Node)
	OnUnmount func(node host.Node)

	Readiness  Readiness
	MountDelay time.Duration

	// Actions maps a control name to its handler. While a handler runs the
	// control is disabled and shows BusyLabel.
	Actions   map[string]ActionFunc
	BusyLabel string
}

// Matches reports whether the module belongs on url.
func (d *ModuleDescriptor) Matches(url string) bool {
	if d.Match != nil {
		return d.Match(url)
	}
	return strings.Contains(url, d.URLPattern)
}

func (d *ModuleDescriptor) normalize() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidModule)
	}
	if d.Selector == "" {
		return fmt.Errorf("%w: %s has no selector", ErrInvalidModule, d.ID)
	}
	if d.URLPattern == "" && d.Match == nil {
		return fmt.Errorf("%w: %s has no url pattern", ErrInvalidModule, d.ID)
	}
	if d.Render == nil {
		return fmt.Errorf("%w: %s has no render function", ErrInvalidModule, d.ID)
	}
	if d.Position == "" {
		d.Position = host.AfterEnd
	}
	if !d.Position.Valid() {
		return fmt.Errorf("%w: %s has invalid position %q", ErrInvalidModule, d.ID, d.Position)
	}
	if d.MountDelay < 0 {
		d.MountDelay = 0
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	actions := make(map[string]ActionFunc, len(d.Actions))
	for k, v := range d.Actions {
		actions[k] = v
	}
	d.Actions = actions
	return nil
}

// State is a module's position in the attachment lifecycle.
type State int

const (
	StateUnmounted State = iota
	StateWatching
	StateSettling
	StateMounted
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateWatching:
		return "watching"
	case StateSettling:
		return "settling"
	case StateMounted:
		return "mounted"
	}
	return "unknown"
}

// MountRecord associates a module with its injected root node.
type MountRecord struct {
	ModuleID  string
	Node      host.Node
	MountedAt time.Time
	// Adopted is set when the node was already in the tree (for example after
	// an engine restart against a live page) rather than injected by this engine.
	Adopted bool
}

// Status is a snapshot of one module's lifecycle.
type Status struct {
	ID    string
	Name  string
	State State
	// Stalled is set when the last anchor wait timed out. The module stays in
	// Watching until the next re-evaluation restarts it.
	Stalled  bool
	Attempts int
	Record   *MountRecord
}
