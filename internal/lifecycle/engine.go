// Package lifecycle owns module registration and the mount/unmount state
// machine that attaches panels to the host page.
//
// Each module moves Unmounted -> Watching -> Settling -> Mounted and back to
// Unmounted when the location stops matching. The marker attribute in the
// host tree is the authority on whether a module is attached: it is checked
// when an attempt is dispatched, after the anchor appears, and again just
// before injection, and Inject itself refuses a second marker. The in-memory
// MountRecord is a cache of that state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sipdmod/internal/anchor"
	"sipdmod/internal/host"
	"sipdmod/internal/logging"
	"sipdmod/internal/navigation"
)

// Host is what the engine needs from the page.
type Host interface {
	host.Document
	host.Panel
}

// Options configures an Engine. Nil fields use defaults.
type Options struct {
	Watcher *anchor.Watcher
	Settler *anchor.Settler
}

type slot struct {
	state    State
	record   *MountRecord
	stalled  bool
	attempts int

	// gen identifies the current attempt. Any change of direction (unmount,
	// restart) bumps it so a superseded attempt finds itself stale on resume.
	gen uint64

	// ctx lives from dispatch until unmount. Actions of a mounted module run
	// under it, so unmounting cancels them.
	ctx    context.Context
	cancel context.CancelFunc

	busy map[string]bool
}

// Engine is the attachment lifecycle controller. Construct one per page.
type Engine struct {
	mu      sync.Mutex
	host    Host
	watcher *anchor.Watcher
	settler *anchor.Settler

	modules []*ModuleDescriptor
	index   map[string]int
	slots   map[string]*slot

	// changed is closed and replaced on every state transition.
	changed chan struct{}

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New creates an Engine bound to h.
func New(h Host, opts Options) *Engine {
	if opts.Watcher == nil {
		opts.Watcher = anchor.NewWatcher(0, 0)
	}
	if opts.Settler == nil {
		opts.Settler = anchor.NewSettler(0, 0)
	}
	root, stop := context.WithCancel(context.Background())
	return &Engine{
		host:    h,
		watcher: opts.Watcher,
		settler: opts.Settler,
		index:   make(map[string]int),
		slots:   make(map[string]*slot),
		changed: make(chan struct{}),
		root:    root,
		stop:    stop,
	}
}

// Register appends a module to the registry, applying defaults.
func (e *Engine) Register(d ModuleDescriptor) error {
	if err := d.normalize(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.index[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, d.ID)
	}
	e.index[d.ID] = len(e.modules)
	e.modules = append(e.modules, &d)
	e.slots[d.ID] = &slot{}

	logging.Lifecycle("Registered module %s (pattern=%q selector=%q position=%s)", d.ID, d.URLPattern, d.Selector, d.Position)
	logging.Audit().ModuleEvent(logging.AuditModuleRegister, d.ID, d.Selector)
	return nil
}

// Modules returns the registered descriptors in registration order.
func (e *Engine) Modules() []ModuleDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ModuleDescriptor, len(e.modules))
	for i, m := range e.modules {
		out[i] = *m
	}
	return out
}

// Status returns a snapshot of one module.
func (e *Engine) Status(id string) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return Status{}, false
	}
	return e.statusLocked(e.modules[i]), true
}

// Statuses returns every module's snapshot in registration order.
func (e *Engine) Statuses() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Status, 0, len(e.modules))
	for _, m := range e.modules {
		out = append(out, e.statusLocked(m))
	}
	return out
}

func (e *Engine) statusLocked(m *ModuleDescriptor) Status {
	s := e.slots[m.ID]
	st := Status{ID: m.ID, Name: m.Name, State: s.state, Stalled: s.stalled, Attempts: s.attempts}
	if s.record != nil {
		rec := *s.record
		st.Record = &rec
	}
	return st
}

// Evaluate re-evaluates every module against url in registration order:
// matching modules start mounting, non-matching mounted modules unmount.
func (e *Engine) Evaluate(ctx context.Context, url string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.root.Err() != nil {
		return
	}
	logging.LifecycleDebug("Evaluate %s (%d modules)", url, len(e.modules))
	for _, m := range e.modules {
		if m.Matches(url) {
			e.dispatchLocked(ctx, m)
		} else {
			e.unmountLocked(ctx, m, "location no longer matches")
		}
	}
}

// dispatchLocked starts a mount attempt unless one is running or the module
// is already attached.
func (e *Engine) dispatchLocked(ctx context.Context, m *ModuleDescriptor) {
	s := e.slots[m.ID]

	switch s.state {
	case StateWatching, StateSettling:
		if !s.stalled {
			return
		}
		logging.Lifecycle("%s: restarting stalled attempt", m.ID)
		e.resetLocked(s)

	case StateMounted:
		node, err := e.host.Marked(ctx, m.ID)
		if err != nil {
			logging.LifecycleWarn("%s: marker check failed: %v", m.ID, err)
			return
		}
		if node != nil {
			return
		}
		// The host re-rendered and discarded our node.
		logging.LifecycleWarn("%s: injected node disappeared, remounting", m.ID)
		e.resetLocked(s)
	}

	// Guard 1: the tree may already carry our marker.
	node, err := e.host.Marked(ctx, m.ID)
	if err != nil {
		logging.LifecycleWarn("%s: marker check failed: %v", m.ID, err)
		return
	}
	if node != nil {
		e.adoptLocked(m, s, node, "dispatch")
		return
	}

	s.gen++
	s.attempts++
	s.stalled = false
	s.ctx, s.cancel = context.WithCancel(e.root)
	e.setStateLocked(m, s, StateWatching)
	logging.Audit().ModuleEvent(logging.AuditModuleWatch, m.ID, m.Selector)

	e.wg.Add(1)
	go e.attempt(s.ctx, m, s.gen)
}

// attempt drives one mount attempt through Watching and Settling.
func (e *Engine) attempt(ctx context.Context, m *ModuleDescriptor, gen uint64) {
	defer e.wg.Done()
	start := time.Now()

	anchorNode, ok := e.watcher.Await(ctx, e.host, m.Selector)
	if !ok {
		e.mu.Lock()
		if s := e.slots[m.ID]; s.gen == gen && ctx.Err() == nil {
			s.stalled = true
			e.notifyLocked()
			logging.LifecycleWarn("%s: anchor %q did not appear, staying in watching", m.ID, m.Selector)
			logging.Audit().ModuleEvent(logging.AuditModuleTimeout, m.ID, m.Selector)
		}
		e.mu.Unlock()
		return
	}

	// Guard 2.
	if !e.resume(ctx, m, gen, "post-watch") {
		return
	}

	if m.Readiness == ReadinessSettle {
		e.mu.Lock()
		if s := e.slots[m.ID]; s.gen == gen {
			e.setStateLocked(m, s, StateSettling)
		}
		e.mu.Unlock()

		outcome := e.settler.Wait(ctx, e.host, anchorNode)
		if outcome == anchor.SettledCancelled {
			return
		}
		logging.LifecycleDebug("%s: anchor settled (%s)", m.ID, outcome)
	}

	if m.MountDelay > 0 {
		t := time.NewTimer(m.MountDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	if !e.waitForTurn(ctx, m, gen) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Guard 3.
	if !e.resumeLocked(ctx, m, gen, "post-settle") {
		return
	}
	s := e.slots[m.ID]

	node, err := e.host.Inject(ctx, anchorNode, m.Position, m.ID, m.Render())
	switch {
	case errors.Is(err, host.ErrMarkerExists):
		if existing, qerr := e.host.Marked(ctx, m.ID); qerr == nil && existing != nil {
			e.adoptLocked(m, s, existing, "inject")
			return
		}
		e.failLocked(m, s, err)
		return
	case err != nil:
		e.failLocked(m, s, err)
		return
	}

	s.record = &MountRecord{ModuleID: m.ID, Node: node, MountedAt: time.Now()}
	e.setStateLocked(m, s, StateMounted)
	logging.Lifecycle("%s: mounted at %s %s after %v", m.ID, m.Position, anchorNode.Describe(), time.Since(start))
	logging.Audit().ModuleEvent(logging.AuditModuleMount, m.ID, anchorNode.Describe())

	if m.OnMount != nil {
		m.OnMount(s.ctx, node)
	}
}

// resume takes the lock and checks whether an attempt may continue.
func (e *Engine) resume(ctx context.Context, m *ModuleDescriptor, gen uint64, point string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resumeLocked(ctx, m, gen, point)
}

// resumeLocked rejects stale attempts and adopts a marker that appeared while
// the attempt was suspended.
func (e *Engine) resumeLocked(ctx context.Context, m *ModuleDescriptor, gen uint64, point string) bool {
	s := e.slots[m.ID]
	if s.gen != gen || ctx.Err() != nil {
		logging.LifecycleDebug("%s: superseded attempt dropped at %s", m.ID, point)
		return false
	}
	if s.record != nil {
		return false
	}
	node, err := e.host.Marked(ctx, m.ID)
	if err != nil {
		e.failLocked(m, s, err)
		return false
	}
	if node != nil {
		e.adoptLocked(m, s, node, point)
		return false
	}
	return true
}

// waitForTurn holds back injection while a module registered earlier with the
// same selector and position is still mounting, so shared anchors fill in
// registration order.
func (e *Engine) waitForTurn(ctx context.Context, m *ModuleDescriptor, gen uint64) bool {
	for {
		e.mu.Lock()
		if e.slots[m.ID].gen != gen {
			e.mu.Unlock()
			return false
		}
		blocked := false
		for _, other := range e.modules[:e.index[m.ID]] {
			if other.Selector != m.Selector || other.Position != m.Position {
				continue
			}
			os := e.slots[other.ID]
			if (os.state == StateWatching || os.state == StateSettling) && !os.stalled {
				blocked = true
				break
			}
		}
		changed := e.changed
		e.mu.Unlock()

		if !blocked {
			return true
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return false
		}
	}
}

func (e *Engine) adoptLocked(m *ModuleDescriptor, s *slot, node host.Node, point string) {
	if s.ctx == nil || s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(e.root)
	}
	s.gen++
	s.stalled = false
	s.record = &MountRecord{ModuleID: m.ID, Node: node, MountedAt: time.Now(), Adopted: true}
	e.setStateLocked(m, s, StateMounted)
	logging.LifecycleDebug("%s: marker already present at %s, adopting", m.ID, point)
	logging.Audit().ModuleEvent(logging.AuditModuleSkip, m.ID, point)
}

func (e *Engine) failLocked(m *ModuleDescriptor, s *slot, err error) {
	logging.LifecycleError("%s: mount failed: %v", m.ID, err)
	e.resetLocked(s)
	e.setStateLocked(m, s, StateUnmounted)
}

// resetLocked cancels any in-flight attempt and clears the slot.
func (e *Engine) resetLocked(s *slot) {
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = nil, nil
	s.gen++
	s.record = nil
	s.stalled = false
	s.state = StateUnmounted
}

// unmountLocked tears a module down. An in-flight attempt is cancelled; a
// mounted module gets its callback, loses its node and its record.
func (e *Engine) unmountLocked(ctx context.Context, m *ModuleDescriptor, reason string) {
	s := e.slots[m.ID]
	switch s.state {
	case StateUnmounted:
		return

	case StateWatching, StateSettling:
		logging.LifecycleDebug("%s: cancelling %s attempt (%s)", m.ID, s.state, reason)
		e.resetLocked(s)
		e.notifyLocked()
		return
	}

	rec := s.record
	if m.OnUnmount != nil && rec != nil {
		m.OnUnmount(rec.Node)
	}
	n, err := e.host.RemoveMarked(ctx, m.ID)
	if err != nil {
		// A leftover node is adopted by the next dispatch guard.
		logging.LifecycleWarn("%s: remove failed: %v", m.ID, err)
	}
	e.resetLocked(s)
	e.notifyLocked()

	logging.Lifecycle("%s: unmounted (%s, %d node(s) removed)", m.ID, reason, n)
	logging.Audit().ModuleEvent(logging.AuditModuleUnmount, m.ID, reason)
}

// Unmount tears down one module regardless of location.
func (e *Engine) Unmount(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, id)
	}
	e.unmountLocked(ctx, e.modules[i], "requested")
	return nil
}

func (e *Engine) setStateLocked(m *ModuleDescriptor, s *slot, st State) {
	if s.state != st {
		logging.LifecycleDebug("%s: %s -> %s", m.ID, s.state, st)
	}
	s.state = st
	e.notifyLocked()
}

func (e *Engine) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// HandleAction runs the handler for a panel action. The control is marked
// busy for the duration and restored afterwards whatever the outcome.
func (e *Engine) HandleAction(ctx context.Context, a host.Action) error {
	e.mu.Lock()
	i, ok := e.index[a.ModuleID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModule, a.ModuleID)
	}
	m := e.modules[i]
	s := e.slots[m.ID]
	if s.state != StateMounted || s.record == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotMounted, m.ID)
	}
	fn := m.Actions[a.Name]
	if fn == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAction, a)
	}
	if s.busy == nil {
		s.busy = make(map[string]bool)
	}
	if s.busy[a.Name] {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActionBusy, a)
	}
	s.busy[a.Name] = true
	mountCtx := s.ctx
	node := s.record.Node
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(s.busy, a.Name)
		e.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(mountCtx, cancel)
	defer stop()

	if err := e.host.SetBusy(ctx, m.ID, a.Name, true, m.BusyLabel); err != nil {
		logging.LifecycleWarn("%s: could not mark %s busy: %v", m.ID, a.Name, err)
	}
	defer func() {
		// Restore even when ctx is already done.
		if err := e.host.SetBusy(context.WithoutCancel(ctx), m.ID, a.Name, false, ""); err != nil {
			logging.LifecycleDebug("%s: could not restore %s: %v", m.ID, a.Name, err)
		}
	}()

	start := time.Now()
	logging.Lifecycle("%s: action %s started", m.ID, a.Name)
	logging.Audit().Log(logging.AuditEvent{Type: logging.AuditActionStart, Subject: m.ID, Detail: a.Name, Success: true})

	err := fn(runCtx, ActionContext{Panel: e.host, ModuleID: m.ID, Action: a, Node: node})

	logging.Audit().ActionComplete(m.ID, a.Name, time.Since(start), err)
	if err != nil {
		logging.LifecycleError("%s: action %s failed after %v: %v", m.ID, a.Name, time.Since(start), err)
		return fmt.Errorf("%s: %w", a, err)
	}
	logging.Lifecycle("%s: action %s completed in %v", m.ID, a.Name, time.Since(start))
	return nil
}

// Run processes signals and actions until ctx is done or both streams close.
// Signals are evaluated in arrival order; actions run concurrently so a long
// fetch does not hold up navigation.
func (e *Engine) Run(ctx context.Context, signals <-chan navigation.Signal, actions <-chan host.Action) error {
	for signals != nil || actions != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			e.Evaluate(ctx, sig.URL)

		case a, ok := <-actions:
			if !ok {
				actions = nil
				continue
			}
			e.spawn(func() {
				if err := e.HandleAction(ctx, a); err != nil {
					logging.LifecycleWarn("action %s: %v", a, err)
				}
			})
		}
	}
	return ctx.Err()
}

// spawn runs fn on a tracked goroutine unless the engine is closed.
func (e *Engine) spawn(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Close cancels every in-flight attempt and action and waits for them.
// Mounted nodes are left in the host tree.
func (e *Engine) Close() {
	e.mu.Lock()
	e.stop()
	e.mu.Unlock()
	e.wg.Wait()
}
