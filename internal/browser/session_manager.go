// Package browser drives the user's Chrome over the DevTools protocol and
// exposes an attached tab as a host.Page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"sipdmod/internal/logging"
)

// ErrNotConnected is returned when no browser is connected.
var ErrNotConnected = errors.New("browser not connected")

// Config holds browser configuration.
type Config struct {
	// DebuggerURL is a ws:// endpoint or the http://host:port of a Chrome
	// started with --remote-debugging-port. Empty launches a browser.
	DebuggerURL string
	// Launch is the browser binary followed by its flags.
	Launch            []string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	SessionStore      string
}

// DefaultConfig returns the defaults used for a launched browser.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1920
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 1080
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	return c
}

// external reports whether the browser belongs to the user rather than to us.
func (c Config) external() bool { return c.DebuggerURL != "" }

// SessionManager owns the Chrome connection and tracks the tabs it works on.
type SessionManager struct {
	cfg Config

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	sessions   map[string]*sessionRecord
}

// NewSessionManager creates a session manager. Nothing is connected until
// Start or the first call that needs a browser.
func NewSessionManager(cfg Config) *SessionManager {
	return &SessionManager{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to the configured browser, launching one when no debugger
// URL is set. A live connection is reused.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("Connection to %s lost, reconnecting", m.controlURL)
		m.dropLocked()
	}

	if err := m.loadSessionsLocked(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	controlURL, err := m.controlEndpoint()
	if err != nil {
		return err
	}
	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to %s: %w", controlURL, err)
	}

	m.browser = b
	m.controlURL = controlURL
	logging.Browser("Connected to %s (external=%v)", controlURL, m.cfg.external())
	return nil
}

func (m *SessionManager) dropLocked() {
	_ = m.browser.Close()
	m.browser = nil
	m.controlURL = ""
	for _, rec := range m.sessions {
		rec.page = nil
		rec.meta.Status = StatusDetached
	}
}

// controlEndpoint returns the websocket URL to connect to.
func (m *SessionManager) controlEndpoint() (string, error) {
	if dbg := m.cfg.DebuggerURL; dbg != "" {
		if strings.HasPrefix(dbg, "ws://") || strings.HasPrefix(dbg, "wss://") {
			return dbg, nil
		}
		u, err := launcher.ResolveURL(dbg)
		if err != nil {
			return "", fmt.Errorf("resolve debugger url %s: %w", dbg, err)
		}
		return u, nil
	}

	l := launcher.New().Headless(m.cfg.Headless)
	if len(m.cfg.Launch) > 0 {
		l = l.Bin(m.cfg.Launch[0]).Leakless(false)
		for _, raw := range m.cfg.Launch[1:] {
			name, val, ok := strings.Cut(strings.TrimLeft(raw, "-"), "=")
			if ok {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	return u, nil
}

// connected returns the live browser, connecting first when needed.
func (m *SessionManager) connected(ctx context.Context) (*rod.Browser, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b != nil {
		return b, nil
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.browser == nil {
		return nil, ErrNotConnected
	}
	return m.browser, nil
}

// ControlURL returns the WebSocket debugger URL, or "" when not connected.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// Shutdown disconnects. A browser we launched is closed with its tabs; the
// user's own browser and tabs are left running.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.persistLocked(); err != nil {
		logging.BrowserWarn("Failed to persist sessions: %v", err)
	}
	m.sessions = make(map[string]*sessionRecord)
	if m.browser == nil {
		return nil
	}
	var err error
	if !m.cfg.external() {
		err = m.browser.Close()
	}
	m.browser = nil
	m.controlURL = ""
	return err
}

// CreateSession opens a new tab in the default browser context, so the
// user's login cookies apply, and tracks it.
func (m *SessionManager) CreateSession(ctx context.Context, url string) (*Session, error) {
	b, err := m.connected(ctx)
	if err != nil {
		return nil, err
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		logging.BrowserWarn("Viewport not set: %v", err)
	}
	if url != "" {
		if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout).Navigate(url); err != nil {
			logging.BrowserWarn("Opening %s failed: %v", url, err)
		}
	}

	s := m.track(page, url, StatusActive)
	return &s, nil
}

// AttachMatching attaches to the first open tab whose URL starts with
// prefix. When none exists a new tab is opened at prefix.
func (m *SessionManager) AttachMatching(ctx context.Context, prefix string) (*Session, error) {
	b, err := m.connected(ctx)
	if err != nil {
		return nil, err
	}

	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil || isInternalURL(info.URL) || !strings.HasPrefix(info.URL, prefix) {
			continue
		}
		logging.Browser("Attaching to open tab %s", info.URL)
		s := m.track(p, info.URL, StatusAttached)
		return &s, nil
	}
	logging.Browser("No tab under %s, opening one", prefix)
	return m.CreateSession(ctx, prefix)
}

// Document installs the page hook in a session's tab and returns it as a
// host.Page. Navigations keep the session metadata current.
func (m *SessionManager) Document(ctx context.Context, sessionID string) (*PageDocument, error) {
	page, ok := m.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	doc, err := NewPageDocument(ctx, page)
	if err != nil {
		return nil, err
	}

	navs := doc.navigations.subscribe(ctx, subscriberBuffer)
	go func() {
		for nav := range navs {
			m.touch(sessionID, nav.URL)
		}
	}()
	return doc, nil
}

// Cookie returns a credential that reads cookie name from a session's tab.
func (m *SessionManager) Cookie(sessionID, name string) (*CookieCredential, error) {
	page, ok := m.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	return &CookieCredential{Page: page, Name: name}, nil
}

var internalSchemes = []string{
	"chrome://", "chrome-extension://", "devtools://", "about:", "data:", "blob:",
}

func isInternalURL(url string) bool {
	for _, p := range internalSchemes {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}
