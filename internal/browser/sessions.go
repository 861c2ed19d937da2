package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"

	"sipdmod/internal/logging"
)

// Session status values.
const (
	StatusActive   = "active"   // a tab we opened
	StatusAttached = "attached" // a tab the user opened
	StatusDetached = "detached" // restored from the store, no live page
)

// Session describes the public metadata for a tracked tab.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta Session
	page *rod.Page
}

func (m *SessionManager) track(page *rod.Page, url, status string) Session {
	now := time.Now()
	s := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     status,
		CreatedAt:  now,
		LastActive: now,
	}
	if info, err := page.Info(); err == nil {
		s.Title = info.Title
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = &sessionRecord{meta: s, page: page}
	if err := m.persistLocked(); err != nil {
		logging.BrowserWarn("Failed to persist sessions: %v", err)
	}
	return s
}

// touch records a navigation of a session's tab.
func (m *SessionManager) touch(sessionID, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[sessionID]; ok {
		rec.meta.URL = url
		rec.meta.LastActive = time.Now()
	}
}

// Page returns the live tab of a session.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

// List returns every known session, most recently active first. Sessions
// restored from the store are included as detached.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.meta)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out
}

// LoadSessions reads the session store without connecting to a browser.
func (m *SessionManager) LoadSessions() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadSessionsLocked()
}

func (m *SessionManager) persistLocked() error {
	if m.cfg.SessionStore == "" {
		return nil
	}
	list := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		list = append(list, rec.meta)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

func (m *SessionManager) loadSessionsLocked() error {
	if m.cfg.SessionStore == "" {
		return nil
	}
	data, err := os.ReadFile(m.cfg.SessionStore)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var saved []Session
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("parse %s: %w", m.cfg.SessionStore, err)
	}
	for _, s := range saved {
		if _, live := m.sessions[s.ID]; live {
			continue
		}
		s.Status = StatusDetached
		m.sessions[s.ID] = &sessionRecord{meta: s}
	}
	return nil
}
