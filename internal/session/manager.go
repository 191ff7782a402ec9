// Package session tracks live participant sessions and their collection state.
package session

import (
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	session *Session
	closeFn func()
}

// Manager is the registry of live sessions keyed by session ID.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*entry
}

// NewManager creates an empty session registry.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]*entry),
	}
}

// Get returns the live session for id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.active[id]; ok {
		return e.session
	}
	return nil
}

// Register adds s to the registry. closeFn is invoked to tear the connection
// down when the session is replaced or closed by the registry. An existing
// session with the same ID is closed.
func (m *Manager) Register(s *Session, closeFn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[s.ID]; ok && existing.session != s {
		if existing.closeFn != nil {
			existing.closeFn()
		}
		slog.Info("Session replaced", "session_id", s.ID)
	}

	m.active[s.ID] = &entry{session: s, closeFn: closeFn}
	slog.Info("Session registered", "session_id", s.ID, "conversation_id", s.ConversationID)
}

// Unregister removes s. A newer session registered under the same ID is left
// in place.
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[s.ID]; ok && current.session == s {
		delete(m.active, s.ID)
		slog.Info("Session unregistered", "session_id", s.ID)
	}
}

// Close tears down the connection serving id. The session stays registered
// until its own goroutine unregisters it.
func (m *Manager) Close(id string) bool {
	m.mu.RLock()
	e, ok := m.active[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if e.closeFn != nil {
		e.closeFn()
	}
	slog.Info("Session closed", "session_id", id)
	return true
}

// CloseAll tears down every live connection and returns how many were closed.
func (m *Manager) CloseAll() int {
	m.mu.RLock()
	closers := make([]func(), 0, len(m.active))
	for _, e := range m.active {
		if e.closeFn != nil {
			closers = append(closers, e.closeFn)
		}
	}
	m.mu.RUnlock()

	for _, fn := range closers {
		fn()
	}
	return len(closers)
}

// Idle returns the IDs of sessions with no activity since now-timeout.
func (m *Manager) Idle(timeout time.Duration, now time.Time) []string {
	cutoff := now.Add(-timeout)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, e := range m.active {
		if e.session.LastActive().Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}
