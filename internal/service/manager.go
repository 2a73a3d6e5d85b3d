package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"docqa/internal/metrics"
)

// SessionFactory builds a fresh EMPTY session.
type SessionFactory func() *Session

type managedSession struct {
	session  *Session
	lastUsed time.Time
}

// Manager owns one Session per user, keyed by a random id. Sessions not used
// within the TTL are dropped by Sweep.
type Manager struct {
	factory SessionFactory
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// NewManager creates a session manager. A non-positive ttl disables expiry.
func NewManager(factory SessionFactory, ttl time.Duration) *Manager {
	return &Manager{
		factory:  factory,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*managedSession),
	}
}

// Create starts a new session and returns its id.
func (m *Manager) Create() (string, *Session) {
	id := uuid.NewString()
	s := m.factory()

	m.mu.Lock()
	m.sessions[id] = &managedSession{session: s, lastUsed: m.now()}
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	return id, s
}

// Get returns the session for id and marks it as used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	ms.lastUsed = m.now()
	return ms.session, true
}

// Delete removes the session for id. It reports whether the session existed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	return ok
}

// Sweep removes sessions idle since before now-ttl and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-m.ttl)

	m.mu.Lock()
	removed := 0
	for id, ms := range m.sessions {
		if ms.lastUsed.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
