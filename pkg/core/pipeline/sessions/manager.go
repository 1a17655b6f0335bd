// Package sessions tracks live voice sessions for draining and idle
// reaping.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for a session ID with no live session.
var ErrNotFound = errors.New("session not found")

// Handle is what a session exposes to the manager.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

// Manager tracks active sessions. It hands out session IDs, lets the
// server warn or cancel everything on shutdown, and reaps sessions that
// have gone quiet.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
	now      func() time.Time
}

type trackedSession struct {
	handle     Handle
	lastActive time.Time
	once       sync.Once
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*trackedSession),
		now:      time.Now,
	}
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// Register adds a session under the given ID. Registering the same ID
// twice cancels and replaces the old entry. The returned func unregisters;
// calling it more than once is safe.
func (m *Manager) Register(sessionID string, h Handle) (unregister func()) {
	if m == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h, lastActive: m.now()}

	m.mu.Lock()
	if m.sessions == nil {
		m.sessions = make(map[string]*trackedSession)
	}
	old := m.sessions[sessionID]
	m.sessions[sessionID] = entry
	m.wg.Add(1)
	m.mu.Unlock()

	if old != nil {
		if old.handle.Cancel != nil {
			old.handle.Cancel()
		}
		m.unregister(sessionID, old)
	}

	return func() { m.unregister(sessionID, entry) }
}

func (m *Manager) unregister(sessionID string, entry *trackedSession) {
	if m == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		m.mu.Lock()
		if m.sessions != nil && m.sessions[sessionID] == entry {
			delete(m.sessions, sessionID)
		}
		m.mu.Unlock()
		m.wg.Done()
	})
}

// Get returns the handle registered under sessionID, or ErrNotFound.
func (m *Manager) Get(sessionID string) (Handle, error) {
	if m == nil {
		return Handle{}, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[sessionID]
	if !ok || entry == nil {
		return Handle{}, ErrNotFound
	}
	return entry.handle, nil
}

// Touch records activity for a session, deferring idle reaping.
func (m *Manager) Touch(sessionID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if entry, ok := m.sessions[sessionID]; ok {
		entry.lastActive = m.now()
	}
	m.mu.Unlock()
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// WarnAll sends a warning to every active session.
func (m *Manager) WarnAll(code, message string) (sent int) {
	if m == nil {
		return 0
	}

	var warns []func(code, message string) error
	m.mu.Lock()
	for _, entry := range m.sessions {
		if entry == nil || entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	m.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll cancels every active session.
func (m *Manager) CancelAll() (canceled int) {
	if m == nil {
		return 0
	}

	var cancels []func()
	m.mu.Lock()
	for _, entry := range m.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// ReapIdle cancels sessions with no activity for at least maxIdle and
// returns how many were reaped.
func (m *Manager) ReapIdle(maxIdle time.Duration) (reaped int) {
	if m == nil || maxIdle <= 0 {
		return 0
	}

	cutoff := m.now().Add(-maxIdle)
	var cancels []func()
	m.mu.Lock()
	for _, entry := range m.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		if entry.lastActive.Before(cutoff) {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		reaped++
	}
	return reaped
}

// RunReaper reaps idle sessions every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	if m == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(maxIdle)
		}
	}
}

// Wait blocks until every session has unregistered or ctx is done. Returns
// true when everything drained.
func (m *Manager) Wait(ctx context.Context) bool {
	if m == nil {
		return true
	}
	if ctx == nil {
		m.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
