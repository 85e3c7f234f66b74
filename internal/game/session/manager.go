package session

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Session is one connected client.
type Session struct {
	// ID is also the id of the character the session controls.
	ID string
	// UserID is the verified account; empty for guests.
	UserID     string
	RemoteAddr string
	Outbox     *Outbox
	// Snapshots bounds how often the client may request a full game state.
	Snapshots *rate.Limiter

	lastActive atomic.Int64
	closeOnce  sync.Once
	onClose    func()
}

// New creates a session active as of now. onClose runs once on Close and
// typically closes the network connection; it may be nil.
func New(id, userID, remoteAddr string, outbox *Outbox, snapshots *rate.Limiter, now time.Time, onClose func()) *Session {
	s := &Session{
		ID:         id,
		UserID:     userID,
		RemoteAddr: remoteAddr,
		Outbox:     outbox,
		Snapshots:  snapshots,
		onClose:    onClose,
	}
	s.Touch(now)
	return s
}

// Touch records inbound activity.
func (s *Session) Touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}

// LastActive returns the time of the last recorded activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Send queues an encoded frame for the client.
func (s *Session) Send(frame []byte) error {
	return s.Outbox.Push(frame)
}

// Close closes the outbox and runs onClose once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Outbox.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Manager tracks all live sessions. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Add registers s.
//
// Postcondition: Returns an error if a session with the same id exists.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %q already registered", s.ID)
	}
	m.sessions[s.ID] = s
	return nil
}

// Remove unregisters the session with id and returns it.
func (m *Manager) Remove(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return s, ok
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All returns every session ordered by id.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Idle returns the sessions with no activity for longer than timeout.
func (m *Manager) Idle(now time.Time, timeout time.Duration) []*Session {
	var out []*Session
	for _, s := range m.All() {
		if now.Sub(s.LastActive()) > timeout {
			out = append(out, s)
		}
	}
	return out
}

// Broadcast queues frame on every session and returns the sessions whose
// outbox refused it.
func (m *Manager) Broadcast(frame []byte) []*Session {
	var refused []*Session
	for _, s := range m.All() {
		if err := s.Send(frame); err != nil {
			refused = append(refused, s)
		}
	}
	return refused
}
