package engine

import (
	"sync"
	"time"
)

// Session is one logged-in account on a channel. At most one session exists
// per account per channel; a second login for the same account is rejected,
// not queued or replaced.
type Session struct {
	AccountID   int64
	Name        string
	TransportID string
	LoggedInAt  time.Time
}

// SessionRegistry tracks logged-in accounts and raw presence for one channel.
// Presence (connected transports) and sessions (authenticated accounts) are
// counted separately: a connected client that never logs in still keeps the
// scheduler alive.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]Session
	online   int
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[int64]Session)}
}

// Connect records one more present transport and returns the new count.
func (r *SessionRegistry) Connect() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online++
	return r.online
}

// Disconnect records one less present transport and returns the new count.
func (r *SessionRegistry) Disconnect() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.online > 0 {
		r.online--
	}
	return r.online
}

// Online returns the current presence count.
func (r *SessionRegistry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online
}

// Add registers a session, failing with ErrAlreadyLoggedIn when the account
// already has one on this channel.
func (r *SessionRegistry) Add(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.AccountID]; exists {
		return ErrAlreadyLoggedIn
	}
	r.sessions[s.AccountID] = s
	return nil
}

// Remove drops the account's session if present.
func (r *SessionRegistry) Remove(accountID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[accountID]; !exists {
		return false
	}
	delete(r.sessions, accountID)
	return true
}

// RemoveByTransport drops the session bound to a transport, returning the
// account it belonged to. Used when a connection closes without a clean
// disconnect message.
func (r *SessionRegistry) RemoveByTransport(transportID string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.TransportID == transportID {
			delete(r.sessions, id)
			return id, true
		}
	}
	return 0, false
}

// Get returns the account's session.
func (r *SessionRegistry) Get(accountID int64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[accountID]
	return s, ok
}

// AccountIDs lists the logged-in accounts.
func (r *SessionRegistry) AccountIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Sessions returns a copy of all live sessions.
func (r *SessionRegistry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
