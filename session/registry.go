package session

import (
	"sync"

	"go.uber.org/multierr"
)

// A Registry holds the live sessions of a process, keyed by call id. At most one
// session per call may be registered.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Register adds the session for the call or fails with ErrAlreadyActive.
func (r *Registry) Register(callID string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callID]; ok {
		return ErrAlreadyActive
	}
	r.sessions[callID] = s
	return nil
}

// Lookup returns the session for the call, if any.
func (r *Registry) Lookup(callID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove drops the session for the call. A session only removes itself, never a
// newer session registered under the same id.
func (r *Registry) Remove(callID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[callID]; ok && (s == nil || current == s) {
		delete(r.sessions, callID)
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll disposes every registered session.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Combine(err, s.Dispose())
	}
	return err
}
