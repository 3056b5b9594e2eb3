package main

import (
	"sync"

	"sandboxd/internal/runtime"
)

// session is one live runtime handle plus its last observed status.
type session struct {
	rt     *runtime.Runtime
	mu     sync.Mutex
	status runtime.Status
	detail string
}

func (s *session) setStatus(status runtime.Status, detail string) {
	s.mu.Lock()
	s.status, s.detail = status, detail
	s.mu.Unlock()
}

func (s *session) currentStatus() (runtime.Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.detail
}

type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: map[string]*session{}}
}

// add registers a new session, returning false when the sid is already live.
func (r *sessionRegistry) add(sid string, s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sid]; exists {
		return false
	}
	r.sessions[sid] = s
	return true
}

func (r *sessionRegistry) get(sid string) (*session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[sid]
	r.mu.RUnlock()
	return s, ok
}

func (r *sessionRegistry) delete(sid string) {
	r.mu.Lock()
	delete(r.sessions, sid)
	r.mu.Unlock()
}
