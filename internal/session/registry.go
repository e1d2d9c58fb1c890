package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry keeps one Session per browser, keyed by a random id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
	now      func() time.Time
}

// NewRegistry creates a registry whose sessions expire after idleTTL without use.
func NewRegistry(idleTTL time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Get returns the session with the given id and marks it as used.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.touch(r.now())
	}
	return s, ok
}

// Create starts an empty session with a fresh id.
func (r *Registry) Create() *Session {
	s := New(uuid.NewString(), nil)
	s.touch(r.now())
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	slog.Debug("created scoring session", "session_id", s.id)
	return s
}

// GetOrCreate returns the session for id, creating a new one when id is unknown.
func (r *Registry) GetOrCreate(id string) (s *Session, created bool) {
	if id != "" {
		if s, ok := r.Get(id); ok {
			return s, false
		}
	}
	return r.Create(), true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many went.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}
