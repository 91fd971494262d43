package memory

import (
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/persona"
	"github.com/parleyhq/parley/internal/tokens"
)

// DefaultMaxSessions caps how many sessions a registry tracks at once.
const DefaultMaxSessions = 500

// Registry hands out per-session managers and evicts the stalest ones
// once the cap is exceeded. All sessions share one estimator and one
// profile table.
type Registry struct {
	mu          sync.Mutex
	maxSessions int
	estimator   *tokens.Estimator
	profiles    *Profiles
	sessions    map[string]*session
}

type session struct {
	manager    *Manager
	lastAccess time.Time
}

// NewRegistry returns a registry capped at maxSessions, or
// DefaultMaxSessions when maxSessions is not positive. A nil estimator
// gets the heuristic one.
func NewRegistry(maxSessions int, est *tokens.Estimator) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if est == nil {
		est = tokens.NewEstimator()
	}
	return &Registry{
		maxSessions: maxSessions,
		estimator:   est,
		profiles:    NewProfiles(),
		sessions:    make(map[string]*session),
	}
}

// Profiles exposes the registry-scoped model profile table.
func (r *Registry) Profiles() *Profiles {
	return r.profiles
}

// GetOrCreate returns the manager for id, creating it on first use.
// Every call refreshes the session's access time and output format.
func (r *Registry) GetOrCreate(id string, format persona.Format) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.lastAccess = time.Now()
		s.manager.SetFormat(format)
		return s.manager
	}
	mgr := NewManager(id, format, r.estimator, r.profiles)
	r.sessions[id] = &session{manager: mgr, lastAccess: time.Now()}
	return mgr
}

// Get returns the manager for id without creating one. A hit refreshes
// the access time.
func (r *Registry) Get(id string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastAccess = time.Now()
	return s.manager, true
}

// Remove drops the session for id, reporting whether one existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns the ids of all live sessions in no particular order.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Evict removes least-recently-accessed sessions until the count is
// back at the cap, returning how many were dropped.
func (r *Registry) Evict() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for len(r.sessions) > r.maxSessions {
		oldestID := ""
		var oldest time.Time
		for id, s := range r.sessions {
			if oldestID == "" || s.lastAccess.Before(oldest) {
				oldestID = id
				oldest = s.lastAccess
			}
		}
		delete(r.sessions, oldestID)
		evicted++
	}
	return evicted
}
