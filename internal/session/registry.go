package session

import (
	"sort"
	"sync"

	"helixmind/internal/permission"
)

// GateFactory builds the permission gate for a new session. Gates are
// session-scoped so each conversation carries its own approvals.
type GateFactory func() *permission.Gate

// Registry maps session ids to sessions. GetOrCreate is atomic: concurrent
// callers with the same id always land on the same session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	newGate  GateFactory
}

func NewRegistry(newGate GateFactory) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		newGate:  newGate,
	}
}

func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	var gate *permission.Gate
	if r.newGate != nil {
		gate = r.newGate()
	}
	s := newSession(id, gate)
	r.sessions[id] = s
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Abort cancels the active turn of the named session. It returns false when
// the session does not exist or is idle; it never creates a session.
func (r *Registry) Abort(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return s.Abort()
}

// List returns a snapshot of all sessions sorted by id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
