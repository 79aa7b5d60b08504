package rtc

import "sync"

// Registry maps remote participant id to the live peer session for it. It is
// owned by a session orchestrator, never shared between two of them, so
// independent sessions (and tests) can coexist.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*PeerSession
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*PeerSession)}
}

// Add inserts the session keyed by its peer id, replacing nothing: the
// caller checks Has first.
func (r *Registry) Add(s *PeerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.PeerID()] = s
}

// Get returns the session for peerID, or nil.
func (r *Registry) Get(peerID string) *PeerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[peerID]
}

// Has reports whether a session exists for peerID.
func (r *Registry) Has(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[peerID]
	return ok
}

// Remove deletes the entry for peerID, if any.
func (r *Registry) Remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, peerID)
}

// Drain empties the registry and returns the removed sessions so the caller
// can close them without holding the registry lock.
func (r *Registry) Drain() []*PeerSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.sessions = make(map[string]*PeerSession)
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
