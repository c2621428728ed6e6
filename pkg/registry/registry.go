package registry

import (
	"fmt"
	"slices"
	"sync"
)

// Registry tracks the sessions of a running server.
//
// A session is added once, right after its connection is accepted, and
// removed once, by the session's own cleanup. In between it is visible to
// listing and disconnect calls. The map lock is held only while the map is
// read or changed, never across network I/O.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.Add(session)
//	for _, s := range reg.SnapshotWithInfo() {
//	    fmt.Println(s.ID, s.Info.Filename)
//	}
//	reg.Disconnect(session.ID())
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session
}

// SessionInfo is a point-in-time view of one session.
type SessionInfo struct {
	ID         SessionID
	RemoteAddr string
	Info       ClientRequestInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]*Session),
	}
}

// Add registers a session. Returns an error if a session with the same ID is
// already registered.
func (r *Registry) Add(s *Session) error {
	if s == nil {
		return fmt.Errorf("cannot register nil session")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID()]; exists {
		return fmt.Errorf("session %d already registered", s.ID())
	}

	r.sessions[s.ID()] = s
	return nil
}

// Remove unregisters a session and reports whether it was present.
func (r *Registry) Remove(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Get returns the session with the given ID.
func (r *Registry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ListIDs returns the IDs of all registered sessions in ascending order.
func (r *Registry) ListIDs() []SessionID {
	r.mu.RLock()
	ids := make([]SessionID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// SnapshotWithInfo returns every registered session with a copy of its
// request info, ordered by ID.
//
// Each info is copied under the session's info lock while the registry lock
// is held, so the snapshot never includes a session that was already
// unregistered.
func (r *Registry) SnapshotWithInfo() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, SessionInfo{
			ID:         id,
			RemoteAddr: s.RemoteAddr(),
			Info:       s.Info(),
		})
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Disconnect shuts down the stream of the session with the given ID.
//
// It returns true if such a session is registered, even if its stream was
// already shut down. The entry itself is left in place: the session removes
// it during its own cleanup.
func (r *Registry) Disconnect(id SessionID) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}

	s.Shutdown()
	return true
}
