// Package session tracks connected player sessions and fans state changes out
// to their outbound handles.
package session

import (
	"sync"

	"github.com/cory-johannsen/islemulti/internal/game/entity"
)

// ConnID identifies one live connection by its peer network address.
type ConnID string

// Session is the server-side record of one joined client.
type Session struct {
	// Name is the display name taken verbatim from the join command. Not unique.
	Name string
	// Position is the last reported position.
	Position entity.Position
	// Direction is the last reported heading.
	Direction entity.Direction
	// Character is the avatar kind.
	Character entity.Character
}

// NewSession returns a session at the origin with the default character.
func NewSession(name string) Session {
	return Session{
		Name:      name,
		Character: entity.DefaultCharacter,
	}
}

// Outbound is the writable endpoint used to push messages to one client.
type Outbound interface {
	ID() ConnID
	Push(data []byte) error
}

// entry keeps a session and its handle together so they are always inserted
// and removed as one.
type entry struct {
	session Session
	out     Outbound
}

// Registry maps connection identities to their session and outbound handle.
// All methods are safe for concurrent use. Mutating methods return the peer
// handle set computed under the same lock as the mutation.
type Registry struct {
	mu      sync.RWMutex
	entries map[ConnID]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[ConnID]*entry),
	}
}

// Register inserts or replaces the session and handle for id.
//
// Precondition: out must be non-nil.
// Postcondition: Subsequent broadcasts reach out. Returns the handles of every
// other registered connection.
func (r *Registry) Register(id ConnID, sess Session, out Outbound) []Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[id] = &entry{session: sess, out: out}
	return r.handlesLocked(id)
}

// Update applies fn to the session registered for id.
//
// Postcondition: Returns the updated session, the handles of every other
// connection and true; or a zero Session, nil and false when id is not
// registered, in which case fn is not called.
func (r *Registry) Update(id ConnID, fn func(*Session)) (Session, []Outbound, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Session{}, nil, false
	}
	fn(&e.session)
	return e.session, r.handlesLocked(id), true
}

// Remove deletes the session and handle for id. Removing an absent id is a no-op.
//
// Postcondition: Returns true if an entry was removed.
func (r *Registry) Remove(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Handles returns the outbound handles of every registered connection except
// exclude. An empty exclude returns all handles.
//
// Postcondition: The returned slice is owned by the caller.
func (r *Registry) Handles(exclude ConnID) []Outbound {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlesLocked(exclude)
}

func (r *Registry) handlesLocked(exclude ConnID) []Outbound {
	handles := make([]Outbound, 0, len(r.entries))
	for id, e := range r.entries {
		if exclude != "" && id == exclude {
			continue
		}
		handles = append(handles, e.out)
	}
	return handles
}

// Session returns a copy of the session registered for id.
func (r *Registry) Session(id ConnID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// Sessions returns a copy of every registered session keyed by identity.
func (r *Registry) Sessions() map[ConnID]Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ConnID]Session, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.session
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
