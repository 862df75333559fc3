// Package registry tracks the live connection handle for each user.
package registry

import (
	"sort"
	"sync"

	"nightingale/pkg/interfaces"
)

// Entry is one (user, handle) pair from a registry snapshot.
type Entry struct {
	UserID string
	Handle interfaces.Handle
}

// Registry maps a user identifier to its open connection handle. At most one
// entry exists per user; a second connect replaces the first
// (last-connect-wins). All access goes through the registry lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]interfaces.Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]interfaces.Handle)}
}

// Put registers a handle for userID, unconditionally replacing any existing
// entry. The displaced handle, if any, is returned so the caller can close
// it; its session row stays open until its own disconnect path runs.
func (r *Registry) Put(userID string, handle interfaces.Handle) interfaces.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	displaced := r.conns[userID]
	r.conns[userID] = handle
	return displaced
}

// Remove deletes the entry for userID only if it still holds the given
// handle. A disconnect racing a reconnect must not evict the newer
// connection. Idempotent: removing a missing or replaced entry is a no-op.
func (r *Registry) Remove(userID string, handle interfaces.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[userID]
	if !ok || current != handle {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Get returns the current handle for userID.
func (r *Registry) Get(userID string) (interfaces.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, ok := r.conns[userID]
	return handle, ok
}

// Snapshot returns a point-in-time copy of all entries, ordered by user ID.
// Callers iterate the copy without holding the registry lock, so concurrent
// connects and disconnects are never blocked behind delivery I/O.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.conns))
	for userID, handle := range r.conns {
		entries = append(entries, Entry{UserID: userID, Handle: handle})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

// Count returns the number of live entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
