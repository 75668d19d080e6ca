package realtime

import (
	"sync"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

// Registry records the live connection of each identity. It is process
// local and holds no durable state.
type Registry interface {
	// Register stores c, replacing any entry for the same identity. The
	// replaced entry is returned when there was one.
	Register(c model.Connection) (prev model.Connection, replaced bool)

	// Unregister removes the entry for identityID only if it still
	// belongs to socketID, and reports whether it did.
	Unregister(identityID, socketID string) bool

	// Lookup returns the live entry for identityID.
	Lookup(identityID string) (model.Connection, bool)
}

// MemoryRegistry is an in-memory Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]model.Connection
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]model.Connection)}
}

// Register stores c as the live entry for its identity.
func (r *MemoryRegistry) Register(c model.Connection) (model.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.entries[c.IdentityID]
	r.entries[c.IdentityID] = c
	return prev, ok
}

// Unregister deletes the entry only while it still points at socketID.
func (r *MemoryRegistry) Unregister(identityID, socketID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[identityID]
	if !ok || cur.SocketID != socketID {
		return false
	}
	delete(r.entries, identityID)
	return true
}

// Lookup returns the live entry for identityID.
func (r *MemoryRegistry) Lookup(identityID string) (model.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[identityID]
	return c, ok
}

// Len returns the number of registered identities.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
