package capture

import "sync"

// Registry is a concurrency-safe set of subscribers. The broadcast path
// iterates over snapshots while connections mutate the set.
type Registry struct {
	mu      sync.RWMutex
	members map[Subscriber]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[Subscriber]struct{})}
}

// Add inserts s and reports whether it was not already present.
func (r *Registry) Add(s Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[s]; ok {
		return false
	}
	r.members[s] = struct{}{}
	return true
}

// Remove deletes s and reports whether it was present.
func (r *Registry) Remove(s Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[s]; !ok {
		return false
	}
	delete(r.members, s)
	return true
}

// Contains reports whether s is registered.
func (r *Registry) Contains(s Subscriber) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[s]
	return ok
}

// Snapshot returns a point-in-time copy of the members in no particular order.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.members))
	for s := range r.members {
		out = append(out, s)
	}
	return out
}

// Len returns the number of members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
