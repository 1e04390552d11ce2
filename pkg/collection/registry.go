package collection

import (
	"fmt"
	"slices"
	"sync"
)

// Registry holds the collections a process serves, by name.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]Endpoint)}
}

// Register adds e. Names must be unique.
func (r *Registry) Register(e Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.endpoints[e.Name()]; exists {
		return fmt.Errorf("collection %q already registered", e.Name())
	}
	r.endpoints[e.Name()] = e
	return nil
}

// Get returns the collection called name.
func (r *Registry) Get(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[name]
	return e, ok
}

// Names lists registered collections in name order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for n := range r.endpoints {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
