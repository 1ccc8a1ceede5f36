package connection

import "sync"

// DefaultName is the registry name queues look up when no other name is configured.
const DefaultName = "default"

// Locator finds a shared Manager by name.
type Locator interface {
	Lookup(name string) (*Manager, bool)
}

// Registry is a concurrency-safe Locator for managers shared by several queues.
// The registry never opens or closes the managers it holds.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Register stores m under name, replacing any previous entry.
func (r *Registry) Register(name string, m *Manager) {
	r.mu.Lock()
	r.managers[name] = m
	r.mu.Unlock()
}

// Lookup returns the manager registered under name.
func (r *Registry) Lookup(name string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.managers[name]

	return m, ok
}
