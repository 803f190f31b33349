package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Factory is a function that creates a new backend instance from configuration.
type Factory func(name string, config map[string]string) (Backend, error)

// Registry manages backend type factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory // type name -> factory function
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// RegisterFactory registers a backend factory for a given type.
func (r *Registry) RegisterFactory(typeName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = factory
}

// Create builds a backend of the given type.
func (r *Registry) Create(typeName, name string, config map[string]string) (Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend type: %s", typeName)
	}

	b, err := factory(name, config)
	if err != nil {
		return nil, fmt.Errorf("creating backend %s: %w", name, err)
	}
	return b, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
