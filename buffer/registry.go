package buffer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/streamrt/errors"
)

// Factory builds buffers for one backend.
type Factory interface {
	// Make allocates a buffer for spec.
	Make(spec Spec) (Buffer, error)
	// Granularity returns the capacity quantum in items for the given item
	// size. The buffer manager rounds capacities up to a multiple of it.
	Granularity(itemSize int, props *Properties) int
	// Capabilities returns what buffers built with props can do.
	Capabilities(props *Properties) Capabilities
}

// Registry maps backend names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the host backend registered.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{HostBackend: HostFactory{}},
	}
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return errors.WrapInvalid(fmt.Errorf("empty backend name or nil factory"),
			"Registry", "Register", "register buffer backend")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("backend %q already registered", name),
			"Registry", "Register", "register buffer backend")
	}
	r.factories[name] = f
	return nil
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownBackend, name),
			"Registry", "Lookup", "resolve buffer backend")
	}
	return f, nil
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
