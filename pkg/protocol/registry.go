package protocol

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps protocol names to their implementations.
// It is thread-safe and can be used concurrently.
type Registry struct {
	impls map[string]Implementation
	mu    sync.RWMutex
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		impls: make(map[string]Implementation),
	}
}

// Register adds an implementation to the registry.
// Returns an error if one is already registered under the same name.
func (r *Registry) Register(impl Implementation) error {
	if impl == nil {
		return ErrNilImplementation
	}
	name := impl.Name()
	if name == "" {
		return ErrEmptyProtocolName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.impls[name]; exists {
		return fmt.Errorf("%w: %s", ErrImplementationExists, name)
	}

	r.impls[name] = impl
	return nil
}

// Get returns the implementation for a protocol name.
func (r *Registry) Get(name string) (Implementation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	impl, exists := r.impls[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrImplementationNotFound, name)
	}
	return impl, nil
}

// Names returns the registered protocol names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.impls))
	for name := range r.impls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered implementations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.impls)
}
