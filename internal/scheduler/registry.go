package scheduler

import (
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Registry is the process-wide mapping from handle name to scheduling state.
//
// It is an explicit, constructor-injected object rather than a package-level
// table so multiple isolated scheduler instances can coexist (one per test,
// one per embedded engine) with a defined lifecycle.
//
// Handle names are NFC-normalized before use as map keys, so the same
// handle cannot be registered twice under visually identical names with
// different Unicode encodings.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*lockState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*lockState),
	}
}

// register creates lock state for the name.
// Fails with AlreadyRegisteredError if the name is live.
func (r *Registry) register(name string) (*lockState, error) {
	key := normalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[key]; ok {
		return nil, &AlreadyRegisteredError{Name: name}
	}

	st := newLockState(key)
	r.handles[key] = st
	return st, nil
}

// unregister removes the lock state for the name.
// The caller is responsible for checking the busy policy first.
func (r *Registry) unregister(name string) (*lockState, error) {
	key := normalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.handles[key]
	if !ok {
		return nil, &UnknownHandleError{Name: name}
	}

	delete(r.handles, key)
	return st, nil
}

// get resolves the lock state for the name.
// Every scheduler operation on a handle name begins with this lookup.
func (r *Registry) get(name string) (*lockState, error) {
	key := normalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.handles[key]
	if !ok {
		return nil, &UnknownHandleError{Name: name}
	}
	return st, nil
}

// Names returns the registered handle names. Order is unspecified.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// normalizeName canonicalizes a handle name for map identity.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}
