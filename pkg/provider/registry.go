package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured provider descriptors. It is an in-process,
// thread-safe registry; persistence of provider configuration is a host
// concern.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Upsert adds or replaces a descriptor, keyed by its name.
func (r *Registry) Upsert(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("provider descriptor requires a name")
	}
	if desc.FactoryKey == "" {
		return fmt.Errorf("provider descriptor %q requires a factory key", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[desc.Name] = desc
	return nil
}

// SetEnabled flips the enabled flag of a registered provider.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.descriptors[name]
	if !ok {
		return fmt.Errorf("provider %q is not registered", name)
	}
	desc.Enabled = enabled
	r.descriptors[name] = desc
	return nil
}

// Get returns the descriptor with the given name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[name]
	return desc, ok
}

// ListEnabled returns the enabled descriptors sorted by name. The stable
// order keeps provider assignment deterministic across cycles.
func (r *Registry) ListEnabled() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, desc := range r.descriptors {
		if desc.Enabled {
			out = append(out, desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
