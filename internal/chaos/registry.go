package chaos

import (
	"sync"
)

// Registry is an ordered, append-only set of fault specs keyed by name.
type Registry struct {
	mu     sync.RWMutex
	specs  []FaultSpec
	byName map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]int),
	}
}

// Register validates and appends a spec. Duplicate names are rejected.
func (r *Registry) Register(spec FaultSpec) (FaultSpec, error) {
	normalized, err := spec.normalize()
	if err != nil {
		return FaultSpec{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[normalized.Name]; exists {
		return FaultSpec{}, invalidSpec("duplicate experiment name %q", normalized.Name)
	}
	r.byName[normalized.Name] = len(r.specs)
	r.specs = append(r.specs, normalized)
	return normalized.clone(), nil
}

func (r *Registry) Get(name string) (FaultSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byName[name]
	if !ok {
		return FaultSpec{}, false
	}
	return r.specs[idx].clone(), true
}

// List returns a copy of every spec in registration order.
func (r *Registry) List() []FaultSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FaultSpec, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.clone()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// Filter returns a snapshot registry holding the specs for which keep is true.
func (r *Registry) Filter(keep func(FaultSpec) bool) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	view := NewRegistry()
	for _, s := range r.specs {
		if keep(s) {
			view.byName[s.Name] = len(view.specs)
			view.specs = append(view.specs, s)
		}
	}
	return view
}
