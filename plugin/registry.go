package plugin

import (
	"fmt"
	"slices"
	"sync"
)

// UnknownPluginError is returned when no factory is registered for a plugin id.
type UnknownPluginError struct {
	Kind string
	ID   string
}

func (e *UnknownPluginError) Error() string {
	return fmt.Sprintf("unknown %s plugin %q", e.Kind, e.ID)
}

// Registry maps plugin ids to factories of type F. It is populated explicitly at startup.
type Registry[F any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]F
}

// NewRegistry returns an empty registry. kind names the plugin family in errors.
func NewRegistry[F any](kind string) *Registry[F] {
	return &Registry[F]{
		kind:      kind,
		factories: make(map[string]F),
	}
}

// Register adds a factory. Registering the same id twice is an error.
func (r *Registry[F]) Register(id string, f F) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[id]; ok {
		return fmt.Errorf("%s plugin %q already registered", r.kind, id)
	}
	r.factories[id] = f

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry[F]) MustRegister(id string, f F) {
	if err := r.Register(id, f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory of id. A derivative id such as "entity:user" falls back to the
// factory registered for its base id "entity".
func (r *Registry[F]) Lookup(id string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.factories[id]; ok {
		return f, nil
	}
	if base := (Config{ID: id}).Base(); base != id {
		if f, ok := r.factories[base]; ok {
			return f, nil
		}
	}

	var zero F

	return zero, &UnknownPluginError{Kind: r.kind, ID: id}
}

// IDs returns the registered ids in sorted order.
func (r *Registry[F]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}
