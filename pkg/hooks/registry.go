package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// RegistryError is returned when a plugin cannot be registered.
type RegistryError struct {
	Key     string
	Message string
}

// Error implements the error interface.
func (e *RegistryError) Error() string {
	return fmt.Sprintf("plugin %q: %s", e.Key, e.Message)
}

// Registry maps "<collection>.<id>" to plugins.
//
// Registry is safe for concurrent use. Lookups take a read lock so a plugin
// directory can be reloaded while requests are running.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds p. Registering a key twice is an error.
func (r *Registry) Register(p Plugin) error {
	if err := validate(p); err != nil {
		return err
	}

	key := p.Metadata().Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[key]; exists {
		return &RegistryError{Key: key, Message: "already registered"}
	}
	r.plugins[key] = p
	return nil
}

// ReplaceCollection atomically swaps every plugin of collection for list.
// Plugins of other collections are untouched.
func (r *Registry) ReplaceCollection(collection string, list []Plugin) error {
	next := make(map[string]Plugin, len(list))
	for _, p := range list {
		if err := validate(p); err != nil {
			return err
		}
		md := p.Metadata()
		if md.Collection != collection {
			return &RegistryError{Key: md.Key(), Message: fmt.Sprintf("not in collection %q", collection)}
		}
		if _, dup := next[md.Key()]; dup {
			return &RegistryError{Key: md.Key(), Message: "duplicate plugin"}
		}
		next[md.Key()] = p
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, p := range r.plugins {
		if p.Metadata().Collection == collection {
			delete(r.plugins, key)
		}
	}
	for key, p := range next {
		r.plugins[key] = p
	}
	return nil
}

// Get returns the plugin registered under key.
func (r *Registry) Get(key string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[key]
	return p, ok
}

// List returns the metadata of every plugin sorted by key.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

func validate(p Plugin) error {
	if p == nil {
		return &RegistryError{Message: "plugin cannot be nil"}
	}
	md := p.Metadata()
	if md.Collection == "" || md.ID == "" {
		return &RegistryError{Key: md.Key(), Message: "collection and id are required"}
	}
	for _, e := range md.Events {
		if !e.Valid() {
			return &RegistryError{Key: md.Key(), Message: fmt.Sprintf("unknown event %q", e)}
		}
	}
	return nil
}
