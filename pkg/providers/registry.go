package providers

import (
	"fmt"
	"sort"
)

// Registry holds provider definitions. It is built once at startup and is
// read-only afterwards, so it needs no locking.
type Registry struct {
	providers map[string]*Provider
	names     []string
}

// NewRegistry validates and indexes providers. Names must be unique and
// every provider must define a base URL function and at least one operation.
func NewRegistry(providers ...*Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]*Provider, len(providers))}

	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("nil provider definition")
		}
		if p.Name == "" {
			return nil, &ConfigError{Field: "name", Message: "provider name is required"}
		}
		if _, exists := r.providers[p.Name]; exists {
			return nil, &ConfigError{Provider: p.Name, Field: "name", Message: "duplicate provider name"}
		}
		if p.API.GetBaseURL == nil || p.API.GetEndpoint == nil {
			return nil, &ConfigError{Provider: p.Name, Field: "api", Message: "GetBaseURL and GetEndpoint are required"}
		}
		if len(p.Configs) == 0 {
			return nil, &ConfigError{Provider: p.Name, Field: "configs", Message: "at least one operation is required"}
		}
		switch p.Format() {
		case StreamSSE, StreamNDJSON:
		default:
			return nil, &ConfigError{Provider: p.Name, Field: "stream_format", Message: fmt.Sprintf("unknown format %q", p.StreamFormat)}
		}

		r.providers[p.Name] = p
		r.names = append(r.names, p.Name)
	}

	sort.Strings(r.names)
	return r, nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Lookup is like Get but returns an *UnknownProviderError.
func (r *Registry) Lookup(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &UnknownProviderError{Provider: name}
	}
	return p, nil
}

// MustGet returns the provider registered under name and panics otherwise.
func (r *Registry) MustGet(name string) *Provider {
	p, ok := r.providers[name]
	if !ok {
		panic(fmt.Sprintf("providers: %q not registered", name))
	}
	return p
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Operations returns the operations supported by the named provider, sorted.
func (r *Registry) Operations(name string) []Operation {
	p, ok := r.providers[name]
	if !ok {
		return nil
	}
	ops := make([]Operation, 0, len(p.Configs))
	for op := range p.Configs {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}
