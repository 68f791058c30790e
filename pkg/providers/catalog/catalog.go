// Package catalog assembles the provider registry from built-in definitions
// and configured entries.
package catalog

import (
	"fmt"
	"log/slog"

	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/providers/anthropic"
	"mercator-hq/conduit/pkg/providers/dashscope"
	"mercator-hq/conduit/pkg/providers/ollama"
	"mercator-hq/conduit/pkg/providers/openai"
)

// Provider types understood by New.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeDashScope = "dashscope"
	TypeOllama    = "ollama"
)

// Entry configures one registered provider.
type Entry struct {
	// Name is the registry name used in x-conduit-provider.
	Name string `yaml:"name"`

	// Type selects the definition. If empty it is inferred from Name, and
	// unknown names are treated as OpenAI-compatible.
	Type string `yaml:"type"`

	// BaseURL replaces the definition's default base URL.
	BaseURL string `yaml:"base_url"`

	// AuthHeader applies to OpenAI-compatible entries only.
	AuthHeader string `yaml:"auth_header"`
}

// Default returns a registry with every built-in provider at its default
// base URL.
func Default() *providers.Registry {
	registry, err := New(nil, nil)
	if err != nil {
		// built-in definitions are static
		panic(err)
	}
	return registry
}

// New builds a registry from the built-in providers plus entries. An entry
// whose name matches a built-in provider replaces it, which is how base URL
// overrides are applied.
func New(entries []Entry, logger *slog.Logger) (*providers.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "providers.catalog")

	defs := map[string]*providers.Provider{
		openai.Name:    openai.New(openai.Config{}),
		anthropic.Name: anthropic.New(anthropic.Config{}),
		dashscope.Name: dashscope.New(dashscope.Config{}),
		ollama.Name:    ollama.New(ollama.Config{}),
	}

	for _, e := range entries {
		if e.Name == "" {
			return nil, &providers.ConfigError{Field: "name", Message: "provider name is required"}
		}
		p, err := build(e)
		if err != nil {
			return nil, err
		}
		if _, exists := defs[e.Name]; exists {
			logger.Debug("overriding built-in provider", "name", e.Name, "base_url", e.BaseURL)
		}
		defs[e.Name] = p
	}

	list := make([]*providers.Provider, 0, len(defs))
	for _, p := range defs {
		list = append(list, p)
	}

	registry, err := providers.NewRegistry(list...)
	if err != nil {
		return nil, err
	}

	logger.Info("provider registry built", "providers", registry.Names())
	return registry, nil
}

// build creates the definition for one entry.
func build(e Entry) (*providers.Provider, error) {
	typ := e.Type
	if typ == "" {
		typ = inferType(e.Name)
	}

	switch typ {
	case TypeOpenAI:
		return openai.New(openai.Config{Name: e.Name, BaseURL: e.BaseURL, AuthHeader: e.AuthHeader}), nil

	case TypeAnthropic, TypeDashScope, TypeOllama:
		if e.Name != typ {
			return nil, &providers.ConfigError{
				Provider: e.Name,
				Field:    "type",
				Message:  fmt.Sprintf("%s definitions are registered under their own name only", typ),
			}
		}
		switch typ {
		case TypeAnthropic:
			return anthropic.New(anthropic.Config{BaseURL: e.BaseURL}), nil
		case TypeDashScope:
			return dashscope.New(dashscope.Config{BaseURL: e.BaseURL}), nil
		default:
			return ollama.New(ollama.Config{BaseURL: e.BaseURL}), nil
		}

	default:
		return nil, &providers.ConfigError{
			Provider: e.Name,
			Field:    "type",
			Message:  fmt.Sprintf("unsupported provider type: %q (supported: openai, anthropic, dashscope, ollama)", typ),
		}
	}
}

// inferType infers the provider type from the provider name.
func inferType(name string) string {
	switch name {
	case TypeAnthropic, TypeDashScope, TypeOllama:
		return name
	default:
		return TypeOpenAI
	}
}
