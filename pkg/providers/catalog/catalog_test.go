package catalog

import (
	"errors"
	"reflect"
	"testing"

	"mercator-hq/conduit/pkg/providers"
)

func TestDefault(t *testing.T) {
	registry := Default()

	want := []string{"anthropic", "dashscope", "ollama", "openai"}
	if got := registry.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestNew_Entries(t *testing.T) {
	registry, err := New([]Entry{
		{Name: "ollama", BaseURL: "http://gpu-box:11434"},
		{Name: "groq", BaseURL: "https://api.groq.com/openai/v1"},
		{Name: "azure", Type: "openai", BaseURL: "https://example.test", AuthHeader: "api-key"},
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		provider string
		op       providers.Operation
		wantURL  string
	}{
		{"ollama", providers.OpChatComplete, "http://gpu-box:11434/api/chat"},
		{"groq", providers.OpChatComplete, "https://api.groq.com/openai/v1/chat/completions"},
		{"azure", providers.OpEmbed, "https://example.test/embeddings"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p := registry.MustGet(tt.provider)
			req := providers.NewUnifiedRequest(tt.op, map[string]any{}, providers.ProviderOptions{APIKey: "k"})
			target, err := p.BuildURL(providers.APIContext{Operation: tt.op, Request: req})
			if err != nil {
				t.Fatalf("BuildURL failed: %v", err)
			}
			if target.URL != tt.wantURL {
				t.Errorf("URL = %s, want %s", target.URL, tt.wantURL)
			}
		})
	}

	if registry.MustGet("azure").Name != "azure" {
		t.Error("expected compatible entry registered under its own name")
	}
}

func TestNew_InvalidEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{"missing name", Entry{Type: "openai"}},
		{"unknown type", Entry{Name: "x", Type: "bedrock"}},
		{"renamed native", Entry{Name: "claude", Type: "anthropic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New([]Entry{tt.entry}, nil)
			var ce *providers.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("expected ConfigError, got %v", err)
			}
		})
	}
}
