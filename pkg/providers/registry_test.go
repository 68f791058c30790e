package providers

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	a := testProvider()
	b := testProvider()
	b.Name = "beta"
	b.StreamFormat = StreamNDJSON

	r, err := NewRegistry(b, a)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "acme" || names[1] != "beta" {
		t.Errorf("expected sorted names, got %v", names)
	}

	if p, ok := r.Get("beta"); !ok || p.Format() != StreamNDJSON {
		t.Error("expected beta with NDJSON framing")
	}

	_, err = r.Lookup("missing")
	var up *UnknownProviderError
	if !errors.As(err, &up) {
		t.Errorf("expected UnknownProviderError, got %v", err)
	}

	ops := r.Operations("acme")
	if len(ops) != 2 || ops[0] != OpChatComplete || ops[1] != OpEmbed {
		t.Errorf("unexpected operations %v", ops)
	}
}

func TestRegistry_Validation(t *testing.T) {
	noName := testProvider()
	noName.Name = ""

	noAPI := testProvider()
	noAPI.API.GetEndpoint = nil

	noConfigs := testProvider()
	noConfigs.Configs = nil

	badFormat := testProvider()
	badFormat.StreamFormat = "websocket"

	tests := []struct {
		name      string
		providers []*Provider
	}{
		{"duplicate", []*Provider{testProvider(), testProvider()}},
		{"nil", []*Provider{nil}},
		{"no name", []*Provider{noName}},
		{"no api", []*Provider{noAPI}},
		{"no configs", []*Provider{noConfigs}},
		{"bad format", []*Provider{badFormat}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.providers...); err == nil {
				t.Error("expected registry validation error")
			}
		})
	}
}

func TestRegistry_MustGetPanics(t *testing.T) {
	r, _ := NewRegistry(testProvider())

	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown provider")
		}
	}()
	r.MustGet("nope")
}
