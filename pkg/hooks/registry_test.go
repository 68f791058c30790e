package hooks

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(newStub("a", verdict(true, nil))); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var re *RegistryError
	if err := r.Register(newStub("a", verdict(true, nil))); !errors.As(err, &re) {
		t.Errorf("expected duplicate error, got %v", err)
	}
	if err := r.Register(&stub{md: Metadata{ID: "x"}}); !errors.As(err, &re) {
		t.Errorf("expected missing collection error, got %v", err)
	}
	if err := r.Register(&stub{md: Metadata{ID: "x", Collection: "c", Events: []EventType{"onStream"}}}); err == nil {
		t.Error("expected unknown event error")
	}

	if _, ok := r.Get("test.a"); !ok {
		t.Error("expected test.a registered")
	}
}

func TestRegistry_ReplaceCollection(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(newStub("keep", verdict(true, nil)))
	_ = r.Register(&stub{md: Metadata{ID: "old", Collection: "ext"}})

	err := r.ReplaceCollection("ext", []Plugin{
		&stub{md: Metadata{ID: "new1", Collection: "ext"}},
		&stub{md: Metadata{ID: "new2", Collection: "ext"}},
	})
	if err != nil {
		t.Fatalf("ReplaceCollection failed: %v", err)
	}

	var keys []string
	for _, md := range r.List() {
		keys = append(keys, md.Key())
	}
	want := []string{"ext.new1", "ext.new2", "test.keep"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys = %v, want %v", keys, want)
		}
	}

	if err := r.ReplaceCollection("ext", []Plugin{&stub{md: Metadata{ID: "x", Collection: "other"}}}); err == nil {
		t.Error("expected collection mismatch error")
	}
	if r.Len() != 3 {
		t.Errorf("expected failed replace to leave registry unchanged, got %d", r.Len())
	}
}
