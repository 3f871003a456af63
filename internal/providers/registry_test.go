package providers

import (
	"context"
	"testing"

	"studio/internal/domain"
)

type fakeBackend struct {
	name string
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Submit(ctx context.Context, req Request) (Submission, error) {
	return Submission{}, nil
}
func (f *fakeBackend) Poll(ctx context.Context, sub Submission) (PollResult, error) {
	return PollResult{}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(
		[]Backend{&fakeBackend{name: "kie"}, &fakeBackend{name: "kling"}, &fakeBackend{name: "pixa"}},
		DefaultModelTable(),
		"pixa",
	)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	return registry
}

func TestRegistryResolvesExactModels(t *testing.T) {
	registry := newTestRegistry(t)

	cases := []struct {
		model string
		want  string
	}{
		{"kie-x", "kie"},
		{"kie-x-pro", "kie"},
		{"kling-x", "kling"},
		{"pixa-one", "pixa"},
		{"some-new-model", "pixa"},
		{"", "pixa"},
	}
	for _, tc := range cases {
		handle := registry.Resolve(domain.MediaKindVideo, tc.model)
		if handle.Backend.Name() != tc.want {
			t.Fatalf("model %q resolved to %s, want %s", tc.model, handle.Backend.Name(), tc.want)
		}
	}
}

func TestRegistryRejectsUnknownFallback(t *testing.T) {
	_, err := NewRegistry([]Backend{&fakeBackend{name: "kie"}}, nil, "missing")
	if err == nil {
		t.Fatal("expected error for unregistered fallback")
	}
}

func TestRegistryRejectsDanglingModel(t *testing.T) {
	_, err := NewRegistry([]Backend{&fakeBackend{name: "kie"}}, map[string]string{"m": "ghost"}, "kie")
	if err == nil {
		t.Fatal("expected error for model mapped to unregistered backend")
	}
}

func TestRegistryBackendByName(t *testing.T) {
	registry := newTestRegistry(t)
	if _, ok := registry.BackendByName("kling"); !ok {
		t.Fatal("expected kling backend")
	}
	if _, ok := registry.BackendByName("ghost"); ok {
		t.Fatal("did not expect ghost backend")
	}
}
