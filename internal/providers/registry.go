package providers

import (
	"fmt"

	"studio/internal/domain"
)

// Handle is a resolved provider binding. The orchestrator resolves a handle
// exactly once at submission time and persists the backend name on the job;
// poll and refund paths never re-derive the provider from the model string.
type Handle struct {
	Backend Backend
	Model   string
}

// Registry maps model names to backends. Unknown models resolve to the
// fallback backend rather than failing, so new vendor model aliases degrade
// gracefully.
type Registry struct {
	backends map[string]Backend
	models   map[string]string
	fallback string
}

// NewRegistry builds a registry over the given backends. fallback must name
// one of them.
func NewRegistry(backends []Backend, models map[string]string, fallback string) (*Registry, error) {
	byName := make(map[string]Backend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	if _, ok := byName[fallback]; !ok {
		return nil, fmt.Errorf("providers: fallback backend %q not registered", fallback)
	}
	for model, backend := range models {
		if _, ok := byName[backend]; !ok {
			return nil, fmt.Errorf("providers: model %q maps to unregistered backend %q", model, backend)
		}
	}
	return &Registry{backends: byName, models: models, fallback: fallback}, nil
}

// Resolve returns the handle for a media kind and requested model. Video
// models route by the model table; everything else lands on the fallback
// unless the model is explicitly mapped.
func (r *Registry) Resolve(kind domain.MediaKind, model string) Handle {
	if name, ok := r.models[model]; ok {
		return Handle{Backend: r.backends[name], Model: model}
	}
	return Handle{Backend: r.backends[r.fallback], Model: model}
}

// BackendByName returns a registered backend, used by the sweep to rebuild a
// handle from the provider name persisted on the job.
func (r *Registry) BackendByName(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// DefaultModelTable is the production model routing. Model names are exact
// keys; no substring matching.
func DefaultModelTable() map[string]string {
	return map[string]string{
		"kie-x":      "kie",
		"kie-x-pro":  "kie",
		"kling-x":    "kling",
		"kling-x-hd": "kling",
		"pixa-one":   "pixa",
	}
}
