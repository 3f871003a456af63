package providers

import (
	"studio/internal/infra"
)

// FromConfig builds the production registry: every configured backend plus
// the flat-rate pixa service as the fallback for unrecognized models.
func FromConfig(cfg *infra.Config, logger *infra.Logger) (*Registry, error) {
	backends := []Backend{
		NewKie(KieOptions{APIKey: cfg.KieAPIKey, BaseURL: cfg.KieBaseURL, Logger: logger}),
		NewKling(KlingOptions{APIKey: cfg.KlingAPIKey, BaseURL: cfg.KlingBaseURL, Logger: logger}),
		NewPixa(PixaOptions{APIKey: cfg.PixaAPIKey, BaseURL: cfg.PixaBaseURL, Logger: logger}),
	}
	return NewRegistry(backends, DefaultModelTable(), "pixa")
}
