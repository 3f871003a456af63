// Package httpapi assembles the chi router for the public API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"studio/internal/http/handlers"
	"studio/internal/middleware"
)

// RouterConfig carries the cross-cutting knobs the router needs.
type RouterConfig struct {
	JWTSecret        string
	AllowedOrigins   []string
	DefaultLocale    string
	SupportedLocales []string
	RateLimitPerMin  int
	CountryLookup    middleware.CountryLookup
	Logger           zerolog.Logger
}

func NewRouter(app *handlers.App, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(cfg.Logger),
		middleware.CORS(cfg.AllowedOrigins),
		middleware.I18N(cfg.DefaultLocale, cfg.SupportedLocales, cfg.CountryLookup),
	)
	if cfg.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.CreateJob)
			r.Get("/{job_id}", app.JobStatus)
			r.Delete("/{job_id}", app.CancelJob)
		})
		r.Get("/v1/credits", app.GetCredits)
		r.Route("/v1/assets", func(r chi.Router) {
			r.Get("/", app.ListAssets)
			r.Get("/{id}/download", app.DownloadAsset)
		})
	})

	return r
}
