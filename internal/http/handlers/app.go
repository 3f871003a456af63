// Package handlers implements the HTTP API surface.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"studio/internal/domain"
	"studio/internal/domain/jsoncfg"
	"studio/internal/infra"
	"studio/internal/middleware"
	"studio/internal/orchestrator"
	"studio/internal/storage"
)

// JobService is the orchestrator surface the API needs.
type JobService interface {
	SubmitJob(ctx context.Context, userID string, kind domain.MediaKind, params jsoncfg.JobParams) (*domain.Job, error)
	CancelJob(ctx context.Context, jobID string) error
	JobStatus(ctx context.Context, jobID string) (*orchestrator.JobStatusView, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// CreditService exposes read access to credit balances.
type CreditService interface {
	Balances(ctx context.Context, userID string) (domain.Balances, error)
}

type App struct {
	Jobs    JobService
	Credits CreditService
	Assets  domain.AssetRepository
	Store   storage.Store
	Logger  infra.Logger
}

func NewApp(jobs JobService, credits CreditService, assets domain.AssetRepository, store storage.Store, logger infra.Logger) *App {
	return &App{Jobs: jobs, Credits: credits, Assets: assets, Store: store, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
