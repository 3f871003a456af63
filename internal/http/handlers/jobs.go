package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/domain/jsoncfg"
	"studio/internal/middleware"
)

type createJobRequest struct {
	MediaKind string            `json:"media_kind"`
	Params    jsoncfg.JobParams `json:"params"`
}

type jobResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type jobStatusResponse struct {
	JobID      string   `json:"job_id"`
	Status     string   `json:"status"`
	Progress   int      `json:"progress"`
	PhaseLabel string   `json:"phase_label"`
	ResultURLs []string `json:"result_urls,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	kind := domain.MediaKind(strings.ToUpper(strings.TrimSpace(req.MediaKind)))
	if !domain.KnownMediaKind(kind) {
		a.error(w, http.StatusBadRequest, "bad_request", "media_kind must be IMAGE, VIDEO or CAROUSEL")
		return
	}
	if req.Params.Locale == "" {
		req.Params.Locale = middleware.LocaleFromContext(r.Context())
	}

	job, err := a.Jobs.SubmitJob(r.Context(), userID, kind, req.Params)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientFunds):
			a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this generation")
		case errors.Is(err, domain.ErrInvalidParams):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, domain.ErrUnknownPool):
			a.error(w, http.StatusBadRequest, "bad_request", "unsupported media kind")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to submit job")
		}
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: job.ID, Status: string(job.Status), Progress: job.Progress})
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Jobs.GetJob(r.Context(), jobID)
	if err != nil || job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	view, err := a.Jobs.JobStatus(r.Context(), jobID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job status")
		return
	}
	a.json(w, http.StatusOK, jobStatusResponse{
		JobID:      view.ID,
		Status:     string(view.Status),
		Progress:   view.Progress,
		PhaseLabel: view.PhaseLabel,
		ResultURLs: view.ResultURLs,
		Error:      view.Error,
	})
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Jobs.GetJob(r.Context(), jobID)
	if err != nil || job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err := a.Jobs.CancelJob(r.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			a.error(w, http.StatusConflict, "invalid_state", "only queued jobs can be cancelled")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(domain.JobStatusCancelled)})
}
