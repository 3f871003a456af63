package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/domain/jsoncfg"
	"studio/internal/middleware"
	"studio/internal/orchestrator"
)

type stubJobService struct {
	submitJob *domain.Job
	submitErr error
	cancelErr error
	job       *domain.Job
	view      *orchestrator.JobStatusView
}

func (s *stubJobService) SubmitJob(_ context.Context, _ string, _ domain.MediaKind, _ jsoncfg.JobParams) (*domain.Job, error) {
	return s.submitJob, s.submitErr
}

func (s *stubJobService) CancelJob(_ context.Context, _ string) error { return s.cancelErr }

func (s *stubJobService) JobStatus(_ context.Context, _ string) (*orchestrator.JobStatusView, error) {
	return s.view, nil
}

func (s *stubJobService) GetJob(_ context.Context, _ string) (*domain.Job, error) {
	if s.job == nil {
		return nil, domain.ErrNotFound
	}
	return s.job, nil
}

type stubCredits struct {
	balances domain.Balances
}

func (s *stubCredits) Balances(_ context.Context, _ string) (domain.Balances, error) {
	return s.balances, nil
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(middleware.ContextWithUserID(req.Context(), "user-1"))
}

func newTestApp(jobs JobService, credits CreditService) *App {
	return NewApp(jobs, credits, nil, nil, zerolog.Nop())
}

func TestCreateJobAccepted(t *testing.T) {
	app := newTestApp(&stubJobService{
		submitJob: &domain.Job{ID: "job-1", Status: domain.JobStatusProcessing, Progress: 5},
	}, nil)

	rec := httptest.NewRecorder()
	app.CreateJob(rec, authedRequest(http.MethodPost, "/v1/jobs", `{"media_kind":"image","params":{"prompt":"sunset"}}`))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body.String())
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID != "job-1" || resp.Status != "PROCESSING" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCreateJobRejectsUnknownMediaKind(t *testing.T) {
	app := newTestApp(&stubJobService{}, nil)

	rec := httptest.NewRecorder()
	app.CreateJob(rec, authedRequest(http.MethodPost, "/v1/jobs", `{"media_kind":"hologram","params":{"prompt":"x"}}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateJobInsufficientCredits(t *testing.T) {
	app := newTestApp(&stubJobService{submitErr: domain.ErrInsufficientFunds}, nil)

	rec := httptest.NewRecorder()
	app.CreateJob(rec, authedRequest(http.MethodPost, "/v1/jobs", `{"media_kind":"video","params":{"prompt":"surf"}}`))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
}

func TestCreateJobRequiresAuth(t *testing.T) {
	app := newTestApp(&stubJobService{}, nil)

	rec := httptest.NewRecorder()
	app.CreateJob(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{}`)))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestJobStatusHidesOtherUsersJobs(t *testing.T) {
	app := newTestApp(&stubJobService{
		job: &domain.Job{ID: "job-9", UserID: "someone-else", Status: domain.JobStatusReady},
	}, nil)

	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/v1/jobs/job-9", "")
	req = withURLParam(req, "job_id", "job-9")
	app.JobStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestJobStatusReturnsProjection(t *testing.T) {
	app := newTestApp(&stubJobService{
		job: &domain.Job{ID: "job-2", UserID: "user-1", Status: domain.JobStatusProcessing},
		view: &orchestrator.JobStatusView{
			ID: "job-2", Status: domain.JobStatusProcessing, Progress: 42, PhaseLabel: "Generating",
		},
	}, nil)

	rec := httptest.NewRecorder()
	req := withURLParam(authedRequest(http.MethodGet, "/v1/jobs/job-2", ""), "job_id", "job-2")
	app.JobStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var resp jobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Progress != 42 || resp.PhaseLabel != "Generating" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCancelJobConflictWhenProcessing(t *testing.T) {
	app := newTestApp(&stubJobService{
		job:       &domain.Job{ID: "job-3", UserID: "user-1", Status: domain.JobStatusProcessing},
		cancelErr: domain.ErrInvalidState,
	}, nil)

	rec := httptest.NewRecorder()
	req := withURLParam(authedRequest(http.MethodDelete, "/v1/jobs/job-3", ""), "job_id", "job-3")
	app.CancelJob(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestGetCredits(t *testing.T) {
	app := newTestApp(nil, &stubCredits{balances: domain.Balances{
		domain.PoolImage:  7,
		domain.PoolVideo:  30,
		domain.PoolLegacy: 2,
	}})

	rec := httptest.NewRecorder()
	app.GetCredits(rec, authedRequest(http.MethodGet, "/v1/credits", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp creditsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Image != 7 || resp.Video != 30 || resp.Legacy != 2 {
		t.Fatalf("resp = %+v", resp)
	}
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
