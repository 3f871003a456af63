// Package orchestrator drives generation jobs from submission through
// polling to their terminal state. It owns the debit-before-submit ordering,
// the refund discipline on every failure path, and the job-level timeout
// backstop.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"studio/internal/domain"
	"studio/internal/domain/jsoncfg"
	"studio/internal/infra"
	"studio/internal/ledger"
	"studio/internal/progress"
	"studio/internal/providers"
	"studio/internal/storage"
)

// Fitter is the compositor contract the orchestrator depends on.
type Fitter interface {
	Fit(ctx context.Context, src []byte, targetW, targetH int) ([]byte, error)
}

// Options groups Service dependencies.
type Options struct {
	Jobs     domain.JobRepository
	Assets   domain.AssetRepository
	Usage    domain.UsageRepository
	Ledger   *ledger.Service
	Registry *providers.Registry
	Fitter   Fitter
	Store    storage.Store
	Logger   infra.Logger
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Service is the job orchestrator.
type Service struct {
	jobs     domain.JobRepository
	assets   domain.AssetRepository
	usage    domain.UsageRepository
	ledger   *ledger.Service
	registry *providers.Registry
	fitter   Fitter
	store    storage.Store
	logger   infra.Logger
	now      func() time.Time
}

// NewService constructs the orchestrator.
func NewService(opts Options) (*Service, error) {
	if opts.Jobs == nil || opts.Ledger == nil || opts.Registry == nil {
		return nil, errors.New("orchestrator: jobs, ledger and registry are required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		jobs:     opts.Jobs,
		assets:   opts.Assets,
		usage:    opts.Usage,
		ledger:   opts.Ledger,
		registry: opts.Registry,
		fitter:   opts.Fitter,
		store:    opts.Store,
		logger:   opts.Logger,
		now:      now,
	}, nil
}

// SubmitJob runs the submission path: advisory funds check, atomic debit,
// job creation, reference compositing, provider submission. Debit happens
// before the external call so no submitted job is ever unbilled, and the
// captured amount is written once at insert so every later reader of the row
// sees it. After insert the job only ever leaves NEW through a conditional
// Transition; the actor whose transition wins owns the refund decision, so a
// concurrent cancel can never be overwritten or refunded twice.
func (s *Service) SubmitJob(ctx context.Context, userID string, kind domain.MediaKind, params jsoncfg.JobParams) (*domain.Job, error) {
	params.Normalize(kind == domain.MediaKindVideo, params.Locale)
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParams, err)
	}
	if kind == domain.MediaKindCarousel && params.SlideCount == 0 {
		params.SlideCount = jsoncfg.CarouselSlideCount
	}

	handle := s.registry.Resolve(kind, params.Model)
	cost := ledger.Cost(kind, params.DurationSeconds, params.Model)

	// Advisory pre-check: reject clearly unfunded requests before anything
	// is persisted. The atomic debit below is the real enforcement.
	covered, err := s.ledger.CanCover(ctx, userID, kind, cost)
	if err != nil {
		return nil, err
	}
	if !covered {
		return nil, domain.ErrInsufficientFunds
	}

	pool, err := s.ledger.Debit(ctx, userID, kind, cost)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			// Lost the race against a concurrent debit after the advisory
			// check passed. No money moved, no record created.
			return nil, domain.ErrInsufficientFunds
		}
		return nil, err
	}

	// The exact debited amount and pool go in at insert and are immutable
	// afterwards; refunds only ever replay these fields, never a
	// recomputation, and a concurrent cancel always reads them accurately.
	job := &domain.Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		MediaKind:   kind,
		Status:      domain.JobStatusNew,
		ParamsJSON:  jsoncfg.MustMarshal(params),
		Model:       params.Model,
		Ephemeral:   params.Ephemeral,
		CostDebited: cost,
		DebitPool:   pool,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.refund(ctx, job)
		return nil, fmt.Errorf("create job: %w", err)
	}

	referenceURL, referenceData := s.prepareReference(ctx, job, params)

	width, height := params.TargetDimensions()
	submission, err := handle.Backend.Submit(ctx, providers.Request{
		JobID:           job.ID,
		MediaKind:       kind,
		Model:           handle.Model,
		Prompt:          params.Prompt,
		NegativePrompt:  params.NegativePrompt,
		AspectRatio:     params.AspectRatio,
		Width:           width,
		Height:          height,
		DurationSeconds: params.DurationSeconds,
		SlideCount:      params.SlideCount,
		Locale:          params.Locale,
		WatermarkText:   params.Watermark.Text,
		ReferenceURL:    referenceURL,
		ReferenceData:   referenceData,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("provider", handle.Backend.Name()).Msg("orchestrator: provider submission failed")
		s.abortSubmission(ctx, job, "provider submission failed")
		return job, nil
	}

	submittedAt := s.now()
	processing := *job
	processing.Provider = handle.Backend.Name()
	processing.ExternalID = submission.ExternalID
	processing.StatusURL = submission.StatusURL
	processing.Status = domain.JobStatusProcessing
	processing.Progress = 5
	processing.SubmittedAt = &submittedAt
	won, err := s.jobs.Transition(ctx, &processing, domain.JobStatusNew)
	if err != nil {
		// The provider has the job but the row is still NEW with its debit
		// captured; cancelling it refunds. Surface the error so the caller
		// can retry or cancel.
		return nil, fmt.Errorf("persist submission: %w", err)
	}
	if !won {
		// Cancelled while the provider call was in flight. The cancel path
		// already refunded the captured debit; the provider-side job is
		// orphaned and runs to completion unobserved.
		job.Status = domain.JobStatusCancelled
		job.Progress = 0
		s.logger.Info().Str("job_id", job.ID).Str("provider", handle.Backend.Name()).Str("external_id", submission.ExternalID).Msg("orchestrator: job cancelled during submission, discarding provider handle")
		return job, nil
	}
	*job = processing
	s.recordEvent(ctx, job, "job_submitted", true)
	s.logger.Info().Str("job_id", job.ID).Str("provider", job.Provider).Str("external_id", job.ExternalID).Int("cost", cost).Msg("orchestrator: job submitted")
	return job, nil
}

// abortSubmission fails a still-NEW job after its debit was captured. The
// conditional transition keeps the refund exactly-once: if a concurrent
// cancel already moved the job out of NEW, the cancel refunded and there is
// nothing left to do here.
func (s *Service) abortSubmission(ctx context.Context, job *domain.Job, reason string) {
	failed := *job
	failed.Status = domain.JobStatusFailed
	failed.Error = reason
	failed.Progress = 0
	won, err := s.jobs.Transition(ctx, &failed, domain.JobStatusNew)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: failed to persist submission failure")
		return
	}
	if !won {
		job.Status = domain.JobStatusCancelled
		job.Progress = 0
		return
	}
	*job = failed
	s.refund(ctx, job)
	s.recordEvent(ctx, job, "job_failed", false)
}

// prepareReference fits a supplied reference image to the target aspect
// ratio. Failures here never block submission; the original URL is used
// as-is.
func (s *Service) prepareReference(ctx context.Context, job *domain.Job, params jsoncfg.JobParams) (string, []byte) {
	if params.ReferenceURL == "" {
		return "", nil
	}
	if s.fitter == nil || s.store == nil {
		return params.ReferenceURL, nil
	}
	key, err := s.store.Mirror(ctx, params.ReferenceURL, "tmp/refs/"+job.ID+"/source")
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: reference fetch failed, passing original url")
		return params.ReferenceURL, nil
	}
	data, err := s.store.Read(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: reference read failed, passing original url")
		return params.ReferenceURL, nil
	}
	width, height := params.TargetDimensions()
	fitted, err := s.fitter.Fit(ctx, data, width, height)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: reference compositing failed, passing original url")
		return params.ReferenceURL, nil
	}
	fittedKey, err := s.store.Write(ctx, "jobs/"+job.ID+"/reference.png", fitted)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: reference upload failed, passing original url")
		return params.ReferenceURL, nil
	}
	return s.store.PublicURL(fittedKey), fitted
}

// CancelJob aborts a job that has not been submitted yet. NEW is the only
// cancellable state, and every NEW row carries its debit from insert, so the
// captured amount is returned here. The conditional transition is what makes
// this safe against an in-flight submission: whichever side wins the
// transition out of NEW settles the debit, the loser stands down.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusNew {
		return domain.ErrInvalidState
	}
	cancelled := *job
	cancelled.Status = domain.JobStatusCancelled
	cancelled.Progress = 0
	won, err := s.jobs.Transition(ctx, &cancelled, domain.JobStatusNew)
	if err != nil {
		return err
	}
	if !won {
		return domain.ErrInvalidState
	}
	if job.CostDebited > 0 {
		s.refund(ctx, job)
	}
	s.recordEvent(ctx, job, "job_cancelled", true)
	return nil
}

// JobStatusView is the read model returned to the API layer.
type JobStatusView struct {
	ID         string
	Status     domain.JobStatus
	Progress   int
	PhaseLabel string
	ResultURLs []string
	Error      string
}

// JobStatus projects a job into its user-facing status. PROCESSING jobs get
// the display-only progress estimate; terminal jobs report their persisted
// state.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*JobStatusView, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := &JobStatusView{
		ID:         job.ID,
		Status:     job.Status,
		Progress:   job.Progress,
		ResultURLs: job.ResultURLs,
		Error:      job.Error,
	}
	switch job.Status {
	case domain.JobStatusProcessing:
		started := job.CreatedAt
		if job.SubmittedAt != nil {
			started = *job.SubmittedAt
		}
		view.Progress, view.PhaseLabel = progress.Project(started, s.now(), job.Progress, job.MediaKind)
	case domain.JobStatusReady:
		view.Progress = 100
		view.PhaseLabel = "Complete"
	case domain.JobStatusFailed:
		view.PhaseLabel = "Failed"
	case domain.JobStatusCancelled:
		view.PhaseLabel = "Cancelled"
	default:
		view.PhaseLabel = "Queued"
	}
	return view, nil
}

// GetJob returns the raw job record.
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// refund replays the captured debit. The amount is never recomputed.
func (s *Service) refund(ctx context.Context, job *domain.Job) {
	if job.CostDebited <= 0 {
		return
	}
	if err := s.ledger.Refund(ctx, job.UserID, job.DebitPool, job.CostDebited); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("pool", string(job.DebitPool)).Int("amount", job.CostDebited).Msg("orchestrator: refund failed, needs reconciliation")
	}
}

func (s *Service) recordEvent(ctx context.Context, job *domain.Job, eventType string, success bool) {
	if s.usage == nil {
		return
	}
	payload, err := json.Marshal(jsoncfg.UsageEventPayload{
		EventType: eventType,
		Provider:  job.Provider,
		Success:   success,
		Credits:   job.CostDebited,
	})
	if err != nil {
		return
	}
	if err := s.usage.RecordJobEvent(ctx, job.UserID, job.ID, eventType, success, payload); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: usage event not recorded")
	}
}
