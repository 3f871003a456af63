package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"studio/internal/domain"
	"studio/internal/domain/jsoncfg"
	"studio/internal/providers"
)

// SweepConfig tunes the polling loop.
type SweepConfig struct {
	Interval           time.Duration
	BatchSize          int
	MaxConcurrentPolls int
}

// Sweeper periodically polls every PROCESSING job and applies the terminal
// transition exactly once. All state changes go through the conditional
// Transition so concurrent sweeps (or a sweep racing a restart) can never
// double-refund or double-promote.
type Sweeper struct {
	svc *Service
	cfg SweepConfig
}

// NewSweeper wires the sweep on top of an orchestrator Service.
func NewSweeper(svc *Service, cfg SweepConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxConcurrentPolls <= 0 {
		cfg.MaxConcurrentPolls = 8
	}
	return &Sweeper{svc: svc, cfg: cfg}
}

// Run blocks until the context is cancelled, sweeping at the configured
// interval.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sw.SweepOnce(ctx); err != nil {
				sw.svc.logger.Error().Err(err).Msg("sweep: pass failed")
			}
		}
	}
}

// SweepOnce polls one batch of PROCESSING jobs with bounded concurrency.
func (sw *Sweeper) SweepOnce(ctx context.Context) error {
	jobs, err := sw.svc.jobs.ListProcessing(ctx, sw.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list processing jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(sw.cfg.MaxConcurrentPolls))
	g, gctx := errgroup.WithContext(ctx)
	for i := range jobs {
		job := jobs[i]
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			sw.pollJob(gctx, &job)
			return nil
		})
	}
	return g.Wait()
}

// pollJob advances a single PROCESSING job. Poll errors are transient and
// leave the job untouched; only a provider-reported terminal phase or the
// deadline ceiling moves it out of PROCESSING.
func (sw *Sweeper) pollJob(ctx context.Context, job *domain.Job) {
	if sw.svc.now().After(job.ProcessingDeadline()) {
		sw.failJob(ctx, job, domain.ErrTimeout.Error())
		return
	}
	if job.ExternalID == "" {
		// The provider accepted the submission without returning a task id.
		// Nothing to poll; the deadline above will eventually reclaim it.
		return
	}
	backend, ok := sw.svc.registry.BackendByName(job.Provider)
	if !ok {
		sw.svc.logger.Error().Str("job_id", job.ID).Str("provider", job.Provider).Msg("sweep: unknown provider on processing job")
		return
	}

	result, err := backend.Poll(ctx, providers.Submission{ExternalID: job.ExternalID, StatusURL: job.StatusURL})
	if err != nil {
		sw.svc.logger.Warn().Err(err).Str("job_id", job.ID).Str("provider", job.Provider).Msg("sweep: poll failed, retrying next pass")
		return
	}

	switch result.Phase {
	case providers.PhaseDone:
		sw.finalizeJob(ctx, job, result)
	case providers.PhaseFailed:
		msg := result.ErrorMessage
		if msg == "" {
			msg = "generation failed"
		}
		sw.failJob(ctx, job, msg)
	default:
		sw.advanceProgress(ctx, job, result.ProgressHint)
	}
}

// finalizeJob mirrors provider outputs into local storage and transitions
// the job to READY. A failed mirror keeps the provider URL so the result is
// never lost over a storage hiccup.
func (sw *Sweeper) finalizeJob(ctx context.Context, job *domain.Job, result providers.PollResult) {
	urls := make([]string, 0, len(result.ResultURLs))
	keys := make([]string, 0, len(result.ResultURLs))
	for i, src := range result.ResultURLs {
		key := resultKey(job, i)
		if sw.svc.store == nil {
			urls = append(urls, src)
			keys = append(keys, "")
			continue
		}
		stored, err := sw.svc.store.Mirror(ctx, src, key)
		if err != nil {
			sw.svc.logger.Warn().Err(err).Str("job_id", job.ID).Str("url", src).Msg("sweep: mirror failed, keeping provider url")
			urls = append(urls, src)
			keys = append(keys, "")
			continue
		}
		urls = append(urls, sw.svc.store.PublicURL(stored))
		keys = append(keys, stored)
	}

	ready := *job
	ready.Status = domain.JobStatusReady
	ready.Progress = 100
	ready.ResultURLs = urls
	ready.Error = ""
	won, err := sw.svc.jobs.Transition(ctx, &ready, domain.JobStatusProcessing)
	if err != nil {
		sw.svc.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweep: ready transition failed")
		return
	}
	if !won {
		return
	}

	sw.promoteAssets(ctx, &ready, keys, urls)
	sw.svc.recordEvent(ctx, &ready, "job_completed", true)
	if ready.Ephemeral {
		// Utility jobs leave no job record behind; their output lives on as
		// a promoted asset only.
		if err := sw.svc.jobs.Delete(ctx, ready.ID); err != nil {
			sw.svc.logger.Warn().Err(err).Str("job_id", ready.ID).Msg("sweep: ephemeral job cleanup failed")
		}
	}
	sw.svc.logger.Info().Str("job_id", ready.ID).Str("provider", ready.Provider).Int("results", len(urls)).Msg("sweep: job ready")
}

func (sw *Sweeper) promoteAssets(ctx context.Context, job *domain.Job, keys, urls []string) {
	if sw.svc.assets == nil {
		return
	}
	origin := domain.AssetOriginGenerated
	if job.Ephemeral {
		origin = domain.AssetOriginPromoted
	}
	var params jsoncfg.JobParams
	_ = json.Unmarshal(job.ParamsJSON, &params)
	width, height := params.TargetDimensions()
	for i := range urls {
		asset := &domain.Asset{
			ID:         uuid.NewString(),
			UserID:     job.UserID,
			JobID:      job.ID,
			Origin:     origin,
			StorageKey: keys[i],
			SourceURL:  urls[i],
			Format:     formatFor(job.MediaKind),
			Width:      width,
			Height:     height,
		}
		if err := sw.svc.assets.Create(ctx, asset); err != nil {
			sw.svc.logger.Warn().Err(err).Str("job_id", job.ID).Msg("sweep: asset record not created")
		}
	}
}

// failJob transitions PROCESSING -> FAILED and refunds the captured debit.
// The Transition guard makes the refund fire at most once.
func (sw *Sweeper) failJob(ctx context.Context, job *domain.Job, reason string) {
	failed := *job
	failed.Status = domain.JobStatusFailed
	failed.Error = reason
	failed.Progress = 0
	won, err := sw.svc.jobs.Transition(ctx, &failed, domain.JobStatusProcessing)
	if err != nil {
		sw.svc.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweep: failed transition failed")
		return
	}
	if !won {
		return
	}
	sw.svc.refund(ctx, &failed)
	sw.svc.recordEvent(ctx, &failed, "job_failed", false)
	sw.svc.logger.Info().Str("job_id", job.ID).Str("reason", reason).Msg("sweep: job failed")
}

// advanceProgress persists a monotonic, sub-100 progress value, writing only
// on change to keep the sweep cheap.
func (sw *Sweeper) advanceProgress(ctx context.Context, job *domain.Job, hint int) {
	const ceiling = 95
	next := hint
	if next > ceiling {
		next = ceiling
	}
	if next <= job.Progress {
		return
	}
	updated := *job
	updated.Progress = next
	if _, err := sw.svc.jobs.Transition(ctx, &updated, domain.JobStatusProcessing); err != nil {
		sw.svc.logger.Warn().Err(err).Str("job_id", job.ID).Msg("sweep: progress update failed")
	}
}

func resultKey(job *domain.Job, index int) string {
	return path.Join("generated", strings.ToLower(string(job.MediaKind)), job.ID, fmt.Sprintf("result-%02d%s", index, extFor(job.MediaKind)))
}

func extFor(kind domain.MediaKind) string {
	if kind == domain.MediaKindVideo {
		return ".mp4"
	}
	return ".png"
}

func formatFor(kind domain.MediaKind) string {
	if kind == domain.MediaKindVideo {
		return "video/mp4"
	}
	return "image/png"
}
