package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studio/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, user_id, media_kind, status, progress, provider, model, external_id, status_url,
cost_debited, debit_pool, params_json, result_urls, error_message, ephemeral, submitted_at, created_at, updated_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO generation_jobs (id, user_id, media_kind, status, progress, provider, model, external_id, status_url, cost_debited, debit_pool, params_json, result_urls, error_message, ephemeral, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.MediaKind,
		job.Status,
		job.Progress,
		job.Provider,
		job.Model,
		job.ExternalID,
		job.StatusURL,
		job.CostDebited,
		job.DebitPool,
		nullableBytes(job.ParamsJSON),
		job.ResultURLs,
		job.Error,
		job.Ephemeral,
		job.SubmittedAt,
	)
	return err
}

// Transition writes the mutable job fields only while the row is still in
// the expected status. The conditional WHERE is the sole way a job changes
// state after insert: it keeps sweep finalization idempotent when a poll
// races a timeout, and it keeps a cancel from being overwritten by an
// in-flight submission. cost_debited and debit_pool are written at insert
// and never updated.
func (r *JobRepositoryPG) Transition(ctx context.Context, job *domain.Job, from domain.JobStatus) (bool, error) {
	query := `
UPDATE generation_jobs
SET status = $2,
    progress = $3,
    provider = $4,
    external_id = $5,
    status_url = $6,
    result_urls = $7,
    error_message = $8,
    submitted_at = $9,
    updated_at = NOW()
WHERE id = $1 AND status = $10;
`
	tag, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.Progress,
		job.Provider,
		job.ExternalID,
		job.StatusURL,
		job.ResultURLs,
		job.Error,
		job.SubmittedAt,
		from,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListProcessing returns jobs currently in PROCESSING, oldest first, for the
// polling sweep.
func (r *JobRepositoryPG) ListProcessing(ctx context.Context, limit int) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE status = $1
ORDER BY created_at ASC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, domain.JobStatusProcessing, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Delete removes a job record. Only the ephemeral-job finalization path uses
// this.
func (r *JobRepositoryPG) Delete(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM generation_jobs WHERE id = $1;`, jobID)
	return err
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.MediaKind,
		&job.Status,
		&job.Progress,
		&job.Provider,
		&job.Model,
		&job.ExternalID,
		&job.StatusURL,
		&job.CostDebited,
		&job.DebitPool,
		&job.ParamsJSON,
		&job.ResultURLs,
		&job.Error,
		&job.Ephemeral,
		&job.SubmittedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
