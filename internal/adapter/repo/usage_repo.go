package repo

import (
	"context"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// UsageRepositorySQL records usage events through the marker-tagged inline
// SQL runner.
type UsageRepositorySQL struct {
	sql infra.SQLExecutor
}

// NewUsageRepository creates a usage event recorder.
func NewUsageRepository(sql infra.SQLExecutor) *UsageRepositorySQL {
	return &UsageRepositorySQL{sql: sql}
}

// RecordJobEvent appends one usage event row for a job lifecycle transition.
func (r *UsageRepositorySQL) RecordJobEvent(ctx context.Context, userID, jobID, eventType string, success bool, properties []byte) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertUsageEvent, userID, jobID, eventType, success, nullableBytes(properties))
	return err
}

var _ domain.UsageRepository = (*UsageRepositorySQL)(nil)
