package domain

import "context"

// JobRepository defines persistence for generation jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// Transition updates the job only while it is still in the expected
	// status, reporting whether the transition won. It is the only way a job
	// changes state after insert: it guards the sweep against
	// double-finalizing and a racing cancel against being overwritten.
	Transition(ctx context.Context, job *Job, from JobStatus) (bool, error)
	ListProcessing(ctx context.Context, limit int) ([]Job, error)
	Delete(ctx context.Context, jobID string) error
}

// LedgerRepository performs atomic credit mutations. Debit and Refund are
// relative increments applied at the storage layer, never read-modify-write.
type LedgerRepository interface {
	// Debit decrements the pool by amount, failing with ErrInsufficientFunds
	// when the balance can not cover it.
	Debit(ctx context.Context, userID string, pool CreditPool, amount int) error
	Refund(ctx context.Context, userID string, pool CreditPool, amount int) error
	Balances(ctx context.Context, userID string) (Balances, error)
	Grant(ctx context.Context, userID string, pool CreditPool, amount int) error
}

// AssetRepository handles persistence for generated assets.
type AssetRepository interface {
	Create(ctx context.Context, asset *Asset) error
	GetByID(ctx context.Context, assetID string) (*Asset, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Asset, error)
	ListByJobID(ctx context.Context, jobID string) ([]Asset, error)
}

// UserRepository defines access methods for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

// UsageRepository records per-job billing and lifecycle events.
type UsageRepository interface {
	RecordJobEvent(ctx context.Context, userID, jobID, eventType string, success bool, properties []byte) error
}
