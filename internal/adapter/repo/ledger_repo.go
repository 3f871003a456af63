package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studio/internal/domain"
)

// LedgerRepositoryPG implements domain.LedgerRepository. Every mutation is a
// single relative UPDATE executed by the database; balances are never read,
// modified and written back in application code.
type LedgerRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new ledger repository backed by PostgreSQL.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{pool: pool}
}

// poolColumn maps a credit pool to its column. The switch is exhaustive over
// domain.CreditPool; a pool outside the enum is an error, never a new key.
func poolColumn(pool domain.CreditPool) (string, error) {
	switch pool {
	case domain.PoolImage:
		return "image_credits", nil
	case domain.PoolVideo:
		return "video_credits", nil
	case domain.PoolLegacy:
		return "legacy_credits", nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownPool, pool)
	}
}

// Debit atomically decrements the pool, rejecting the mutation when the
// balance can not cover the amount. Zero rows affected means either the
// account row is missing or the conditional decrement lost; both surface as
// ErrInsufficientFunds.
func (r *LedgerRepositoryPG) Debit(ctx context.Context, userID string, pool domain.CreditPool, amount int) error {
	if amount < 0 {
		return fmt.Errorf("ledger: debit amount must be non-negative, got %d", amount)
	}
	column, err := poolColumn(pool)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE credit_accounts
SET %[1]s = %[1]s - $2, updated_at = NOW()
WHERE user_id = $1 AND %[1]s >= $2;
`, column)
	tag, err := r.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

// Refund atomically increments the pool. It never fails for balance reasons.
func (r *LedgerRepositoryPG) Refund(ctx context.Context, userID string, pool domain.CreditPool, amount int) error {
	return r.increment(ctx, userID, pool, amount, "refund")
}

// Grant adds credit to a pool, used by the admin CLI and purchase flows.
func (r *LedgerRepositoryPG) Grant(ctx context.Context, userID string, pool domain.CreditPool, amount int) error {
	return r.increment(ctx, userID, pool, amount, "grant")
}

func (r *LedgerRepositoryPG) increment(ctx context.Context, userID string, pool domain.CreditPool, amount int, op string) error {
	if amount < 0 {
		return fmt.Errorf("ledger: %s amount must be non-negative, got %d", op, amount)
	}
	column, err := poolColumn(pool)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO credit_accounts (user_id, %[1]s)
VALUES ($1, $2)
ON CONFLICT (user_id)
DO UPDATE SET %[1]s = credit_accounts.%[1]s + $2, updated_at = NOW();
`, column)
	_, err = r.pool.Exec(ctx, query, userID, amount)
	return err
}

// Balances returns a snapshot of every pool for the user. A missing account
// row reads as zero everywhere.
func (r *LedgerRepositoryPG) Balances(ctx context.Context, userID string) (domain.Balances, error) {
	query := `
SELECT image_credits, video_credits, legacy_credits
FROM credit_accounts
WHERE user_id = $1;
`
	balances := domain.Balances{
		domain.PoolImage:  0,
		domain.PoolVideo:  0,
		domain.PoolLegacy: 0,
	}
	row := r.pool.QueryRow(ctx, query, userID)
	var image, video, legacy int
	if err := row.Scan(&image, &video, &legacy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return balances, nil
		}
		return nil, err
	}
	balances[domain.PoolImage] = image
	balances[domain.PoolVideo] = video
	balances[domain.PoolLegacy] = legacy
	return balances, nil
}

var _ domain.LedgerRepository = (*LedgerRepositoryPG)(nil)
