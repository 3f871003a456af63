package ledger

import (
	"context"
	"errors"

	"studio/internal/domain"
	"studio/internal/infra"
)

// Service wraps the ledger repository with the platform's debit discipline:
// pool selection per media kind and the legacy aggregate-balance fallback for
// accounts that predate per-product pools.
type Service struct {
	repo   domain.LedgerRepository
	logger infra.Logger
}

// NewService constructs a ledger service.
func NewService(repo domain.LedgerRepository, logger infra.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Debit atomically removes amount from the pool for the media kind, falling
// back to the legacy balance when the primary pool can not cover it. The pool
// actually debited is returned so the refund lands in the same place.
func (s *Service) Debit(ctx context.Context, userID string, kind domain.MediaKind, amount int) (domain.CreditPool, error) {
	pool, err := domain.PoolForMediaKind(kind)
	if err != nil {
		return "", err
	}
	if err := s.repo.Debit(ctx, userID, pool, amount); err == nil {
		return pool, nil
	} else if !errors.Is(err, domain.ErrInsufficientFunds) {
		return "", err
	}
	if err := s.repo.Debit(ctx, userID, domain.PoolLegacy, amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return "", domain.ErrInsufficientFunds
		}
		return "", err
	}
	s.logger.Debug().Str("user_id", userID).Int("amount", amount).Msg("ledger: debited legacy balance")
	return domain.PoolLegacy, nil
}

// Refund returns amount to the named pool. It never fails for balance
// reasons; repository errors are surfaced so callers can retry.
func (s *Service) Refund(ctx context.Context, userID string, pool domain.CreditPool, amount int) error {
	if amount <= 0 {
		return nil
	}
	if err := s.repo.Refund(ctx, userID, pool, amount); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", userID).Str("pool", string(pool)).Int("amount", amount).Msg("ledger: refunded")
	return nil
}

// Balances returns the user's pool snapshot.
func (s *Service) Balances(ctx context.Context, userID string) (domain.Balances, error) {
	return s.repo.Balances(ctx, userID)
}

// CanCover reports whether the combined primary-plus-legacy balance could
// cover amount. Advisory only; the atomic debit is the enforcement.
func (s *Service) CanCover(ctx context.Context, userID string, kind domain.MediaKind, amount int) (bool, error) {
	pool, err := domain.PoolForMediaKind(kind)
	if err != nil {
		return false, err
	}
	balances, err := s.repo.Balances(ctx, userID)
	if err != nil {
		return false, err
	}
	return balances[pool]+balances[domain.PoolLegacy] >= amount, nil
}
