package credit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// service implements the Service interface
type service struct {
	repo      Repository
	opTimeout time.Duration
}

// NewService creates a new credit service. opTimeout is the hard
// wall-clock limit on the billable operation inside ChargeAndRun.
func NewService(repo Repository, opTimeout time.Duration) Service {
	if opTimeout <= 0 {
		opTimeout = 120 * time.Second
	}
	return &service{
		repo:      repo,
		opTimeout: opTimeout,
	}
}

// ChargeAndRun is the debit-before-work flow: debit cost, run op under
// the deadline, refund on any failure. The balance returned on success
// is the one the debit itself produced, not a re-query.
func (s *service) ChargeAndRun(ctx context.Context, userID uuid.UUID, cost int, jobID uuid.UUID, description string, op Operation) (Balance, error) {
	if cost <= 0 {
		return Balance{}, ErrInvalidAmount
	}

	balance, err := s.repo.Deduct(ctx, userID, cost, jobID, description)
	if err != nil {
		return Balance{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	opErr := op(opCtx)
	if opErr == nil {
		return balance, nil
	}

	if errors.Is(opErr, context.DeadlineExceeded) && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		opErr = ErrOperationTimeout
	}

	// Refund failures are logged, never allowed to mask the
	// operation error the caller needs to see.
	if _, _, refundErr := s.repo.Refund(ctx, userID, jobID, "refund: "+description); refundErr != nil {
		log.Error().Err(refundErr).
			Str("user_id", userID.String()).
			Str("job_id", jobID.String()).
			Int("amount", cost).
			Msg("credit refund failed after operation failure")
	}

	return Balance{}, opErr
}

// Refund restores the debit recorded for jobID. Safe to call more than
// once for the same job.
func (s *service) Refund(ctx context.Context, userID uuid.UUID, jobID uuid.UUID, description string) (Balance, error) {
	balance, refunded, err := s.repo.Refund(ctx, userID, jobID, description)
	if err != nil {
		return Balance{}, err
	}
	if !refunded {
		log.Debug().
			Str("user_id", userID.String()).
			Str("job_id", jobID.String()).
			Msg("refund already applied, skipping")
	}
	return balance, nil
}

func (s *service) GrantCycleCredits(ctx context.Context, userID uuid.UUID, amount, rolloverCap int, description string) (Balance, error) {
	return s.repo.GrantCycleCredits(ctx, userID, amount, rolloverCap, description)
}

func (s *service) AddPurchased(ctx context.Context, userID uuid.UUID, amount int, description string) (Balance, error) {
	return s.repo.AddPurchased(ctx, userID, amount, description)
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 20
	}

	return s.repo.ListTransactions(ctx, userID, Pagination{Limit: limit, Offset: offset})
}
