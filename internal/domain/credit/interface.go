package credit

import (
	"context"

	"github.com/google/uuid"
)

// Operation is the billable external work run between debit and
// settle. It must respect ctx cancellation; the service imposes a
// hard deadline on it.
type Operation func(ctx context.Context) error

// Service interface defines the credit ledger operations
type Service interface {
	// ChargeAndRun debits cost from the user, runs op under the
	// configured deadline, and refunds on any failure. Returns the
	// post-debit balance on success.
	// Returns *InsufficientCreditsError if the balance can't cover cost.
	ChargeAndRun(ctx context.Context, userID uuid.UUID, cost int, jobID uuid.UUID, description string, op Operation) (Balance, error)

	// Refund restores the amount debited for jobID. Idempotent: a
	// second refund for the same job is a no-op.
	Refund(ctx context.Context, userID uuid.UUID, jobID uuid.UUID, description string) (Balance, error)

	// GrantCycleCredits sets the subscription pool for a new billing
	// cycle, rolling over unused credits up to rolloverCap.
	GrantCycleCredits(ctx context.Context, userID uuid.UUID, amount, rolloverCap int, description string) (Balance, error)

	// AddPurchased adds never-expiring purchased credits.
	AddPurchased(ctx context.Context, userID uuid.UUID, amount int, description string) (Balance, error)

	// GetBalance returns the current credit balance for a user
	GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error)

	// ListTransactions returns paginated ledger history for a user
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error)
}
