package credit

import (
	"time"

	"github.com/google/uuid"
)

// TxType defines supported credit transaction types.
type TxType string

const (
	TxTypeDeduction  TxType = "deduction"
	TxTypeRefund     TxType = "refund"
	TxTypeCycleGrant TxType = "cycle_grant"
	TxTypePurchase   TxType = "purchase"
)

// Balance is a user's credit balance split into the two pools.
// Subscription credits are granted each billing cycle with bounded
// rollover; purchased credits never expire.
type Balance struct {
	SubscriptionCredits int `db:"subscription_credits"`
	PurchasedCredits    int `db:"purchased_credits"`
}

// Total is the combined spendable balance.
func (b Balance) Total() int {
	return b.SubscriptionCredits + b.PurchasedCredits
}

// Transaction is a ledger row. Deltas are negative for deductions and
// positive for refunds and grants. JobID links debit/refund pairs for
// the same billable operation.
type Transaction struct {
	ID                uuid.UUID  `db:"id"`
	UserID            uuid.UUID  `db:"user_id"`
	AmountDelta       int        `db:"amount_delta"`
	SubscriptionDelta int        `db:"subscription_delta"`
	PurchasedDelta    int        `db:"purchased_delta"`
	TxType            TxType     `db:"tx_type"`
	JobID             *uuid.UUID `db:"job_id"`
	Description       string     `db:"description"`
	CreatedAt         time.Time  `db:"created_at"`
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}
