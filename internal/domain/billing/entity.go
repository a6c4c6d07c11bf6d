package billing

import (
	"time"

	"github.com/google/uuid"
)

// Status mirrors the external billing system's subscription status.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Subscription is the local mirror of a Stripe subscription. The
// scheduled_* fields are set only while a downgrade is pending; the
// primary price id changes only after Stripe reports the change
// executed via webhook.
type Subscription struct {
	ID                   uuid.UUID  `db:"id"`
	UserID               uuid.UUID  `db:"user_id"`
	StripeCustomerID     string     `db:"stripe_customer_id"`
	StripeSubscriptionID string     `db:"stripe_subscription_id"`
	PriceID              string     `db:"price_id"`
	Status               Status     `db:"status"`
	CurrentPeriodStart   time.Time  `db:"current_period_start"`
	CurrentPeriodEnd     time.Time  `db:"current_period_end"`
	ScheduledPriceID     *string    `db:"scheduled_price_id"`
	ScheduledChangeAt    *time.Time `db:"scheduled_change_at"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

// IsChangeable reports whether a plan change can be orchestrated
// against this subscription.
func (s *Subscription) IsChangeable() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// Preview is the outcome of a plan-change preview.
type Preview struct {
	CurrentPriceID       string
	TargetPriceID        string
	IsDowngrade          bool
	AmountDue            int64
	Currency             string
	EffectiveImmediately bool
	EffectiveDate        time.Time
}

// ChangeResult is the outcome of an applied plan change.
type ChangeResult struct {
	PriceID              string
	IsDowngrade          bool
	EffectiveImmediately bool
	EffectiveDate        time.Time
	ScheduledPriceID     *string
}
