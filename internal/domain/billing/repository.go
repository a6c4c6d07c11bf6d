package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

type Repository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)
	SetScheduledChange(ctx context.Context, id uuid.UUID, scheduledPriceID string, changeAt time.Time) error
	ApplyImmediateChange(ctx context.Context, id uuid.UUID, priceID string, periodStart, periodEnd time.Time) error
	SyncState(ctx context.Context, stripeSubscriptionID, priceID string, status Status, periodStart, periodEnd time.Time) error
	ClearScheduledChange(ctx context.Context, id uuid.UUID) error
	MarkEventProcessed(ctx context.Context, eventID string) (bool, error)
	ClaimCycleGrant(ctx context.Context, userID uuid.UUID, priceID string, periodStart time.Time) (bool, error)
}

// SubscriptionRepository persists the local subscription mirror and
// the processed-webhook-event log.
type SubscriptionRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sub Subscription
	err := r.db.GetContext(ctx2, &sub, `
		SELECT id, user_id, stripe_customer_id, stripe_subscription_id, price_id, status,
		       current_period_start, current_period_end, scheduled_price_id, scheduled_change_at,
		       created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("%w: get subscription", ErrInternal)
	}

	return &sub, nil
}

func (r *SubscriptionRepository) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sub Subscription
	err := r.db.GetContext(ctx2, &sub, `
		SELECT id, user_id, stripe_customer_id, stripe_subscription_id, price_id, status,
		       current_period_start, current_period_end, scheduled_price_id, scheduled_change_at,
		       created_at, updated_at
		FROM subscriptions
		WHERE stripe_subscription_id = $1
	`, stripeSubscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("%w: get subscription by stripe id", ErrInternal)
	}

	return &sub, nil
}

// SetScheduledChange records a pending downgrade without touching the
// primary price id.
func (r *SubscriptionRepository) SetScheduledChange(ctx context.Context, id uuid.UUID, scheduledPriceID string, changeAt time.Time) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE subscriptions
		SET scheduled_price_id = $2, scheduled_change_at = $3, updated_at = now()
		WHERE id = $1
	`, id, scheduledPriceID, changeAt)
	if err != nil {
		return fmt.Errorf("%w: set scheduled change", ErrInternal)
	}

	return requireRow(result)
}

// ApplyImmediateChange moves the mirror to the new price and period
// bounds and clears any pending downgrade (an upgrade supersedes it).
func (r *SubscriptionRepository) ApplyImmediateChange(ctx context.Context, id uuid.UUID, priceID string, periodStart, periodEnd time.Time) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE subscriptions
		SET price_id = $2,
		    current_period_start = $3,
		    current_period_end = $4,
		    scheduled_price_id = NULL,
		    scheduled_change_at = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, priceID, periodStart, periodEnd)
	if err != nil {
		return fmt.Errorf("%w: apply immediate change", ErrInternal)
	}

	return requireRow(result)
}

// SyncState updates the mirror from an external notification. When the
// incoming price matches a pending scheduled change, the schedule has
// executed and the scheduled fields are cleared.
func (r *SubscriptionRepository) SyncState(ctx context.Context, stripeSubscriptionID, priceID string, status Status, periodStart, periodEnd time.Time) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE subscriptions
		SET price_id = $2,
		    status = $3,
		    current_period_start = $4,
		    current_period_end = $5,
		    scheduled_price_id = CASE WHEN scheduled_price_id = $2 THEN NULL ELSE scheduled_price_id END,
		    scheduled_change_at = CASE WHEN scheduled_price_id = $2 THEN NULL ELSE scheduled_change_at END,
		    updated_at = now()
		WHERE stripe_subscription_id = $1
	`, stripeSubscriptionID, priceID, status, periodStart, periodEnd)
	if err != nil {
		return fmt.Errorf("%w: sync subscription state", ErrInternal)
	}

	return requireRow(result)
}

func (r *SubscriptionRepository) ClearScheduledChange(ctx context.Context, id uuid.UUID) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE subscriptions
		SET scheduled_price_id = NULL, scheduled_change_at = NULL, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("%w: clear scheduled change", ErrInternal)
	}

	return nil
}

// MarkEventProcessed records a webhook event id. Returns false when
// the event was already processed, making redeliveries no-ops.
func (r *SubscriptionRepository) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO billing_events (event_id) VALUES ($1)
	`, eventID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("%w: mark event processed", ErrInternal)
	}

	return true, nil
}

// ClaimCycleGrant records that cycle credits for a billing period were
// granted. Stripe emits several events around one period boundary (the
// subscription update and the renewal invoice), each with its own event
// id, so the event log alone cannot stop a second grant. The claim is
// keyed by user, price, and period start; the losing event sees false
// and skips its grant.
func (r *SubscriptionRepository) ClaimCycleGrant(ctx context.Context, userID uuid.UUID, priceID string, periodStart time.Time) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO cycle_grant_claims (user_id, price_id, period_start) VALUES ($1, $2, $3)
	`, userID, priceID, periodStart)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("%w: claim cycle grant", ErrInternal)
	}

	return true, nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrNoActiveSubscription
	}
	return nil
}
