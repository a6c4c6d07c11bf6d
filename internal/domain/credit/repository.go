package credit

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
	Deduct(ctx context.Context, userID uuid.UUID, amount int, jobID uuid.UUID, description string) (Balance, error)
	Refund(ctx context.Context, userID uuid.UUID, jobID uuid.UUID, description string) (Balance, bool, error)
	GrantCycleCredits(ctx context.Context, userID uuid.UUID, amount, rolloverCap int, description string) (Balance, error)
	AddPurchased(ctx context.Context, userID uuid.UUID, amount int, description string) (Balance, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]Transaction, error)
}

// CreditRepository provides the atomic ledger and balance primitives.
// All cross-request safety lives here: concurrent debits for the same
// user serialize on a FOR UPDATE row lock, and refunds are made
// idempotent by a unique (job_id, tx_type) constraint on the ledger.
type CreditRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Deduct atomically debits amount from the user's combined balance,
// spending the subscription pool before the purchased pool, and writes
// a ledger entry tagged with jobID. Returns the resulting balance.
func (r *CreditRepository) Deduct(ctx context.Context, userID uuid.UUID, amount int, jobID uuid.UUID, description string) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return Balance{}, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	balance, err := r.lockBalance(ctx2, tx, userID)
	if err != nil {
		return Balance{}, err
	}

	if balance.Total() < amount {
		return Balance{}, &InsufficientCreditsError{Required: amount, Balance: balance.Total()}
	}

	subSpend := amount
	if subSpend > balance.SubscriptionCredits {
		subSpend = balance.SubscriptionCredits
	}
	purchSpend := amount - subSpend

	_, err = tx.ExecContext(ctx2, `
		UPDATE user_credits
		SET subscription_credits = subscription_credits - $2,
		    purchased_credits = purchased_credits - $3,
		    updated_at = now()
		WHERE user_id = $1
	`, userID, subSpend, purchSpend)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: update balance", ErrInternal)
	}

	if err := r.insertLedger(ctx2, tx, userID, -amount, -subSpend, -purchSpend, TxTypeDeduction, &jobID, description); err != nil {
		return Balance{}, err
	}

	if err := tx.Commit(); err != nil {
		return Balance{}, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return Balance{
		SubscriptionCredits: balance.SubscriptionCredits - subSpend,
		PurchasedCredits:    balance.PurchasedCredits - purchSpend,
	}, nil
}

// Refund restores the amount a deduction for jobID took, putting each
// pool back to where it was. Idempotent per job: if a refund entry for
// jobID already exists the balance is returned unchanged and the bool
// result is false.
func (r *CreditRepository) Refund(ctx context.Context, userID uuid.UUID, jobID uuid.UUID, description string) (Balance, bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return Balance{}, false, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	balance, err := r.lockBalance(ctx2, tx, userID)
	if err != nil {
		return Balance{}, false, err
	}

	var exists bool
	err = tx.QueryRowContext(ctx2, `
		SELECT EXISTS (
			SELECT 1 FROM credit_transactions
			WHERE job_id = $1 AND tx_type = $2
		)
	`, jobID, TxTypeRefund).Scan(&exists)
	if err != nil {
		return Balance{}, false, fmt.Errorf("%w: check existing refund", ErrInternal)
	}
	if exists {
		return balance, false, nil
	}

	var deduction struct {
		SubscriptionDelta int `db:"subscription_delta"`
		PurchasedDelta    int `db:"purchased_delta"`
	}
	err = tx.QueryRowxContext(ctx2, `
		SELECT subscription_delta, purchased_delta
		FROM credit_transactions
		WHERE job_id = $1 AND tx_type = $2
	`, jobID, TxTypeDeduction).StructScan(&deduction)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, false, ErrDeductionNotFound
		}
		return Balance{}, false, fmt.Errorf("%w: load deduction", ErrInternal)
	}

	// Deltas on the deduction row are negative; restore by subtracting.
	subRestore := -deduction.SubscriptionDelta
	purchRestore := -deduction.PurchasedDelta

	_, err = tx.ExecContext(ctx2, `
		UPDATE user_credits
		SET subscription_credits = subscription_credits + $2,
		    purchased_credits = purchased_credits + $3,
		    updated_at = now()
		WHERE user_id = $1
	`, userID, subRestore, purchRestore)
	if err != nil {
		return Balance{}, false, fmt.Errorf("%w: restore balance", ErrInternal)
	}

	err = r.insertLedger(ctx2, tx, userID, subRestore+purchRestore, subRestore, purchRestore, TxTypeRefund, &jobID, description)
	if err != nil {
		// Lost a race against another refund for the same job; the
		// unique constraint on (job_id, tx_type) rejected ours.
		if isUniqueViolation(err) {
			return balance, false, nil
		}
		return Balance{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return Balance{}, false, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return Balance{
		SubscriptionCredits: balance.SubscriptionCredits + subRestore,
		PurchasedCredits:    balance.PurchasedCredits + purchRestore,
	}, true, nil
}

// GrantCycleCredits replaces the subscription pool for a new billing
// cycle: unused credits roll over, capped at rolloverCap.
func (r *CreditRepository) GrantCycleCredits(ctx context.Context, userID uuid.UUID, amount, rolloverCap int, description string) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return Balance{}, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	balance, err := r.lockBalance(ctx2, tx, userID)
	if err != nil {
		return Balance{}, err
	}

	newSub := balance.SubscriptionCredits + amount
	if newSub > rolloverCap {
		newSub = rolloverCap
	}
	delta := newSub - balance.SubscriptionCredits

	_, err = tx.ExecContext(ctx2, `
		UPDATE user_credits
		SET subscription_credits = $2, updated_at = now()
		WHERE user_id = $1
	`, userID, newSub)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: grant credits", ErrInternal)
	}

	if delta != 0 {
		if err := r.insertLedger(ctx2, tx, userID, delta, delta, 0, TxTypeCycleGrant, nil, description); err != nil {
			return Balance{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Balance{}, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return Balance{SubscriptionCredits: newSub, PurchasedCredits: balance.PurchasedCredits}, nil
}

// AddPurchased adds credits to the never-expiring purchased pool.
func (r *CreditRepository) AddPurchased(ctx context.Context, userID uuid.UUID, amount int, description string) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return Balance{}, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	balance, err := r.lockBalance(ctx2, tx, userID)
	if err != nil {
		return Balance{}, err
	}

	_, err = tx.ExecContext(ctx2, `
		UPDATE user_credits
		SET purchased_credits = purchased_credits + $2, updated_at = now()
		WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: add purchased credits", ErrInternal)
	}

	if err := r.insertLedger(ctx2, tx, userID, amount, 0, amount, TxTypePurchase, nil, description); err != nil {
		return Balance{}, err
	}

	if err := tx.Commit(); err != nil {
		return Balance{}, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return Balance{
		SubscriptionCredits: balance.SubscriptionCredits,
		PurchasedCredits:    balance.PurchasedCredits + amount,
	}, nil
}

func (r *CreditRepository) GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance Balance
	err := r.db.GetContext(ctx2, &balance, `
		SELECT subscription_credits, purchased_credits
		FROM user_credits
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, nil
		}
		return Balance{}, fmt.Errorf("%w: get balance", ErrInternal)
	}

	return balance, nil
}

func (r *CreditRepository) ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := pagination.Limit
	if limit <= 0 {
		limit = 20
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, user_id, amount_delta, subscription_delta, purchased_delta, tx_type, job_id, description, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, pagination.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions", ErrInternal)
	}

	return transactions, nil
}

// lockBalance takes the user's balance row under FOR UPDATE, creating
// it with zero credits first if the user has never held any.
func (r *CreditRepository) lockBalance(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (Balance, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_credits (user_id, subscription_credits, purchased_credits)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: ensure balance row", ErrInternal)
	}

	var balance Balance
	err = tx.QueryRowxContext(ctx, `
		SELECT subscription_credits, purchased_credits
		FROM user_credits
		WHERE user_id = $1
		FOR UPDATE
	`, userID).StructScan(&balance)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: lock balance row", ErrInternal)
	}

	return balance, nil
}

func (r *CreditRepository) insertLedger(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amountDelta, subDelta, purchDelta int, txType TxType, jobID *uuid.UUID, description string) error {
	if description == "" {
		description = "credit balance adjustment"
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			id, user_id, amount_delta, subscription_delta, purchased_delta, tx_type, job_id, description
		)
		VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7
		)
	`, userID, amountDelta, subDelta, purchDelta, txType, jobID, description)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("%w: insert transaction", ErrInternal)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
