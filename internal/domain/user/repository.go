package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clearpix/clearpix-api/internal/pkg/email"
)

const queryTimeout = 3 * time.Second

var (
	ErrNotFound = errors.New("user not found")
	ErrInternal = errors.New("internal error")
)

// Repository provides the profile lookups the rest of the service
// needs: plan-tier labels and email category preferences.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var u User
	err := r.db.GetContext(ctx2, &u, `
		SELECT id, email, plan_tier, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get user", ErrInternal)
	}

	return &u, nil
}

// GetPlanTier returns the user's plan-tier label. Unknown users get
// the free tier.
func (r *Repository) GetPlanTier(ctx context.Context, userID uuid.UUID) (string, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var tier string
	err := r.db.GetContext(ctx2, &tier, `SELECT plan_tier FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "free", nil
		}
		return "", fmt.Errorf("%w: get plan tier", ErrInternal)
	}

	return tier, nil
}

// UpdatePlanTier writes the label feature gating reads.
func (r *Repository) UpdatePlanTier(ctx context.Context, userID uuid.UUID, tier string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE users SET plan_tier = $2, updated_at = now() WHERE id = $1
	`, userID, tier)
	if err != nil {
		return fmt.Errorf("%w: update plan tier", ErrInternal)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// AllowsCategory reports whether the user accepts emails of the given
// category. Transactional mail can't be opted out of. When the user id
// misses, the lookup falls back to the address.
func (r *Repository) AllowsCategory(ctx context.Context, userID uuid.UUID, address string, category email.Category) (bool, error) {
	if category == email.CategoryTransactional {
		return true, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var optedOut bool
	err := r.db.GetContext(ctx2, &optedOut, `
		SELECT opted_out FROM email_preferences
		WHERE user_id = $1 AND category = $2
	`, userID, category)
	if err == nil {
		return !optedOut, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: get email preference", ErrInternal)
	}

	// No row for the id; try the address in case the preference was
	// stored before the account existed.
	err = r.db.GetContext(ctx2, &optedOut, `
		SELECT p.opted_out FROM email_preferences p
		JOIN users u ON u.id = p.user_id
		WHERE u.email = $1 AND p.category = $2
	`, address, category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("%w: get email preference by address", ErrInternal)
	}

	return !optedOut, nil
}
