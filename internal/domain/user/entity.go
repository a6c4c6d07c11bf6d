package user

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal profile this service owns. Authentication lives
// with the external identity provider; the row here carries the
// plan-tier label used for feature gating and the contact address.
type User struct {
	ID        uuid.UUID `db:"id"`
	Email     string    `db:"email"`
	PlanTier  string    `db:"plan_tier"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
