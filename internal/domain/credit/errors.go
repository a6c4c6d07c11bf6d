package credit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrUserNotFound is returned when user doesn't exist
	ErrUserNotFound = errors.New("user not found")

	// ErrDeductionNotFound is returned when a refund references a job
	// that never had a deduction recorded
	ErrDeductionNotFound = errors.New("no deduction found for job")

	// ErrOperationTimeout is returned when the billable operation
	// exceeds its wall-clock deadline
	ErrOperationTimeout = errors.New("operation timed out")

	ErrInternal = errors.New("internal error")
)

// InsufficientCreditsError carries the cost the failed debit required
// alongside the balance the user actually had.
type InsufficientCreditsError struct {
	Required int
	Balance  int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, have %d", e.Required, e.Balance)
}
