package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPriceID is returned when the target price isn't in the catalog
	ErrInvalidPriceID = errors.New("unknown price id")

	// ErrNoActiveSubscription is returned when the user has no changeable subscription
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrSamePlan is returned when the target price equals the current one
	ErrSamePlan = errors.New("already on this plan")

	// ErrSubscriptionModified is returned when the external subscription
	// no longer matches the mirror's expectation (concurrent change)
	ErrSubscriptionModified = errors.New("subscription was modified concurrently")

	ErrInternal = errors.New("internal error")
)

// ProviderError wraps a failure from the external billing system,
// preserving the vendor's error code.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("billing provider error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("billing provider error: %s", e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }
