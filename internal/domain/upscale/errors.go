package upscale

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInternal = errors.New("internal error")
)

// BatchLimitError reports that the user hit their hourly cap on
// billable operations.
type BatchLimitError struct {
	Current int
	Limit   int
	ResetAt time.Time
}

func (e *BatchLimitError) Error() string {
	return fmt.Sprintf("hourly batch limit reached: %d/%d, resets at %s", e.Current, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// TierForbiddenError reports that the user's plan tier does not
// include the requested feature.
type TierForbiddenError struct {
	Feature string
	Tier    string
}

func (e *TierForbiddenError) Error() string {
	return fmt.Sprintf("feature %q not available on tier %q", e.Feature, e.Tier)
}
