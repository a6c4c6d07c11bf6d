package fallback

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// ErrNoProviderAvailable is returned when no enabled candidate passes
// its availability check.
var ErrNoProviderAvailable = errors.New("no provider available")

// Candidate is anything that can take part in priority-ordered
// fallback selection. Lower priority numbers are tried first.
type Candidate interface {
	Name() string
	Priority() int
	Enabled() bool
	Available(ctx context.Context) (bool, error)
}

// ExhaustedError reports that every candidate was attempted and failed.
// The last underlying error is kept for the caller.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d providers failed, last error: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Selector chooses among candidates by ascending priority.
type Selector[T Candidate] struct {
	candidates []T
}

// NewSelector creates a selector over the given candidates. The input
// slice is copied and sorted by priority once.
func NewSelector[T Candidate](candidates ...T) *Selector[T] {
	sorted := make([]T, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Selector[T]{candidates: sorted}
}

// Pick returns the first enabled candidate whose availability check
// passes. An availability check error counts as unavailable.
func (s *Selector[T]) Pick(ctx context.Context) (T, error) {
	var zero T
	for _, c := range s.candidates {
		if !c.Enabled() {
			continue
		}
		ok, err := c.Available(ctx)
		if err != nil {
			log.Warn().Err(err).Str("provider", c.Name()).Msg("Availability check failed, skipping provider")
			continue
		}
		if ok {
			return c, nil
		}
	}
	return zero, ErrNoProviderAvailable
}

// Execute runs the attempt function against candidates in priority
// order until one succeeds, returning the candidate that did the work.
// A failed candidate is not retried; the next one is tried instead.
func (s *Selector[T]) Execute(ctx context.Context, attempt func(context.Context, T) error) (T, error) {
	var zero T
	var lastErr error
	attempts := 0

	for _, c := range s.candidates {
		if !c.Enabled() {
			continue
		}
		ok, err := c.Available(ctx)
		if err != nil {
			log.Warn().Err(err).Str("provider", c.Name()).Msg("Availability check failed, skipping provider")
			continue
		}
		if !ok {
			continue
		}

		attempts++
		if err := attempt(ctx, c); err != nil {
			log.Warn().Err(err).Str("provider", c.Name()).Msg("Provider attempt failed, trying next")
			lastErr = err
			continue
		}
		return c, nil
	}

	if attempts == 0 {
		return zero, ErrNoProviderAvailable
	}
	return zero, &ExhaustedError{Attempts: attempts, LastErr: lastErr}
}
