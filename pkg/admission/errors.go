package admission

import (
	"errors"
	"fmt"
	"math"
	"time"

	"campuscore/keygate/pkg/tier"
)

var (
	// ErrExhausted is matched by every *ExhaustionError.
	ErrExhausted = errors.New("capacity exhausted")

	// ErrInvalidEstimate is returned for a negative token estimate.
	ErrInvalidEstimate = errors.New("invalid token estimate")

	// ErrEstimateTooLarge is returned when the estimate exceeds the tier's
	// TPM limit and so can never be admitted.
	ErrEstimateTooLarge = errors.New("token estimate exceeds tier tpm limit")
)

// ExhaustionError reports that no credential can serve the request right now.
type ExhaustionError struct {
	Tier       tier.Tier
	RetryAfter time.Duration
	Reason     string
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("tier %s exhausted: %s (retry after %ds)", e.Tier, e.Reason, e.RetryAfterSeconds())
}

func (e *ExhaustionError) Unwrap() error {
	return ErrExhausted
}

// RetryAfterSeconds is RetryAfter rounded up to whole seconds, at least 1.
func (e *ExhaustionError) RetryAfterSeconds() int64 {
	secs := int64(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
