package status

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidIdentity is returned when the caller's credentials are
	// rejected. It is never retried.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrStatusUnavailable is matched by every *UnavailableError.
	ErrStatusUnavailable = errors.New("status service unavailable")
)

// UnavailableError reports that the identity check kept failing.
type UnavailableError struct {
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("status service unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrStatusUnavailable, e.Err}
}
