package vault

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds retries of transient store failures.
type RetryPolicy struct {
	// MaxTries is the total number of attempts, including the first.
	// Default: 4
	MaxTries uint

	// InitialInterval is the first backoff delay.
	// Default: 50ms
	InitialInterval time.Duration

	// MaxInterval caps a single backoff delay.
	// Default: 1s
	MaxInterval time.Duration
}

// DefaultRetryPolicy is used when a zero RetryPolicy is given.
var DefaultRetryPolicy = RetryPolicy{
	MaxTries:        4,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxTries == 0 {
		p.MaxTries = DefaultRetryPolicy.MaxTries
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultRetryPolicy.MaxInterval
	}
	return p
}

// Retry runs fn until it succeeds, fails with a non-transient error, or the
// policy is exhausted. Only errors for which IsTransient is true are retried.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func() (T, error)) (T, error) {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(policy.MaxTries))
}
