// Package retry re-issues operations that fail with a retryable error,
// backing off exponentially up to a small attempt cap.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
)

const (
	// DefaultMaxAttempts caps the number of tries, including the first.
	DefaultMaxAttempts = 3
	// DefaultInitialInterval is the wait before the second attempt.
	DefaultInitialInterval = 100 * time.Millisecond
	// DefaultMaxInterval bounds a single wait.
	DefaultMaxInterval = 2 * time.Second
)

// Policy configures retries. Zero fields take the defaults.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Jitter is the backoff randomization factor in [0, 1].
	Jitter float64
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Jitter:          0.2,
	}
}

// NotifyFunc observes a failed attempt before the next wait.
type NotifyFunc func(attempt int, err error, wait time.Duration)

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = def.Jitter
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.Jitter
	return b
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt cap is reached. Only errors classified as retryable by
// apperrors.IsRetryable are re-issued; anything else is returned at once.
// The last attempt's error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), notify NotifyFunc) (T, error) {
	p = p.normalized()
	attempt := 0
	var lastErr error
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	onRetry := func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(onRetry),
	)
	if err == nil {
		return v, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if lastErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return v, lastErr
	}
	return v, err
}
