package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/upb/dsp-front-door/services"
)

// Default retry settings for control tower calls
const (
	DefaultMaxAttempts = 3
	DefaultMinDelay    = 4 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultMultiplier  = 2.0
)

// RetryPolicy retries an operation with capped exponential backoff.
// The zero value is not usable; start from DefaultRetryPolicy.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// Jitter is the randomization factor applied to each delay, in [0, 1)
	Jitter float64

	// Retryable decides whether a failed attempt may be tried again
	Retryable func(error) bool

	// OnRetry is called before sleeping ahead of attempt+1
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryPolicy returns the policy used for manifest authority calls
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		MinDelay:    DefaultMinDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		Retryable:   IsTransient,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.MinDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, fails with a non-retryable error, the context
// is done, or MaxAttempts is reached. Non-retryable errors are returned as is.
// Running out of attempts yields a TransientFetchError wrapping the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var (
		attempts  int
		lastErr   error
		permanent bool
	)

	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, p.newBackOff(ctx), func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts, err, wait)
		}
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("retry aborted after %d attempts: %w", attempts, ctx.Err())
	case permanent:
		return lastErr
	default:
		return services.NewTransientFetchError(
			fmt.Sprintf("control tower unavailable after %d attempts", attempts), attempts, lastErr)
	}
}

// transientError marks a failure that is worth retrying
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
