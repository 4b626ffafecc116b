package resilience

import (
	"context"
	"errors"
	"time"
)

// Policy bounds retries of a guarded call.
type Policy struct {
	Target      string
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	// Timeout applies to each attempt. Zero leaves the caller's deadline in charge.
	Timeout time.Duration
	// Retryable decides whether a failed attempt is retried. Nil retries everything except
	// context cancellation.
	Retryable func(error) bool
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Call runs fn under policy. Failures are reported to the breaker; once it opens, calls fail
// with ErrOpenCircuit until the cool-off period has passed.
func Call[T any](ctx context.Context, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	target := policy.Target
	if target == "" {
		target = "default"
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if policy.Breaker != nil && !policy.Breaker.Allow(ctx) {
			RetryAttempts.WithLabelValues(target, "rejected").Inc()
			if lastErr != nil {
				return zero, errors.Join(ErrOpenCircuit, lastErr)
			}
			return zero, ErrOpenCircuit
		}

		v, err := callOnce(ctx, policy.Timeout, fn)
		if err == nil {
			RetryAttempts.WithLabelValues(target, "ok").Inc()
			if policy.Breaker != nil {
				policy.Breaker.Report(ctx, true)
			}
			return v, nil
		}
		RetryAttempts.WithLabelValues(target, "error").Inc()
		if policy.Breaker != nil {
			policy.Breaker.Report(ctx, false)
		}
		lastErr = err

		var perm permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if !retryable(policy, err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(Backoff(policy.BaseBackoff, attempt, policy.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

func retryable(policy Policy, err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if policy.Retryable != nil {
		return policy.Retryable(err)
	}
	return true
}
