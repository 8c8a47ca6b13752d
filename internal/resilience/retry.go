package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy configures the retry combinators.
type RetryPolicy struct {
	// Attempts is the retry budget beyond the first call. Attempts=2 means
	// the operation runs at most 3 times.
	Attempts int

	// InitialBackoff is the sleep before the first retry; each subsequent
	// retry multiplies it by Multiplier up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// Timeout bounds each attempt. Zero disables the per-attempt deadline.
	// An expired attempt is cancelled and reported as CategoryTimeout.
	Timeout time.Duration
}

// DefaultRetryPolicy returns the standard policy: two retries with
// exponential backoff starting at 100ms, no per-attempt timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

func (p *RetryPolicy) normalize() {
	if p.Attempts < 0 {
		p.Attempts = 0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
}

// Do runs fn with retry-with-backoff under the given policy, recording every
// failure with the handler. Validation and corruption errors fail fast; other
// categories are retried until the budget is exhausted, after which the last
// error is returned. This is the write-path combinator: errors propagate.
func Do[T any](ctx context.Context, h *Handler, component, operation string, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	policy.normalize()

	backoff := policy.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= policy.Attempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}

		v, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return v, nil
		}

		lastErr = classify(err, attemptCtx, component, operation)
		retryable := IsRetryable(lastErr) && attempt < policy.Attempts && ctx.Err() == nil

		if h != nil {
			h.HandleWithRecovery(lastErr, retryable, false)
		}
		if !retryable {
			break
		}

		if err := sleep(ctx, backoff); err != nil {
			lastErr = New(CategoryTimeout, component, operation, err)
			break
		}
		backoff = min(time.Duration(float64(backoff)*policy.Multiplier), policy.MaxBackoff)
	}

	return zero, lastErr
}

// DoWithFallback is the read-path combinator: it runs Do and, on exhaustion,
// suppresses the error and returns fallback so callers can proceed degraded.
// The masking is recorded as a successful recovery.
func DoWithFallback[T any](ctx context.Context, h *Handler, component, operation string, policy RetryPolicy, fallback T, fn func(context.Context) (T, error)) T {
	v, err := Do(ctx, h, component, operation, policy, fn)
	if err == nil {
		return v
	}
	if h != nil {
		h.HandleWithRecovery(err, true, true)
	}
	return fallback
}

// classify maps raw errors onto the taxonomy. Context deadline expiry becomes
// CategoryTimeout; already-classified errors pass through; anything else is
// wrapped as CategoryConnection, the transient default for external calls.
func classify(err error, attemptCtx context.Context, component, operation string) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		(attemptCtx != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)) {
		var me *MemoryError
		if errors.As(err, &me) && me.Category == CategoryTimeout {
			return err
		}
		return New(CategoryTimeout, component, operation, err)
	}
	var me *MemoryError
	if errors.As(err, &me) {
		return err
	}
	return New(CategoryConnection, component, operation, err)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
