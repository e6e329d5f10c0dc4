// Package retry runs fallible calls with exponential backoff.
//
// Callers mark errors that must not be retried with Permanent, or supply a
// ShouldRetry predicate:
//
//	body, err := retry.Value(ctx, retry.DefaultPolicy, "inference", func() ([]byte, error) {
//	    return client.Call(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls attempts and backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt; it doubles per
	// attempt up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// ShouldRetry classifies errors. When nil, every error not wrapped with
	// Permanent is retried.
	ShouldRetry func(err error) bool
}

// DefaultPolicy suits short HTTP calls to model and embedding endpoints.
var DefaultPolicy = Policy{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that Do stops immediately. The wrapped error is
// still reachable through errors.Is / errors.As.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, the policy gives up, or ctx is done.
// op names the operation in debug logs. The last error is returned.
func Do(ctx context.Context, p Policy, op string, fn func() error) error {
	_, err := Value(ctx, p, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func() (T, error)) (T, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultPolicy.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}

	var (
		zero    T
		lastErr error
		delay   = p.InitialDelay
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Join(lastErr, err)
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if IsPermanent(err) || (p.ShouldRetry != nil && !p.ShouldRetry(err)) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		slog.Debug("retry: attempt failed",
			"op", op, "attempt", attempt, "max", p.MaxAttempts,
			"delay", delay, "err", err)

		select {
		case <-ctx.Done():
			return zero, errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, p.MaxDelay)
	}
	return zero, lastErr
}
