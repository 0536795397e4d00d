package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrNoResult is returned by operations that completed without producing a usable value
var ErrNoResult = errors.New("no result")

// Backoff selects how the delay between attempts grows
type Backoff string

const (
	Linear      Backoff = "linear"
	Exponential Backoff = "exponential"
)

// ParseBackoff maps a config value to a Backoff, defaulting to Linear
func ParseBackoff(s string) Backoff {
	if Backoff(s) == Exponential {
		return Exponential
	}
	return Linear
}

// Policy configures Do
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     Backoff

	// OnRetry is called after a failed attempt that will be retried
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits between attempts; nil leaves the wait to backoff.Retry's timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 3 attempts with a linear 1s base delay
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Backoff:     Linear,
	}
}

// Delay returns the wait after the given failed attempt (1-based)
func (p Policy) Delay(attempt int) time.Duration {
	if p.Backoff == Exponential {
		return p.BaseDelay * time.Duration(1<<uint(attempt-1))
	}
	return p.BaseDelay * time.Duration(attempt)
}

// ExhaustedError is returned when every attempt failed
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// policyBackOff feeds the linear or exponential schedule of a Policy to
// backoff.Retry. With an injected Sleep it waits itself and hands back zero.
type policyBackOff struct {
	ctx      context.Context
	policy   Policy
	attempt  int
	last     *error
	sleepErr error
}

func (b *policyBackOff) Reset() { b.attempt = 0 }

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	delay := b.policy.Delay(b.attempt)
	if b.policy.OnRetry != nil {
		b.policy.OnRetry(b.attempt, *b.last, delay)
	}
	if b.policy.Sleep == nil {
		return delay
	}
	if err := b.policy.Sleep(b.ctx, delay); err != nil {
		b.sleepErr = err
		return backoff.Stop
	}
	return 0
}

// Do runs fn until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts is reached.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	b := &policyBackOff{ctx: ctx, policy: p, last: &last}
	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		last = err
		if IsPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return v, nil
	}

	var stop *backoff.PermanentError
	if errors.As(err, &stop) {
		err = stop.Unwrap()
	}
	switch {
	case b.sleepErr != nil:
		return zero, b.sleepErr
	case IsPermanent(err):
		return zero, err
	case ctx.Err() != nil:
		return zero, ctx.Err()
	}
	return zero, &ExhaustedError{Attempts: b.attempt + 1, Last: last}
}

// WithRetry adapts a (value, ok) operation: ok == false counts as a failed attempt.
func WithRetry[T any](ctx context.Context, fn func() (T, bool), maxAttempts int, baseDelay time.Duration) (T, error) {
	p := Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, Backoff: Linear}
	return Do(ctx, p, func(context.Context) (T, error) {
		v, ok := fn()
		if !ok {
			return v, ErrNoResult
		}
		return v, nil
	})
}
