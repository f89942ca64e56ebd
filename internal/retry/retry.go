package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"stashworker/internal/errs"
)

// Policy is a caller-level retry policy: up to MaxAttempts runs, waiting
// Base * 2^attempt between them, capped at Max.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Base: time.Second, Max: time.Minute}
}

// Backoff returns the delay before retry number attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
		if delay <= 0 {
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}

// Do runs fn until it succeeds, returns a Permanent error, the context ends
// or MaxAttempts runs have failed. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if fn == nil {
		return errors.New("retry fn is required")
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	},
		backoff.WithBackOff(&doubling{policy: p}),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return errs.Wrap(err, "retry exhausted")
	}
	return nil
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// doubling adapts Policy to backoff.BackOff.
type doubling struct {
	policy  Policy
	attempt int
}

func (d *doubling) NextBackOff() time.Duration {
	d.attempt++
	return d.policy.Backoff(d.attempt)
}

func (d *doubling) Reset() {
	d.attempt = 0
}
