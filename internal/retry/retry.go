// Package retry provides a reusable bounded-retry policy with exponential
// backoff. It is shared wherever the connector talks to an external system,
// so transient-failure handling is configured in one place instead of inlined
// per call site.
package retry

import (
	"context"
	"time"
)

// Default policy parameters. The backoff doubles from BaseDelay up to
// MaxDelay per wait; MaxElapsed bounds the total time spent waiting between
// attempts so a dispatch can never retry forever.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 10 * time.Second
	DefaultMaxElapsed = 60 * time.Second
)

// Policy describes how an operation is retried: how many additional attempts
// are allowed, which errors count as transient, and how long to wait between
// attempts.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff wait.
	MaxDelay time.Duration
	// MaxElapsed bounds the cumulative time spent waiting between attempts.
	MaxElapsed time.Duration
	// Sleep is the wait function; nil means a real timer. Tests inject a
	// no-op to keep retries instantaneous.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns a Policy with the package defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		MaxElapsed: DefaultMaxElapsed,
	}
}

// Backoff returns the wait before retry number attempt (0-based). The
// schedule is exponential: BaseDelay, 2*BaseDelay, 4*BaseDelay, ... capped
// at MaxDelay, so successive waits are monotonically non-decreasing.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs op, retrying up to MaxRetries additional times while transient
// reports the returned error as retryable. Non-transient errors are returned
// immediately. After exhausting retries or the MaxElapsed budget, the last
// error is returned.
func (p Policy) Do(ctx context.Context, transient func(error) bool, op func(ctx context.Context) error) error {
	var waited time.Duration
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if transient != nil && !transient(lastErr) {
			return lastErr
		}
		if attempt >= p.MaxRetries {
			return lastErr
		}
		delay := p.Backoff(attempt)
		if p.MaxElapsed > 0 && waited+delay > p.MaxElapsed {
			return lastErr
		}
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
		waited += delay
	}
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
