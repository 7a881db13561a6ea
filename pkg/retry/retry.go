// Package retry provides a bounded retry policy for external fetches.
// Callers register one attempt function per fetch strategy; attempts rotate
// through the strategies so a failing endpoint or query method is not hit
// MaxAttempts times in a row.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy bounds retries of an external call.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Default matches the fetch budget used by the edit reconciler.
var Default = Policy{MaxAttempts: 5, Backoff: 500 * time.Millisecond}

// AttemptFunc is one fetch strategy.
type AttemptFunc func(ctx context.Context) error

// Do runs the given strategies until one succeeds or the policy is
// exhausted, rotating through strategies on each attempt. The last attempt
// error is joined onto ErrExhausted.
func (p Policy) Do(ctx context.Context, attempts ...AttemptFunc) error {
	if len(attempts) == 0 {
		return ErrExhausted
	}
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}

	var lastErr error
	for i := 0; i < max; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := attempts[i%len(attempts)](ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < max-1 && p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return errors.Join(ErrExhausted, lastErr)
}
