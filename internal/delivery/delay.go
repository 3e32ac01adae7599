// Package delivery drains the issue delivery queue.
//
// This file provides the retry delay policies applied after a failed send.
// A DelayFunc maps the number of failed attempts so far to the wait before
// the next attempt; the worker persists the result as next_attempt_at
// rather than sleeping on it.
package delivery

import (
	"context"
	"time"
)

// DelayFunc returns how long to wait before retrying a task that has failed
// attempt+1 times.
type DelayFunc func(attempt int) time.Duration

// FixedDelay waits d after every failure.
func FixedDelay(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

// ExponentialDelay doubles base after every failure and caps the result at
// maxDelay.
func ExponentialDelay(base, maxDelay time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		d := min(base, maxDelay)
		for i := 0; i < attempt && d < maxDelay; i++ {
			if d > maxDelay/2 {
				return maxDelay
			}
			d *= 2
		}
		return d
	}
}

// sleepContext waits d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
