// Package retry implements jittered exponential backoff for transient failures
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how an operation is retried
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultPolicy suits short read paths
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     8 * time.Second,
	Multiplier:     2,
}

// IsTransientFunc reports whether an error is transient and worth retrying
type IsTransientFunc func(error) bool

// Do executes fn with retries according to the policy. Non-transient
// errors return immediately; the last error is returned once the
// attempt budget is exhausted. Context cancellation aborts the wait.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier <= 1 {
		policy.Multiplier = 2
	}

	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if isTransient != nil && !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		// Jittered backoff: backoff + random(0, 50% of backoff)
		sleepTime := backoff
		if backoff > 0 {
			sleepTime += time.Duration(rand.Int63n(int64(backoff / 2)))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
			next := time.Duration(float64(backoff) * policy.Multiplier)
			if next > policy.MaxBackoff {
				next = policy.MaxBackoff
			}
			backoff = next
		}
	}

	return err
}
