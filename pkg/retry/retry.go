// Package retry centralizes backoff behavior. Call sites provide only
// the error classifier; the policy carries base, cap, and attempt limit.
package retry

import (
	"context"
	"math/rand"
	"time"

	apperrors "gridbot/pkg/errors"
)

// Policy defines how to retry an operation.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy suits short REST calls.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// ReconnectPolicy suits stream and venue reconnection: base 5s,
// delay = base * 2^min(attempt-1, 5), 10 attempts per session.
var ReconnectPolicy = Policy{
	MaxAttempts:    10,
	InitialBackoff: 5 * time.Second,
	MaxBackoff:     5 * time.Second * (1 << 5),
}

// IsTransientFunc reports whether an error should be retried.
type IsTransientFunc func(error) bool

// Do executes fn with retries according to the policy. Throttling
// errors honor their mandated minimum wait instead of the backoff.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		sleep := backoff
		if jitterBase := int64(backoff / 2); jitterBase > 0 {
			sleep += time.Duration(rand.Int63n(jitterBase))
		}
		if floor := apperrors.RetryDelay(err); floor > sleep {
			sleep = floor
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
			backoff = min(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

// Delay returns the backoff for a zero-based attempt under the policy,
// without jitter. Used by loops that manage their own sleeping.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.InitialBackoff << min(attempt, 5)
	return min(d, p.MaxBackoff)
}
