// Package push maintains the persistent server-push subscription: one
// event stream per subject, reconnected under an exponential-backoff policy
// and bridged into the pending-task registry.
package push

import (
	"math"
	"time"
)

// Policy controls reconnect pacing for the push channel.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultPolicy returns a Policy with sensible defaults:
// 1s base, 30s cap, 8 attempts before requiring a manual reconnect.
func DefaultPolicy() Policy {
	return Policy{
		Base:        1 * time.Second,
		Cap:         30 * time.Second,
		MaxAttempts: 8,
	}
}

// Delay returns the backoff before reconnect attempt number n (0-indexed):
// Base * 2^n, capped at Cap.
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.Base) * math.Pow(2, float64(attempt))
	if delay > float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(delay)
}

// Exhausted reports whether failures consecutive failures have spent the
// reconnect budget.
func (p Policy) Exhausted(failures int) bool {
	return failures >= p.MaxAttempts
}
