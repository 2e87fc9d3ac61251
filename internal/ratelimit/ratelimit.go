// Package ratelimit caps how many checks one client may submit per
// window. Decisions are audited and screened against external
// providers, so an unbounded caller can exhaust both.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set only when Allowed is false.
	RetryAfter time.Duration
}

// Store counts requests per key over a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// retryAfter rounds up to whole seconds, never below one.
func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	wait := oldest.Add(window).Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait.Round(time.Second)
}
