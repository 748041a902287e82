// Package ratelimit counts requests per agent in fixed windows.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultMax      = 100
	DefaultWindow   = time.Hour
	DefaultCapacity = 10000
)

// ErrUnavailable is returned when a shared counter store cannot be reached
// and no local fallback is configured.
var ErrUnavailable = errors.New("ratelimit: counter store unavailable")

// Count is an agent's request count within the current window, including
// the request that produced it.
type Count struct {
	Value   int
	ResetAt time.Time
}

// Counter atomically increments an agent's count. Implementations must be
// safe for concurrent use; concurrent increments for one agent never lose
// updates.
type Counter interface {
	Increment(ctx context.Context, agentID string, now time.Time) (Count, error)
}

// Limit is the maximum number of requests allowed per window.
type Limit struct {
	Max    int
	Window time.Duration
}

// DefaultLimit is 100 requests per hour.
func DefaultLimit() Limit {
	return Limit{Max: DefaultMax, Window: DefaultWindow}
}

// Exceeded reports whether c is over the limit. The request that brings the
// count to Max is still allowed.
func (l Limit) Exceeded(c Count) bool {
	return c.Value > l.Max
}
