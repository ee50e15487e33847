package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// CounterStore is the shared counter backend. Peek returns the current
// window count, zero when the window is empty. Incr atomically increments
// the counter and sets or refreshes the window TTL, returning the new count.
type CounterStore interface {
	Peek(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter applies fixed-window limits keyed by action and client identity.
// Windows are TTL-bound rather than calendar-aligned: the first request in
// a window starts its clock and each further request refreshes it.
type Limiter struct {
	store   CounterStore
	enabled bool
}

// NewLimiter creates a limiter backed by store. A disabled limiter allows
// every request.
func NewLimiter(store CounterStore, enabled bool) *Limiter {
	return &Limiter{store: store, enabled: enabled}
}

// Enabled reports whether limits are enforced.
func (l *Limiter) Enabled() bool {
	return l.enabled
}

// Allow reports whether clientID may perform action once more under rate r.
// A denied request does not consume from the window.
func (l *Limiter) Allow(ctx context.Context, action, clientID string, r Rate) (bool, error) {
	if !l.enabled {
		return true, nil
	}

	key := windowKey(action, clientID, r)
	count, err := l.store.Peek(ctx, key)
	if err != nil {
		return false, fmt.Errorf("rate limit peek: %w", err)
	}
	if count >= int64(r.Count) {
		return false, nil
	}
	if _, err := l.store.Incr(ctx, key, r.Window()); err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	return true, nil
}

func windowKey(action, clientID string, r Rate) string {
	return fmt.Sprintf("rate_limit:%s:%s:%s", action, clientID, r.Label())
}
