// Package ratelimit implements the sliding-window admission check used for
// both connection attempts and per-user message throughput.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks request timestamps per key inside a trailing window.
// Distinct keys are fully independent. State is in-memory only; it is an
// admission heuristic, not a durability guarantee.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// New creates a limiter using the wall clock.
func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock creates a limiter with an injected clock for tests.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		now:     now,
	}
}

// Admit prunes timestamps for key older than window, denies when the
// remaining count has reached maxRequests, and otherwise records the call.
// Denied calls are not recorded.
func (l *Limiter) Admit(key string, maxRequests int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	recent := l.windows[key][:0]
	for _, ts := range l.windows[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= maxRequests {
		l.windows[key] = recent
		return false
	}

	l.windows[key] = append(recent, now)
	return true
}

// Cleanup drops keys whose most recent timestamp is older than maxAge.
// Pruning inside Admit is lazy per key, so idle keys linger until this runs.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	for key, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, key)
		}
	}
}

// Keys returns the number of tracked keys, for monitoring.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
