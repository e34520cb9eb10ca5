// Package ratelimit implements a process-local sliding-window rate
// limiter keyed by user and scope.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Defaults for RAG queries.
const (
	DefaultMax    = 10
	DefaultWindow = 60 * time.Second

	cleanupEvery = 60 * time.Second
)

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed      bool  `json:"allowed"`
	Remaining    int   `json:"remaining"`
	RetryAfterMs int64 `json:"retryAfterMs"`
}

// Limiter tracks request timestamps per key. Concurrent access is
// serialized by an internal mutex.
type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu          sync.Mutex
	windows     map[string][]time.Time
	lastCleanup time.Time
}

// New creates a limiter allowing max requests per window.
func New(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		max:     max,
		window:  window,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// Key builds the canonical "scope:user" limiter key.
func Key(scope string, userID int64) string {
	return fmt.Sprintf("%s:%d", scope, userID)
}

// Check records a request for the key if allowed. On denial RetryAfterMs
// is the wait until the oldest request in the window expires.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeCleanup(now)

	cutoff := now.Add(-l.window)
	recent := l.windows[key][:0]
	for _, t := range l.windows[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.max {
		l.windows[key] = recent
		retryAfter := recent[0].Add(l.window).Sub(now)
		return Result{
			Allowed:      false,
			Remaining:    0,
			RetryAfterMs: retryAfter.Milliseconds(),
		}
	}

	recent = append(recent, now)
	l.windows[key] = recent
	return Result{
		Allowed:   true,
		Remaining: l.max - len(recent),
	}
}

// maybeCleanup sweeps keys whose every timestamp has expired. Runs at
// most once per cleanup interval, piggybacked on Check calls.
func (l *Limiter) maybeCleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < cleanupEvery {
		return
	}
	l.lastCleanup = now

	cutoff := now.Add(-l.window)
	for key, times := range l.windows {
		stale := true
		for _, t := range times {
			if t.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.windows, key)
		}
	}
}
