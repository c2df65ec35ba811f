// Package ratelimit provides the fixed-window limiter guarding the
// externally reachable payment endpoints.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter decides whether a caller identified by key may proceed. When it
// may not, retryAfter tells the caller how long to wait.
type Limiter interface {
	Allow(key string) (allowed bool, retryAfter time.Duration)
}

var _ Limiter = (*FixedWindow)(nil)

type window struct {
	start time.Time
	count int
}

// FixedWindow counts requests per key in consecutive windows of equal
// length. State is per process; a shared store implementation can replace
// it behind Limiter when several instances serve the same routes.
type FixedWindow struct {
	limit     int
	period    time.Duration
	now       func() time.Time
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

func NewFixedWindow(limit int, period time.Duration) *FixedWindow {
	return newFixedWindow(limit, period, time.Now)
}

func newFixedWindow(limit int, period time.Duration, now func() time.Time) *FixedWindow {
	if limit <= 0 {
		limit = 60
	}
	if period <= 0 {
		period = time.Minute
	}

	return &FixedWindow{
		limit:     limit,
		period:    period,
		now:       now,
		windows:   make(map[string]*window),
		lastSweep: now(),
	}
}

func (f *FixedWindow) Allow(key string) (bool, time.Duration) {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if now.Sub(f.lastSweep) >= f.period {
		f.sweep(now)
	}

	w, ok := f.windows[key]
	if !ok || now.Sub(w.start) >= f.period {
		f.windows[key] = &window{start: now, count: 1}
		return true, 0
	}

	if w.count >= f.limit {
		return false, w.start.Add(f.period).Sub(now)
	}

	w.count++
	return true, 0
}

// sweep drops windows that have ended.
func (f *FixedWindow) sweep(now time.Time) {
	for key, w := range f.windows {
		if now.Sub(w.start) >= f.period {
			delete(f.windows, key)
		}
	}
	f.lastSweep = now
}

// Unlimited never denies. It is used when rate limiting is disabled.
type Unlimited struct{}

func (Unlimited) Allow(string) (bool, time.Duration) { return true, 0 }
