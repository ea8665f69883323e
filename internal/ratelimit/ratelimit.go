// Package ratelimit implements per-client fixed-window request counting.
package ratelimit

import (
	"sync"
	"time"
)

// GlobalKey is the limiter key used when no client identity is available.
const GlobalKey = "*"

// Config holds the window length and the request ceiling per window.
type Config struct {
	Window time.Duration
	Max    int64
}

// DefaultConfig returns 100 requests per 15 minutes.
func DefaultConfig() Config {
	return Config{Window: 15 * time.Minute, Max: 100}
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter returns the time left until the window resets, relative to now.
func (r Result) RetryAfter(now time.Time) time.Duration {
	return max(r.ResetAt.Sub(now), 0)
}

// Window counts requests for one key until resetAt.
type Window struct {
	mu      sync.Mutex
	count   int64
	resetAt time.Time
}

// admit counts one request against the window, resetting it first if the
// boundary has passed. The count never exceeds max within a window:
// denied requests are not counted.
func (w *Window) admit(cfg Config, now time.Time) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(cfg.Window)
	}

	if w.count >= cfg.Max {
		return Result{Allowed: false, Limit: cfg.Max, Remaining: 0, ResetAt: w.resetAt}
	}
	w.count++
	return Result{
		Allowed:   true,
		Limit:     cfg.Max,
		Remaining: cfg.Max - w.count,
		ResetAt:   w.resetAt,
	}
}

// expired reports whether the window ended before cutoff.
func (w *Window) expired(cutoff time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resetAt.Before(cutoff)
}

// Registry manages per-key windows.
type Registry struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	windows map[string]*Window
}

// NewRegistry creates a registry enforcing cfg for every key.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*Window),
	}
}

// Config returns the limits enforced by the registry.
func (r *Registry) Config() Config { return r.cfg }

// Admit counts a request for key and reports whether it is allowed.
// Denial is an expected outcome, not an error.
func (r *Registry) Admit(key string) Result {
	if key == "" {
		key = GlobalKey
	}
	return r.getOrCreate(key).admit(r.cfg, r.now())
}

// getOrCreate returns the window for key, creating one if needed.
func (r *Registry) getOrCreate(key string) *Window {
	r.mu.RLock()
	w, ok := r.windows[key]
	r.mu.RUnlock()
	if ok {
		return w
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if w, ok := r.windows[key]; ok {
		return w
	}
	w = &Window{}
	r.windows[key] = w
	return w
}

// EvictStale removes windows that ended before cutoff.
// An evicted key starts a fresh window on its next request, which is
// exactly what an ended window would have done.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, w := range r.windows {
		if w.expired(cutoff) {
			delete(r.windows, k)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.windows)
}
