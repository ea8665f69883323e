// Package circuitbreaker guards the upstream content service with a
// sliding-window error-rate breaker. While open, upstream calls fail
// immediately instead of waiting for the request timeout.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	ErrorThreshold float64       // weighted error rate to trip (e.g. 0.5)
	MinSamples     int           // minimum calls in the window before tripping
	Window         time.Duration // sliding window length, 1s resolution
	OpenTimeout    time.Duration // time in OPEN before a probe is allowed
}

// DefaultConfig returns defaults sized for a low-traffic single upstream.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.5,
		MinSamples:     5,
		Window:         30 * time.Second,
		OpenTimeout:    15 * time.Second,
	}
}

// slot aggregates outcomes for one second.
type slot struct {
	sec    int64
	errors float64
	total  int
}

// window is a ring of per-second slots. A slot whose sec falls outside
// the window is ignored on read and overwritten on write.
type window struct {
	slots []slot
}

func newWindow(d time.Duration) window {
	n := int(d / time.Second)
	if n <= 0 {
		n = 1
	}
	return window{slots: make([]slot, n)}
}

func (w *window) record(weight float64, now time.Time) {
	sec := now.Unix()
	s := &w.slots[sec%int64(len(w.slots))]
	if s.sec != sec {
		*s = slot{sec: sec}
	}
	s.total++
	s.errors += weight
}

func (w *window) rate(now time.Time) (float64, int) {
	sec := now.Unix()
	oldest := sec - int64(len(w.slots)) + 1
	var errs float64
	var total int
	for _, s := range w.slots {
		if s.sec >= oldest && s.sec <= sec {
			errs += s.errors
			total += s.total
		}
	}
	if total == 0 {
		return 0, 0
	}
	return errs / float64(total), total
}

func (w *window) reset() {
	clear(w.slots)
}

// Breaker is a circuit breaker state machine.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	win      window
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, win: newWindow(cfg.Window), now: time.Now}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. In HALF_OPEN exactly one
// probe is admitted until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	default: // StateHalfOpen
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Record feeds a call outcome into the breaker.
func (b *Breaker) Record(err error) {
	weight := ClassifyError(err)
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.win.record(weight, now)

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		if weight > 0 {
			b.state = StateOpen
			b.openedAt = now
			return
		}
		b.state = StateClosed
		b.win.reset()
	case StateClosed:
		if weight == 0 {
			return
		}
		rate, samples := b.win.rate(now)
		if samples >= b.cfg.MinSamples && rate >= b.cfg.ErrorThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	}
}

// Do runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	b.Record(err)
	return err
}
