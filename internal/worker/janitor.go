package worker

import (
	"context"
	"log/slog"
	"time"
)

const defaultJanitorInterval = time.Minute

// StaleEvicter drops state that ended before a cutoff.
type StaleEvicter interface {
	EvictStale(cutoff time.Time) int
}

// RateWindowJanitor periodically evicts ended rate-limit windows so the
// limiter's key set does not grow with every client ever seen.
type RateWindowJanitor struct {
	target   StaleEvicter
	interval time.Duration
	now      func() time.Time
}

// NewRateWindowJanitor creates a janitor sweeping target every interval
// (0 = one minute).
func NewRateWindowJanitor(target StaleEvicter, interval time.Duration) *RateWindowJanitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	return &RateWindowJanitor{target: target, interval: interval, now: time.Now}
}

// Name returns the worker identifier.
func (j *RateWindowJanitor) Name() string { return "ratelimit_janitor" }

// Run sweeps until ctx is cancelled.
func (j *RateWindowJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (j *RateWindowJanitor) sweep(ctx context.Context) {
	if n := j.target.EvictStale(j.now()); n > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "evicted stale rate windows",
			slog.Int("count", n),
		)
	}
}
