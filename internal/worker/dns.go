package worker

import (
	"context"
	"time"
)

// Refresher refreshes cached DNS entries. *dnscache.Resolver satisfies it.
type Refresher interface {
	Refresh(clearUnused bool)
}

// DNSRefresher keeps the upstream DNS cache warm and drops hosts that
// have not been looked up since the previous pass.
type DNSRefresher struct {
	resolver Refresher
	interval time.Duration
}

// NewDNSRefresher creates a DNSRefresher running every interval.
func NewDNSRefresher(resolver Refresher, interval time.Duration) *DNSRefresher {
	return &DNSRefresher{resolver: resolver, interval: interval}
}

// Name returns the worker identifier.
func (w *DNSRefresher) Name() string { return "dns_refresh" }

// Run refreshes until ctx is cancelled.
func (w *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.resolver.Refresh(true)
		case <-ctx.Done():
			return nil
		}
	}
}
