package worker

import (
	"context"
	"time"

	"github.com/rs/dnscache"
)

// DNSRefresher periodically re-resolves cached DNS entries so the origin
// client never dials a long-dead address.
type DNSRefresher struct {
	resolver *dnscache.Resolver
	every    time.Duration
}

// NewDNSRefresher creates a DNSRefresher.
func NewDNSRefresher(resolver *dnscache.Resolver, every time.Duration) *DNSRefresher {
	if every <= 0 {
		every = 5 * time.Minute
	}
	return &DNSRefresher{resolver: resolver, every: every}
}

// Run refreshes the resolver cache until ctx is cancelled.
func (d *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.resolver.Refresh(true)
		}
	}
}
