package restfetch

import (
	"context"
	"log/slog"
	"time"
)

// Poller runs a periodic snapshot refresh for one pair, driven by a
// FeedConfig.Intervals entry — a ticker-driven Run loop generalized from
// market discovery polling to an arbitrary per-pair snapshot task.
type Poller struct {
	pair     string
	interval time.Duration
	fetch    func(ctx context.Context, pair string) error
	logger   *slog.Logger
}

// NewPoller builds a poller that invokes fetch every interval.
func NewPoller(pair string, interval time.Duration, fetch func(ctx context.Context, pair string) error, logger *slog.Logger) *Poller {
	return &Poller{pair: pair, interval: interval, fetch: fetch, logger: logger.With("component", "restfetch.poller", "pair", pair)}
}

// Run blocks until ctx is cancelled, calling fetch on every tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.fetch(ctx, p.pair); err != nil {
				p.logger.Warn("periodic snapshot fetch failed", "error", err)
			}
		}
	}
}
