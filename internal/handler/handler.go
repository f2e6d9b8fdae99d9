// Package handler implements the feed handler (component C4): it owns many
// feeds, starts all their session supervisors concurrently, optionally
// installs an NBBO aggregator, and supports cooperative shutdown.
//
// Follows a Start/Stop/wg.Wait() orchestrator idiom generalized from
// "market slots" to "feed slots".
package handler

import (
	"context"
	"log/slog"
	"sync"

	"feedhandler/internal/book"
	"feedhandler/internal/feed"
	"feedhandler/internal/nbbo"
	"feedhandler/internal/supervisor"
	"feedhandler/pkg/types"
)

// FeedSpec describes one feed slot to run.
type FeedSpec struct {
	URL     string
	Factory feed.Factory
}

// Handler owns the lifecycle of every configured feed's session supervisor.
type Handler struct {
	store    book.Store
	watchdog *supervisor.Watchdog
	nbbo     *nbbo.Aggregator
	logger   *slog.Logger

	mu    sync.Mutex
	feeds []FeedSpec

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store book.Store, logger *slog.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		store:    store,
		watchdog: supervisor.NewWatchdog(logger),
		logger:   logger.With("component", "handler"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddFeed registers a feed slot. Must be called before Run.
func (h *Handler) AddFeed(spec FeedSpec) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feeds = append(h.feeds, spec)
}

// AddNBBO installs an NBBO aggregator over the given pairs; if never
// called, no cross-venue best-bid/ask tracking runs.
func (h *Handler) AddNBBO(pairs []string, onUpdate func(nbbo.Quote)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nbbo = nbbo.NewAggregator(pairs, onUpdate)
}

// TickerSink returns a sink suitable for wiring into a feed's types.Sinks so
// that ticker events flow into the installed NBBO aggregator, if any.
func (h *Handler) TickerSink() func(types.TickerEvent) {
	h.mu.Lock()
	agg := h.nbbo
	h.mu.Unlock()
	if agg == nil {
		return nil
	}
	return agg.OnTicker
}

// Run starts a session supervisor goroutine per feed slot plus the shared
// watchdog, and blocks until ctx is cancelled or every feed session has
// exited on its own.
func (h *Handler) Run(ctx context.Context) error {
	h.mu.Lock()
	feeds := h.feeds
	h.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.watchdog.Run(runCtx)
	}()

	var feedsWG sync.WaitGroup
	for _, spec := range feeds {
		session := supervisor.NewSession(spec.URL, spec.Factory, h.watchdog, h.logger)
		h.wg.Add(1)
		feedsWG.Add(1)
		go func() {
			defer h.wg.Done()
			defer feedsWG.Done()
			if err := session.Run(runCtx); err != nil && runCtx.Err() == nil {
				h.logger.Error("feed session exited", "error", err)
			}
		}()
	}

	// If every feed session exits on its own (each independently exhausted
	// its retry cap) with no external cancellation, nothing is left driving
	// the handler: cancel runCtx so the watchdog goroutine stops too,
	// rather than blocking forever on runCtx.Done() while wg is already
	// satisfied.
	feedsDone := make(chan struct{})
	go func() {
		feedsWG.Wait()
		close(feedsDone)
	}()

	select {
	case <-runCtx.Done():
	case <-feedsDone:
		cancel()
	}
	h.wg.Wait()
	return runCtx.Err()
}

// Stop cancels all feed sessions and waits for them to exit.
func (h *Handler) Stop() {
	h.logger.Info("shutting down")
	h.cancel()
	h.wg.Wait()
	h.logger.Info("shutdown complete")
}
