// Feed Handler — a multi-exchange crypto market-data feed handler. It
// connects to several venues concurrently, normalizes each venue's wire
// protocol into a shared order-book store and event vocabulary, and
// optionally computes a cross-venue best bid/ask (NBBO).
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts the handler, waits for SIGINT/SIGTERM
//	internal/handler           — orchestrator: owns every feed's session supervisor, cooperative shutdown
//	internal/supervisor        — per-feed connection lifecycle: dial, subscribe, read loop, reconnect, watchdog
//	internal/feed              — one state machine per venue wire protocol (bitfinex, bitmex, gdax, gemini, poloniex)
//	internal/book              — the order-book store (in-process or Redis-backed)
//	internal/nbbo              — cross-venue best bid/ask aggregation
//	internal/restfetch         — REST snapshot re-fetch client, used on sequence gaps and periodic polling
//	internal/monitor           — read-only debug HTTP+SSE introspection surface
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedhandler/internal/book"
	"feedhandler/internal/config"
	"feedhandler/internal/feed"
	"feedhandler/internal/handler"
	"feedhandler/internal/monitor"
	"feedhandler/internal/nbbo"
	"feedhandler/internal/restfetch"
	"feedhandler/pkg/types"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("FH_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var logHandler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Handler.Logging.Level)}
	if cfg.Handler.Logging.Format == "json" {
		logHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(logHandler)

	sharedStore := book.NewMemory()
	h := handler.New(sharedStore, logger)

	var monitorServer *monitor.Server
	if cfg.Handler.Monitor.Enabled {
		monitorServer = monitor.NewServer(cfg.Handler.Monitor.Addr, sharedStore, logger)
		go func() {
			if err := monitorServer.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
		logger.Info("monitor surface started", "addr", cfg.Handler.Monitor.Addr)
	}

	if len(cfg.Handler.NBBO.Pairs) > 0 {
		h.AddNBBO(cfg.Handler.NBBO.Pairs, buildNBBOSink(monitorServer, logger))
	}

	runCtx, cancel := context.WithCancel(context.Background())

	for _, fc := range cfg.Feeds {
		store := resolveStore(fc, sharedStore, logger)
		sinks := buildSinks(h, monitorServer)
		factory := buildFactory(fc, store, sinks, logger)
		if factory == nil {
			logger.Error("unknown venue, skipping feed", "venue", fc.Venue)
			continue
		}
		h.AddFeed(handler.FeedSpec{URL: fc.Endpoint, Factory: factory})

		for pair, interval := range fc.Intervals {
			startPoller(runCtx, fc, store, pair, interval, logger)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		if monitorServer != nil {
			if err := monitorServer.Stop(); err != nil {
				logger.Error("failed to stop monitor server", "error", err)
			}
		}
		cancel()
	}()

	logger.Info("feed handler started", "feeds", len(cfg.Feeds), "retries", cfg.Handler.Retries)
	if err := h.Run(runCtx); err != nil && runCtx.Err() == nil {
		logger.Error("feed handler exited with error", "error", err)
		os.Exit(1)
	}
}

// startPoller launches a periodic REST snapshot refresh for one feed/pair,
// per that feed's configured Intervals entry. The poller stops when ctx is
// cancelled.
func startPoller(ctx context.Context, fc config.FeedConfig, store book.Store, pair string, interval time.Duration, logger *slog.Logger) {
	client := restfetch.New(fc.Endpoint)
	poller := restfetch.NewPoller(pair, interval, func(ctx context.Context, pair string) error {
		return client.ApplySnapshot(ctx, store, pair)
	}, logger)
	go poller.Run(ctx)
}

// buildNBBOSink surfaces the computed cross-venue best: broadcast to the
// monitor hub if enabled, and always logged.
func buildNBBOSink(mon *monitor.Server, logger *slog.Logger) func(nbbo.Quote) {
	return func(q nbbo.Quote) {
		logger.Info("nbbo update", "pair", q.Pair, "bid", q.Bid, "bidFeed", q.BidFeed, "ask", q.Ask, "askFeed", q.AskFeed)
		if mon != nil {
			mon.Hub().Broadcast(monitor.Event{Kind: "nbbo", Data: q})
		}
	}
}

func resolveStore(fc config.FeedConfig, shared book.Store, logger *slog.Logger) book.Store {
	switch fc.OrderBookBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: fc.Redis.Addr, Password: fc.Redis.Password, DB: fc.Redis.DB})
		return book.NewRedis(client, fc.Venue)
	default:
		return shared
	}
}

// buildSinks forwards every normalized event to the monitor SSE hub (if
// enabled) and tickers to the NBBO aggregator (if installed).
func buildSinks(h *handler.Handler, mon *monitor.Server) types.Sinks {
	tickerSink := h.TickerSink()
	broadcast := func(kind string, data any) {
		if mon != nil {
			mon.Hub().Broadcast(monitor.Event{Kind: kind, Data: data})
		}
	}
	return types.Sinks{
		Ticker: func(e types.TickerEvent) {
			broadcast("ticker", e)
			if tickerSink != nil {
				tickerSink(e)
			}
		},
		Trades:       func(e types.TradeEvent) { broadcast("trade", e) },
		L2Book:       func(e types.L2BookEvent) { broadcast("l2book", e) },
		L3Book:       func(e types.L3BookEvent) { broadcast("l3book", e) },
		L3BookUpdate: func(e types.L3BookUpdateEvent) { broadcast("l3update", e) },
		Volume:       func(e types.VolumeEvent) { broadcast("volume", e) },
	}
}

func buildFactory(fc config.FeedConfig, store book.Store, sinks types.Sinks, logger *slog.Logger) feed.Factory {
	switch fc.Venue {
	case "bitfinex":
		return func() feed.Adapter { return feed.NewBitfinex(fc.Pairs, fc.Channels, store, sinks, logger) }
	case "bitmex":
		return func() feed.Adapter { return feed.NewBitMEX(fc.Pairs, fc.Channels, store, sinks, logger) }
	case "gdax":
		fetcher := restfetch.New(fc.Endpoint)
		return func() feed.Adapter { return feed.NewGDAX(fc.Pairs, fc.Channels, store, sinks, fetcher, logger) }
	case "gemini":
		if len(fc.Pairs) != 1 {
			logger.Error("gemini requires exactly one pair per feed", "pairs", fc.Pairs)
			return nil
		}
		pair := fc.Pairs[0]
		return func() feed.Adapter { return feed.NewGemini(pair, store, sinks, logger) }
	case "poloniex":
		channelPairs := make(map[int64]string)
		return func() feed.Adapter { return feed.NewPoloniex(channelPairs, fc.Channels, store, sinks, logger) }
	default:
		return nil
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
