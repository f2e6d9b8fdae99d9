package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"feedhandler/internal/feed"
)

const (
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
	defaultMaxRetry = 10
	readTimeout     = 90 * time.Second
	writeTimeout    = 10 * time.Second
)

// Session owns one feed's connection lifecycle: dial, subscribe, read loop,
// and reconnect with exponential backoff up to a bound. Follows the same
// dial/read-loop/reconnect shape as a single fixed-venue websocket client,
// generalized to any feed.Adapter.
type Session struct {
	url        string
	factory    feed.Factory
	maxRetries int
	watchdog   *Watchdog
	logger     *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewSession constructs a supervisor for one feed with the default cap of
// 10 failed connection attempts before the feed is abandoned. The attempt
// count is never reset, so the cap counts every failure over the session's
// lifetime.
func NewSession(url string, factory feed.Factory, watchdog *Watchdog, logger *slog.Logger) *Session {
	return &Session{
		url:        url,
		factory:    factory,
		maxRetries: defaultMaxRetry,
		watchdog:   watchdog,
		logger:     logger,
	}
}

// WithMaxRetries overrides the default retry cap; n <= 0 keeps the current
// cap.
func (s *Session) WithMaxRetries(n int) *Session {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

// Run connects and maintains the connection, reconnecting with exponential
// backoff until ctx is cancelled or the retry cap is exceeded, in which
// case the feed is abandoned (logged) without affecting sibling feeds.
func (s *Session) Run(ctx context.Context) error {
	backoff := initialBackoff
	attempt := 0

	for {
		adapter := s.factory()
		logger := s.logger.With("feed", adapter.ID())

		err := s.connectAndRead(ctx, adapter, logger)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if attempt >= s.maxRetries {
			logger.Error("feed abandoned after exceeding retry cap", "attempts", attempt, "error", err)
			return fmt.Errorf("feed %s abandoned after %d attempts: %w", adapter.ID(), attempt, err)
		}

		logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff, "attempt", attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff)
	}
}

// nextBackoff doubles cur, capped at maxBackoff.
func nextBackoff(cur time.Duration) time.Duration {
	cur *= 2
	if cur > maxBackoff {
		cur = maxBackoff
	}
	return cur
}

func (s *Session) connectAndRead(ctx context.Context, adapter feed.Adapter, logger *slog.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	send := func(ctx context.Context, v any) error {
		s.connMu.Lock()
		defer s.connMu.Unlock()
		if s.conn == nil {
			return fmt.Errorf("websocket not connected")
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return s.conn.WriteJSON(v)
	}

	if err := adapter.Subscribe(ctx, send); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	logger.Info("feed connected")

	var stale <-chan StaleSignal
	if s.watchdog != nil {
		stale = s.watchdog.Stale()
	}

	msgCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return fmt.Errorf("read: %w", err)
		case sig := <-stale:
			if sig.Feed == adapter.ID() {
				return fmt.Errorf("feed %s: %s", sig.Feed, "stale connection force-closed")
			}
		case msg := <-msgCh:
			if s.watchdog != nil {
				s.watchdog.Report(adapter.ID())
			}
			if err := adapter.HandleMessage(ctx, msg); err != nil {
				logger.Warn("message handling error", "error", err)
			}
		}
	}
}
