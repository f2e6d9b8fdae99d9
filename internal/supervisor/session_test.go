package supervisor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"feedhandler/internal/feed"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

// TestNextBackoffDoublesAndCaps covers the reconnect backoff schedule as
// pure logic, independent of any real dial attempt.
func TestNextBackoffDoublesAndCaps(t *testing.T) {
	got := nextBackoff(initialBackoff)
	if got != 2*initialBackoff {
		t.Fatalf("expected backoff to double from %v, got %v", initialBackoff, got)
	}

	got = nextBackoff(got)
	if got != 4*initialBackoff {
		t.Fatalf("expected backoff to double again, got %v", got)
	}

	got = nextBackoff(maxBackoff)
	if got != maxBackoff {
		t.Fatalf("expected backoff to stay capped at %v, got %v", maxBackoff, got)
	}

	got = nextBackoff(maxBackoff / 2 * 3)
	if got != maxBackoff {
		t.Fatalf("expected doubling past the cap to clamp to %v, got %v", maxBackoff, got)
	}
}

type stubAdapter struct{ id string }

func (a stubAdapter) ID() string                                   { return a.id }
func (a stubAdapter) Subscribe(context.Context, feed.Sender) error { return nil }
func (a stubAdapter) HandleMessage(context.Context, []byte) error  { return nil }

// TestSessionAbandonsAfterMaxRetries drives a Session against an address no
// listener is bound to, so every dial attempt fails immediately, and
// asserts the session gives up once the retry cap is reached rather than
// reconnecting forever.
func TestSessionAbandonsAfterMaxRetries(t *testing.T) {
	factory := func() feed.Adapter { return stubAdapter{id: "test-venue"} }
	s := NewSession("ws://127.0.0.1:1", factory, nil, discardLogger()).WithMaxRetries(2)

	start := time.Now()
	err := s.Run(context.Background())
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected an error once the retry cap is exceeded")
	}
	if elapsed < initialBackoff {
		t.Fatalf("expected at least one backoff wait before abandoning, elapsed %v", elapsed)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("abandonment took too long, elapsed %v", elapsed)
	}
}

// TestSessionStopsOnContextCancellation covers that a cancelled context
// interrupts the retry loop immediately rather than waiting for the retry
// cap or a full backoff window.
func TestSessionStopsOnContextCancellation(t *testing.T) {
	factory := func() feed.Adapter { return stubAdapter{id: "test-venue"} }
	s := NewSession("ws://127.0.0.1:1", factory, nil, discardLogger()).WithMaxRetries(100)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
