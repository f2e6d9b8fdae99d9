package nbbo

import (
	"testing"

	"github.com/shopspring/decimal"

	"feedhandler/pkg/types"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestAggregatorPicksBestAcrossFeeds(t *testing.T) {
	var got Quote
	a := NewAggregator([]string{"BTC-USD"}, func(q Quote) { got = q })

	a.OnTicker(types.TickerEvent{Feed: "bitfinex", Pair: "BTC-USD", Bid: dec(t, "100.0"), Ask: dec(t, "100.5")})
	a.OnTicker(types.TickerEvent{Feed: "bitmex", Pair: "BTC-USD", Bid: dec(t, "100.2"), Ask: dec(t, "100.4")})

	if got.BidFeed != "bitmex" || !got.Bid.Equal(dec(t, "100.2")) {
		t.Fatalf("expected bitmex to win best bid, got %+v", got)
	}
	if got.AskFeed != "bitmex" || !got.Ask.Equal(dec(t, "100.4")) {
		t.Fatalf("expected bitmex to win best ask, got %+v", got)
	}
}

func TestAggregatorIgnoresOutOfScopePair(t *testing.T) {
	called := false
	a := NewAggregator([]string{"BTC-USD"}, func(Quote) { called = true })
	a.OnTicker(types.TickerEvent{Feed: "bitfinex", Pair: "ETH-USD", Bid: dec(t, "1"), Ask: dec(t, "2")})
	if called {
		t.Fatalf("onUpdate must not fire for a pair outside the configured scope")
	}
}

func TestAggregatorSkipsUpdateWhenBestUnchanged(t *testing.T) {
	calls := 0
	a := NewAggregator([]string{"BTC-USD"}, func(Quote) { calls++ })

	a.OnTicker(types.TickerEvent{Feed: "bitfinex", Pair: "BTC-USD", Bid: dec(t, "100.0"), Ask: dec(t, "100.5")})
	if calls != 1 {
		t.Fatalf("expected the first ticker to fire onUpdate, got %d calls", calls)
	}

	// Same feed reports an identical quote again: the cross-venue best has
	// not changed, so onUpdate must not re-fire.
	a.OnTicker(types.TickerEvent{Feed: "bitfinex", Pair: "BTC-USD", Bid: dec(t, "100.0"), Ask: dec(t, "100.5")})
	if calls != 1 {
		t.Fatalf("expected onUpdate not to re-fire for an unchanged best, got %d calls", calls)
	}

	// A different feed reporting a worse quote also leaves the best
	// unchanged.
	a.OnTicker(types.TickerEvent{Feed: "bitmex", Pair: "BTC-USD", Bid: dec(t, "99.0"), Ask: dec(t, "101.0")})
	if calls != 1 {
		t.Fatalf("expected onUpdate not to fire when the reported quote does not improve the best, got %d calls", calls)
	}

	// An actual improvement must fire again.
	a.OnTicker(types.TickerEvent{Feed: "bitmex", Pair: "BTC-USD", Bid: dec(t, "100.3"), Ask: dec(t, "100.5")})
	if calls != 2 {
		t.Fatalf("expected onUpdate to fire once the best bid improves, got %d calls", calls)
	}
}

func TestAggregatorBestReflectsLatestPerFeed(t *testing.T) {
	a := NewAggregator(nil, nil)
	a.OnTicker(types.TickerEvent{Feed: "a", Pair: "X", Bid: dec(t, "10"), Ask: dec(t, "11")})
	a.OnTicker(types.TickerEvent{Feed: "a", Pair: "X", Bid: dec(t, "12"), Ask: dec(t, "13")})

	q, ok := a.Best("X")
	if !ok {
		t.Fatalf("expected a best quote")
	}
	if !q.Bid.Equal(dec(t, "12")) || !q.Ask.Equal(dec(t, "13")) {
		t.Fatalf("expected feed's quote to be replaced, not merged: %+v", q)
	}
}
