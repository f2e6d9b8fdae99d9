package feed

import (
	"context"
	"testing"

	"feedhandler/internal/book"
	"feedhandler/pkg/types"
)

func TestPoloniexSnapshotThenOrderUpdate(t *testing.T) {
	ctx := context.Background()
	store := book.NewMemory()
	channelPairs := map[int64]string{14: "BTC_ETH"}
	p := NewPoloniex(channelPairs, []string{"BTC_ETH"}, store, types.Sinks{}, discardLogger())

	snapshot := `[14, 8766, [["i", {"currencyPair": "BTC_ETH", "orderBook": [{"0.0591": "35.2"}, {"0.0589": "10.1"}]}]]]`
	if err := p.HandleMessage(ctx, []byte(snapshot)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	size, ok, err := store.Get(ctx, "BTC_ETH", types.ASK, mustDecG(t, "0.0591"))
	if err != nil || !ok || !size.Equal(mustDecG(t, "35.2")) {
		t.Fatalf("expected ask 35.2, got %v ok=%v err=%v", size, ok, err)
	}
	bidSize, ok, err := store.Get(ctx, "BTC_ETH", types.BID, mustDecG(t, "0.0589"))
	if err != nil || !ok || !bidSize.Equal(mustDecG(t, "10.1")) {
		t.Fatalf("expected bid 10.1, got %v ok=%v err=%v", bidSize, ok, err)
	}

	update := `[14, 8767, [["o", 1, "0.0589", "20.0"]]]`
	if err := p.HandleMessage(ctx, []byte(update)); err != nil {
		t.Fatalf("update: %v", err)
	}
	bidSize, ok, err = store.Get(ctx, "BTC_ETH", types.BID, mustDecG(t, "0.0589"))
	if err != nil || !ok || !bidSize.Equal(mustDecG(t, "20.0")) {
		t.Fatalf("expected bid 20.0 after update, got %v ok=%v err=%v", bidSize, ok, err)
	}

	remove := `[14, 8768, [["o", 1, "0.0589", "0"]]]`
	if err := p.HandleMessage(ctx, []byte(remove)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, ok, err = store.Get(ctx, "BTC_ETH", types.BID, mustDecG(t, "0.0589"))
	if err != nil {
		t.Fatalf("Get after remove: %v", err)
	}
	if ok {
		t.Fatalf("level should be removed once amount hits zero")
	}
}

func TestPoloniexHeartbeatIgnored(t *testing.T) {
	ctx := context.Background()
	store := book.NewMemory()
	p := NewPoloniex(nil, nil, store, types.Sinks{}, discardLogger())
	if err := p.HandleMessage(ctx, []byte(`[1010]`)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}

func TestPoloniexTickerSubscribeAckIgnored(t *testing.T) {
	ctx := context.Background()
	store := book.NewMemory()
	var gotTicker bool
	sinks := types.Sinks{Ticker: func(types.TickerEvent) { gotTicker = true }}
	p := NewPoloniex(map[int64]string{7: "BTC_XMR"}, nil, store, sinks, discardLogger())

	ack := `[1002, 1]`
	if err := p.HandleMessage(ctx, []byte(ack)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if gotTicker {
		t.Fatalf("subscribe ack must not be treated as a ticker frame")
	}

	update := `[1002, null, ["7", "0.0591", "0.0593", "0.0589", "0.01", "3500", "207", "0", "0.06", "0.055"]]`
	if err := p.HandleMessage(ctx, []byte(update)); err != nil {
		t.Fatalf("ticker update: %v", err)
	}
	if !gotTicker {
		t.Fatalf("expected a ticker event from a real update frame")
	}
}
