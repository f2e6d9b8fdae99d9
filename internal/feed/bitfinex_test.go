package feed

import (
	"context"
	"strconv"
	"testing"

	"feedhandler/internal/book"
	"feedhandler/pkg/types"
)

func newTestBitfinex() (*Bitfinex, book.Store) {
	store := book.NewMemory()
	bf := NewBitfinex([]string{"BTCUSD"}, []string{"book-R0-F0-100"}, store, types.Sinks{}, discardLogger())
	return bf, store
}

func subscribeRawBook(t *testing.T, bf *Bitfinex, chanID int64, pair string) {
	t.Helper()
	ack := `{"event":"subscribe","channel":"book","symbol":"` + pair + `","chanId":` + strconv.FormatInt(chanID, 10) + `,"prec":"R0"}`
	if err := bf.HandleMessage(context.Background(), []byte(ack)); err != nil {
		t.Fatalf("subscribe ack: %v", err)
	}
}

func subscribeAggBook(t *testing.T, bf *Bitfinex, chanID int64, pair string) {
	t.Helper()
	ack := `{"event":"subscribe","channel":"book","symbol":"` + pair + `","chanId":` + strconv.FormatInt(chanID, 10) + `,"prec":"P0"}`
	if err := bf.HandleMessage(context.Background(), []byte(ack)); err != nil {
		t.Fatalf("subscribe ack: %v", err)
	}
}

// TestBitfinexRawBookReKeyReversesOldLevel covers the raw-book (prec=R0)
// re-keying case: an order already resting at one price moves to a new
// price in a single update. The old level's contribution must be fully
// reversed, not left as a stale residual alongside the new level.
func TestBitfinexRawBookReKeyReversesOldLevel(t *testing.T) {
	ctx := context.Background()
	bf, store := newTestBitfinex()
	subscribeRawBook(t, bf, 5, "BTCUSD")

	snapshot := `[5,[[1001,100.0,2.0]]]`
	if err := bf.HandleMessage(ctx, []byte(snapshot)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	size, ok, err := store.Get(ctx, "BTCUSD", types.BID, mustDecG(t, "100.0"))
	if err != nil || !ok || !size.Equal(mustDecG(t, "2.0")) {
		t.Fatalf("expected resting bid size 2.0 at 100.0, got %v ok=%v err=%v", size, ok, err)
	}

	// Order 1001 re-keys from 100.0 to 101.0.
	rekey := `[5,[1001,101.0,2.0]]`
	if err := bf.HandleMessage(ctx, []byte(rekey)); err != nil {
		t.Fatalf("re-key update: %v", err)
	}

	_, ok, err = store.Get(ctx, "BTCUSD", types.BID, mustDecG(t, "100.0"))
	if err != nil {
		t.Fatalf("Get old level: %v", err)
	}
	if ok {
		t.Fatalf("old price level must be fully reversed after re-key, not left resting")
	}
	size, ok, err = store.Get(ctx, "BTCUSD", types.BID, mustDecG(t, "101.0"))
	if err != nil || !ok || !size.Equal(mustDecG(t, "2.0")) {
		t.Fatalf("expected the re-keyed level at 101.0 to carry exactly the moved size, got %v ok=%v err=%v", size, ok, err)
	}
}

// TestBitfinexRawBookCancelReversesContribution covers a plain cancellation
// (price sent as 0) of a tracked order.
func TestBitfinexRawBookCancelReversesContribution(t *testing.T) {
	ctx := context.Background()
	bf, store := newTestBitfinex()
	subscribeRawBook(t, bf, 5, "BTCUSD")

	snapshot := `[5,[[2002,50.5,3.0]]]`
	if err := bf.HandleMessage(ctx, []byte(snapshot)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	cancel := `[5,[2002,0,0]]`
	if err := bf.HandleMessage(ctx, []byte(cancel)); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, ok, err := store.Get(ctx, "BTCUSD", types.BID, mustDecG(t, "50.5"))
	if err != nil {
		t.Fatalf("Get after cancel: %v", err)
	}
	if ok {
		t.Fatalf("level should be removed after the only order at it cancels")
	}
}

// TestBitfinexAggregatedBookSnapshotAndDelete covers Venue A's aggregated
// (non-R0) book channel: a snapshot populates levels directly by price, and
// a zero-count update removes a level entirely.
func TestBitfinexAggregatedBookSnapshotAndDelete(t *testing.T) {
	ctx := context.Background()
	bf, store := newTestBitfinex()
	subscribeAggBook(t, bf, 7, "BTCUSD")

	snapshot := `[7,[[100.0,1,2.0],[99.0,1,-1.0]]]`
	if err := bf.HandleMessage(ctx, []byte(snapshot)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	bk, err := store.GetPairBook(ctx, "BTCUSD")
	if err != nil {
		t.Fatalf("GetPairBook: %v", err)
	}
	if len(bk.Bids) != 1 || len(bk.Asks) != 1 {
		t.Fatalf("expected one bid and one ask level after snapshot, got %+v", bk)
	}

	del := `[7,[100.0,0,1.0]]`
	if err := bf.HandleMessage(ctx, []byte(del)); err != nil {
		t.Fatalf("delete update: %v", err)
	}
	_, ok, err := store.Get(ctx, "BTCUSD", types.BID, mustDecG(t, "100.0"))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Fatalf("level at 100.0 should be removed by the count=0 update")
	}
}
