package feed

import (
	"context"
	"testing"

	"feedhandler/internal/book"
	"feedhandler/pkg/types"
)

func newTestBitMEX(sinks types.Sinks) (*BitMEX, book.Store) {
	store := book.NewMemory()
	bm := NewBitMEX([]string{"XBTUSD"}, []string{"orderBookL2"}, store, sinks, discardLogger())
	return bm, store
}

// TestBitMEXDiscardsBookMessagesBeforePartial covers Venue B's rule that no
// insert/update/delete is applied until the first partial snapshot arrives.
func TestBitMEXDiscardsBookMessagesBeforePartial(t *testing.T) {
	ctx := context.Background()
	bm, store := newTestBitMEX(types.Sinks{})

	insert := `{"table":"orderBookL2","action":"insert","data":[{"symbol":"XBTUSD","id":1,"side":"Buy","price":"100.0","size":"5"}]}`
	if err := bm.HandleMessage(ctx, []byte(insert)); err != nil {
		t.Fatalf("insert before partial: %v", err)
	}
	_, ok, err := store.Get(ctx, "XBTUSD", types.BID, mustDecG(t, "100.0"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("book messages before the first partial must be discarded")
	}
}

// TestBitMEXPartialInsertUpdateDeleteLifecycle drives the full table/action
// lifecycle and asserts the store reflects each step, and that the
// aggregated book publishes as an L2 event, never an L3 event: BitMEX's
// orderBookL2 channel carries no per-order timestamp or sequence, so
// emitting L3BookEvent here would break the sink contract end-to-end.
func TestBitMEXPartialInsertUpdateDeleteLifecycle(t *testing.T) {
	ctx := context.Background()
	var l2Count, l3Count int
	var lastBook types.Book
	sinks := types.Sinks{
		L2Book: func(e types.L2BookEvent) { l2Count++; lastBook = e.Book },
		L3Book: func(e types.L3BookEvent) { l3Count++ },
	}
	bm, store := newTestBitMEX(sinks)

	partial := `{"table":"orderBookL2","action":"partial","data":[{"symbol":"XBTUSD","id":1,"side":"Buy","price":"100.0","size":"5"},{"symbol":"XBTUSD","id":2,"side":"Sell","price":"101.0","size":"3"}]}`
	if err := bm.HandleMessage(ctx, []byte(partial)); err != nil {
		t.Fatalf("partial: %v", err)
	}
	size, ok, err := store.Get(ctx, "XBTUSD", types.BID, mustDecG(t, "100.0"))
	if err != nil || !ok || !size.Equal(mustDecG(t, "5")) {
		t.Fatalf("expected bid 5 at 100.0 after partial, got %v ok=%v err=%v", size, ok, err)
	}

	insert := `{"table":"orderBookL2","action":"insert","data":[{"symbol":"XBTUSD","id":3,"side":"Buy","price":"99.0","size":"2"}]}`
	if err := bm.HandleMessage(ctx, []byte(insert)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	size, ok, err = store.Get(ctx, "XBTUSD", types.BID, mustDecG(t, "99.0"))
	if err != nil || !ok || !size.Equal(mustDecG(t, "2")) {
		t.Fatalf("expected bid 2 at 99.0 after insert, got %v ok=%v err=%v", size, ok, err)
	}

	update := `{"table":"orderBookL2","action":"update","data":[{"symbol":"XBTUSD","id":1,"side":"Buy","size":"8"}]}`
	if err := bm.HandleMessage(ctx, []byte(update)); err != nil {
		t.Fatalf("update: %v", err)
	}
	size, ok, err = store.Get(ctx, "XBTUSD", types.BID, mustDecG(t, "100.0"))
	if err != nil || !ok || !size.Equal(mustDecG(t, "8")) {
		t.Fatalf("expected bid 8 at 100.0 after update, got %v ok=%v err=%v", size, ok, err)
	}

	del := `{"table":"orderBookL2","action":"delete","data":[{"symbol":"XBTUSD","id":2,"side":"Sell"}]}`
	if err := bm.HandleMessage(ctx, []byte(del)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err = store.Get(ctx, "XBTUSD", types.ASK, mustDecG(t, "101.0"))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Fatalf("ask level at 101.0 should be removed after delete")
	}

	if l2Count == 0 {
		t.Fatalf("expected at least one L2Book publish across the lifecycle")
	}
	if l3Count != 0 {
		t.Fatalf("orderBookL2 is a price-aggregated channel and must never publish L3BookEvent, got %d", l3Count)
	}
	if len(lastBook.Bids) == 0 {
		t.Fatalf("expected the last published book to carry resting bid levels: %+v", lastBook)
	}
}
