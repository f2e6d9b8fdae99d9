package feed

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"feedhandler/internal/book"
	"feedhandler/pkg/types"
)

type fakeFetcher struct {
	calls int
	snap  L3Snapshot
	err   error
}

func (f *fakeFetcher) FetchL3Snapshot(ctx context.Context, pair string) (L3Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestGDAX(fetcher SnapshotFetcher) (*GDAX, book.Store) {
	store := book.NewMemory()
	g := NewGDAX([]string{"BTC-USD"}, []string{"full"}, store, types.Sinks{}, fetcher, discardLogger())
	return g, store
}

func TestGDAXSequenceGapTriggersSnapshotWithoutAdvancingCursor(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{snap: L3Snapshot{
		Sequence: 100,
		Bids:     []L3SnapshotLevel{{OrderID: "o1", Price: mustDecG(t, "10.00"), Size: mustDecG(t, "1")}},
		Asks:     []L3SnapshotLevel{{OrderID: "o2", Price: mustDecG(t, "11.00"), Size: mustDecG(t, "1")}},
	}}
	g, store := newTestGDAX(fetcher)

	first := `{"type":"open","product_id":"BTC-USD","sequence":1,"order_id":"a","side":"buy","price":"9.50","remaining_size":"1"}`
	if err := g.HandleMessage(ctx, []byte(first)); err != nil {
		t.Fatalf("first message: %v", err)
	}
	if g.seqNo["BTC-USD"] != 1 {
		t.Fatalf("expected cursor 1, got %d", g.seqNo["BTC-USD"])
	}

	gapped := `{"type":"open","product_id":"BTC-USD","sequence":50,"order_id":"b","side":"buy","price":"9.60","remaining_size":"1"}`
	if err := g.HandleMessage(ctx, []byte(gapped)); err != nil {
		t.Fatalf("gapped message: %v", err)
	}

	if fetcher.calls != 1 {
		t.Fatalf("expected exactly one snapshot refetch, got %d", fetcher.calls)
	}
	if g.seqNo["BTC-USD"] != 100 {
		t.Fatalf("cursor should be re-seeded from snapshot sequence, got %d", g.seqNo["BTC-USD"])
	}

	bk, err := store.GetPairBook(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("GetPairBook: %v", err)
	}
	if len(bk.Bids) != 1 || !bk.Bids[0].Price.Equal(mustDecG(t, "10.00")) {
		t.Fatalf("book not reseeded from snapshot: %+v", bk)
	}
}

func TestGDAXDropsStaleSequence(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{}
	g, _ := newTestGDAX(fetcher)

	msg1 := `{"type":"open","product_id":"BTC-USD","sequence":5,"order_id":"a","side":"buy","price":"9.50","remaining_size":"1"}`
	if err := g.HandleMessage(ctx, []byte(msg1)); err != nil {
		t.Fatalf("msg1: %v", err)
	}
	stale := `{"type":"open","product_id":"BTC-USD","sequence":3,"order_id":"b","side":"buy","price":"9.60","remaining_size":"1"}`
	if err := g.HandleMessage(ctx, []byte(stale)); err != nil {
		t.Fatalf("stale: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("stale sequence must not trigger a refetch, got %d calls", fetcher.calls)
	}
	if g.seqNo["BTC-USD"] != 5 {
		t.Fatalf("stale message must not move the cursor, got %d", g.seqNo["BTC-USD"])
	}
}

func TestGDAXOpenDoneLifecycle(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGDAX(&fakeFetcher{})

	open := `{"type":"open","product_id":"BTC-USD","sequence":1,"order_id":"x","side":"sell","price":"20.00","remaining_size":"2"}`
	if err := g.HandleMessage(ctx, []byte(open)); err != nil {
		t.Fatalf("open: %v", err)
	}
	size, ok, err := store.Get(ctx, "BTC-USD", types.ASK, mustDecG(t, "20.00"))
	if err != nil || !ok || !size.Equal(mustDecG(t, "2")) {
		t.Fatalf("expected resting ask size 2, got %v ok=%v err=%v", size, ok, err)
	}

	done := `{"type":"done","product_id":"BTC-USD","sequence":2,"order_id":"x","side":"sell","price":"20.00"}`
	if err := g.HandleMessage(ctx, []byte(done)); err != nil {
		t.Fatalf("done: %v", err)
	}
	_, ok, err = store.Get(ctx, "BTC-USD", types.ASK, mustDecG(t, "20.00"))
	if err != nil {
		t.Fatalf("Get after done: %v", err)
	}
	if ok {
		t.Fatalf("level should be removed after done closes the only resting order")
	}
}

func mustDecG(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}
