package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"feedhandler/internal/book"
	"feedhandler/internal/ferr"
	"feedhandler/pkg/types"
)

// L3SnapshotLevel is one resting order returned by a full-order REST
// snapshot, keyed by the venue's own order id.
type L3SnapshotLevel struct {
	OrderID string
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// L3Snapshot is the result of a REST full order-book fetch, used to re-seed
// state after a sequence gap.
type L3Snapshot struct {
	Sequence int64
	Bids     []L3SnapshotLevel
	Asks     []L3SnapshotLevel
}

// SnapshotFetcher re-fetches a full L3 order book over REST. Implemented by
// internal/restfetch for production use; adapters accept the interface so
// tests can substitute a fake.
type SnapshotFetcher interface {
	FetchL3Snapshot(ctx context.Context, pair string) (L3Snapshot, error)
}

// GDAX is Venue C: a sequenced full-order-feed adapter. Every frame
// carrying a sequence number advances a per-pair cursor; a gap larger than
// one triggers a REST snapshot re-fetch. The gap branch must NOT advance
// the cursor itself — the re-seeded cursor comes only from the snapshot
// response.
type GDAX struct {
	pairs    []string
	channels []string
	store    book.Store
	sinks    types.Sinks
	fetcher  SnapshotFetcher
	logger   *slog.Logger

	seqNo    map[string]int64
	orderMap map[string]types.OrderRef // order id -> ref (global, matches original's single order_map)
}

func NewGDAX(pairs, channels []string, store book.Store, sinks types.Sinks, fetcher SnapshotFetcher, logger *slog.Logger) *GDAX {
	return &GDAX{
		pairs:    pairs,
		channels: channels,
		store:    store,
		sinks:    sinks,
		fetcher:  fetcher,
		logger:   logger.With("venue", "gdax"),
		seqNo:    make(map[string]int64),
		orderMap: make(map[string]types.OrderRef),
	}
}

func (g *GDAX) ID() string { return "gdax" }

func (g *GDAX) Subscribe(ctx context.Context, send Sender) error {
	msg := struct {
		Type       string   `json:"type"`
		ProductIDs []string `json:"product_ids"`
		Channels   []string `json:"channels"`
	}{Type: "subscribe", ProductIDs: g.pairs, Channels: g.channels}
	if err := send(ctx, msg); err != nil {
		return fmt.Errorf("gdax subscribe: %w", err)
	}
	for _, pair := range g.pairs {
		if err := g.refreshSnapshot(ctx, pair); err != nil {
			g.logger.Warn("initial snapshot fetch failed", "pair", pair, "error", err)
		}
	}
	return nil
}

type gdaxFrame struct {
	Type        string      `json:"type"`
	Sequence    *int64      `json:"sequence"`
	ProductID   string      `json:"product_id"`
	Price       json.Number `json:"price"`
	Side        string      `json:"side"`
	Size        json.Number `json:"size"`
	RemainingSz json.Number `json:"remaining_size"`
	NewSize     json.Number `json:"new_size"`
	OldSize     json.Number `json:"old_size"`
	OrderID     string      `json:"order_id"`
	MakerID     string      `json:"maker_order_id"`
	TradeID     int64       `json:"trade_id"`
	Time        string      `json:"time"`
	BestBid     json.Number `json:"best_bid"`
	BestAsk     json.Number `json:"best_ask"`
	Bids        [][]string  `json:"bids"`
	Asks        [][]string  `json:"asks"`
	Changes     [][]string  `json:"changes"`
}

func (g *GDAX) HandleMessage(ctx context.Context, raw []byte) error {
	var f gdaxFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("gdax: %w: %v", ferr.ErrProtocolMalformed, err)
	}

	if f.Sequence != nil && f.ProductID != "" {
		gap, drop := g.checkSequence(f.ProductID, *f.Sequence)
		if drop {
			return nil
		}
		if gap {
			g.logger.Warn("sequence gap detected, requesting snapshot", "pair", f.ProductID)
			if err := g.refreshSnapshot(ctx, f.ProductID); err != nil {
				return fmt.Errorf("gdax sequence gap refetch: %w", err)
			}
			return nil
		}
	}

	switch f.Type {
	case "ticker":
		return g.handleTicker(f)
	case "match", "last_match":
		return g.handleMatch(ctx, f)
	case "snapshot":
		return g.handleL2Snapshot(ctx, f)
	case "l2update":
		return g.handleL2Update(ctx, f)
	case "open":
		return g.handleOpen(ctx, f)
	case "done":
		return g.handleDone(ctx, f)
	case "change":
		return g.handleChange(ctx, f)
	case "received", "activate", "subscriptions":
		return nil
	default:
		g.logger.Warn("unexpected message type", "type", f.Type)
		return nil
	}
}

// checkSequence applies the cursor discipline: if absent, initialize; if
// <= cursor, drop; if > cursor+1, signal a gap WITHOUT advancing the
// cursor (the refetch, once it completes, re-seeds the cursor from the
// snapshot's own sequence); otherwise advance by one.
func (g *GDAX) checkSequence(pair string, seq int64) (gap bool, drop bool) {
	cursor, ok := g.seqNo[pair]
	if !ok {
		g.seqNo[pair] = seq
		return false, false
	}
	if seq <= cursor {
		return false, true
	}
	if seq != cursor+1 {
		return true, false
	}
	g.seqNo[pair] = seq
	return false, false
}

func (g *GDAX) refreshSnapshot(ctx context.Context, pair string) error {
	if g.fetcher == nil {
		return fmt.Errorf("gdax refreshSnapshot %s: no fetcher configured", pair)
	}
	snap, err := g.fetcher.FetchL3Snapshot(ctx, pair)
	if err != nil {
		return fmt.Errorf("gdax refreshSnapshot: %w", err)
	}

	bidLevels := map[string]decimal.Decimal{}
	for _, o := range snap.Bids {
		bidLevels[o.Price.String()] = bidLevels[o.Price.String()].Add(o.Size)
		g.orderMap[o.OrderID] = types.OrderRef{Price: o.Price, Size: o.Size, Side: types.BID}
	}
	askLevels := map[string]decimal.Decimal{}
	for _, o := range snap.Asks {
		askLevels[o.Price.String()] = askLevels[o.Price.String()].Add(o.Size)
		g.orderMap[o.OrderID] = types.OrderRef{Price: o.Price, Size: o.Size, Side: types.ASK}
	}

	var book types.Book
	for p, sz := range bidLevels {
		d, _ := decimal.NewFromString(p)
		book.Bids = append(book.Bids, types.PriceLevel{Price: d, Size: sz})
	}
	for p, sz := range askLevels {
		d, _ := decimal.NewFromString(p)
		book.Asks = append(book.Asks, types.PriceLevel{Price: d, Size: sz})
	}
	if err := g.store.SetPairBook(ctx, pair, book); err != nil {
		return fmt.Errorf("gdax refreshSnapshot set book: %w", err)
	}
	g.seqNo[pair] = snap.Sequence

	bk, err := g.store.GetPairBook(ctx, pair)
	if err == nil {
		g.sinks.Emit(types.L3BookEvent{Feed: g.ID(), Pair: pair, Sequence: snap.Sequence, Book: bk})
	}
	return nil
}

func (g *GDAX) handleTicker(f gdaxFrame) error {
	bid, e1 := decimal.NewFromString(string(f.BestBid))
	ask, e2 := decimal.NewFromString(string(f.BestAsk))
	if e1 != nil || e2 != nil {
		return fmt.Errorf("gdax ticker: %w", ferr.ErrProtocolMalformed)
	}
	g.sinks.Emit(types.TickerEvent{Feed: g.ID(), Pair: f.ProductID, Bid: bid, Ask: ask})
	return nil
}

func sideFromGDAX(s string) types.Side {
	if s == "sell" {
		return types.ASK
	}
	return types.BID
}

func parseGDAXTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (g *GDAX) handleMatch(ctx context.Context, f gdaxFrame) error {
	price, e1 := decimal.NewFromString(string(f.Price))
	size, e2 := decimal.NewFromString(string(f.Size))
	if e1 != nil || e2 != nil {
		return fmt.Errorf("gdax match: %w", ferr.ErrProtocolMalformed)
	}
	side := sideFromGDAX(f.Side)
	ts := parseGDAXTime(f.Time)

	if ref, ok := g.orderMap[f.MakerID]; ok {
		ref.Size = ref.Size.Sub(size)
		if ref.Size.Sign() <= 0 {
			delete(g.orderMap, f.MakerID)
		} else {
			g.orderMap[f.MakerID] = ref
		}
		if _, err := g.store.DecrementAndRemoveIfZero(ctx, f.ProductID, side, price, size); err != nil {
			g.logger.Warn("match decrement failed", "error", err)
		}
		g.sinks.Emit(types.L3BookUpdateEvent{
			Feed: g.ID(), Pair: f.ProductID, MsgType: types.L3Trade, Timestamp: ts,
			Sequence: valOr(f.Sequence), Side: side, Price: price, Size: size,
		})
	}

	g.sinks.Emit(types.TradeEvent{
		Feed: g.ID(), Pair: f.ProductID, ID: fmt.Sprint(f.TradeID), Timestamp: ts,
		Side: side, Amount: size, Price: price,
	})
	return nil
}

func valOr(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func (g *GDAX) handleOpen(ctx context.Context, f gdaxFrame) error {
	price, e1 := decimal.NewFromString(string(f.Price))
	size, e2 := decimal.NewFromString(string(f.RemainingSz))
	if e1 != nil || e2 != nil {
		return fmt.Errorf("gdax open: %w", ferr.ErrProtocolMalformed)
	}
	side := sideFromGDAX(f.Side)
	if _, err := g.store.IncrementIfExistsElseSetAbs(ctx, f.ProductID, side, price, size); err != nil {
		return fmt.Errorf("gdax open: %w", err)
	}
	g.orderMap[f.OrderID] = types.OrderRef{Price: price, Size: size, Side: side}
	g.sinks.Emit(types.L3BookUpdateEvent{
		Feed: g.ID(), Pair: f.ProductID, MsgType: types.L3Open, Timestamp: parseGDAXTime(f.Time),
		Sequence: valOr(f.Sequence), Side: side, Price: price, Size: size,
	})
	return nil
}

func (g *GDAX) handleDone(ctx context.Context, f gdaxFrame) error {
	if string(f.Price) == "" {
		return nil
	}
	ref, ok := g.orderMap[f.OrderID]
	if !ok {
		return nil
	}
	price, err := decimal.NewFromString(string(f.Price))
	if err != nil {
		return fmt.Errorf("gdax done: %w", ferr.ErrProtocolMalformed)
	}
	side := sideFromGDAX(f.Side)
	if _, err := g.store.DecrementAndRemoveIfZero(ctx, f.ProductID, side, price, ref.Size); err != nil {
		g.logger.Warn("done decrement failed", "error", err)
	}
	delete(g.orderMap, f.OrderID)
	g.sinks.Emit(types.L3BookUpdateEvent{
		Feed: g.ID(), Pair: f.ProductID, MsgType: types.L3Done, Timestamp: parseGDAXTime(f.Time),
		Sequence: valOr(f.Sequence), Side: side, Price: price, Size: ref.Size,
	})
	return nil
}

func (g *GDAX) handleChange(ctx context.Context, f gdaxFrame) error {
	ref, ok := g.orderMap[f.OrderID]
	if !ok {
		return nil
	}
	price, e1 := decimal.NewFromString(string(f.Price))
	newSize, e2 := decimal.NewFromString(string(f.NewSize))
	oldSize, e3 := decimal.NewFromString(string(f.OldSize))
	if e1 != nil || e2 != nil || e3 != nil {
		return fmt.Errorf("gdax change: %w", ferr.ErrProtocolMalformed)
	}
	side := sideFromGDAX(f.Side)
	delta := oldSize.Sub(newSize)
	if err := g.store.Increment(ctx, f.ProductID, side, price, delta.Neg()); err != nil {
		return fmt.Errorf("gdax change: %w", err)
	}
	ref.Size = newSize
	g.orderMap[f.OrderID] = ref
	g.sinks.Emit(types.L3BookUpdateEvent{
		Feed: g.ID(), Pair: f.ProductID, MsgType: types.L3Change, Timestamp: parseGDAXTime(f.Time),
		Sequence: valOr(f.Sequence), Side: side, Price: price, Size: delta,
	})
	return nil
}

func (g *GDAX) handleL2Snapshot(ctx context.Context, f gdaxFrame) error {
	var bk types.Book
	for _, row := range f.Bids {
		if len(row) < 2 {
			continue
		}
		p, e1 := decimal.NewFromString(row[0])
		s, e2 := decimal.NewFromString(row[1])
		if e1 != nil || e2 != nil {
			continue
		}
		bk.Bids = append(bk.Bids, types.PriceLevel{Price: p, Size: s})
	}
	for _, row := range f.Asks {
		if len(row) < 2 {
			continue
		}
		p, e1 := decimal.NewFromString(row[0])
		s, e2 := decimal.NewFromString(row[1])
		if e1 != nil || e2 != nil {
			continue
		}
		bk.Asks = append(bk.Asks, types.PriceLevel{Price: p, Size: s})
	}
	if err := g.store.SetPairBook(ctx, f.ProductID, bk); err != nil {
		return fmt.Errorf("gdax l2 snapshot: %w", err)
	}
	g.sinks.Emit(types.L2BookEvent{Feed: g.ID(), Pair: f.ProductID, Book: bk})
	return nil
}

func (g *GDAX) handleL2Update(ctx context.Context, f gdaxFrame) error {
	for _, change := range f.Changes {
		if len(change) < 3 {
			continue
		}
		side := sideFromGDAXBuySell(change[0])
		price, e1 := decimal.NewFromString(change[1])
		amount, e2 := decimal.NewFromString(change[2])
		if e1 != nil || e2 != nil {
			g.logger.Warn("dropping malformed l2update change")
			continue
		}
		if amount.IsZero() {
			if _, err := g.store.RemoveIfExists(ctx, f.ProductID, side, price); err != nil {
				return fmt.Errorf("gdax l2update remove: %w", err)
			}
		} else if err := g.store.Set(ctx, f.ProductID, side, price, amount); err != nil {
			return fmt.Errorf("gdax l2update set: %w", err)
		}
	}
	bk, err := g.store.GetPairBook(ctx, f.ProductID)
	if err != nil {
		return fmt.Errorf("gdax l2update publish: %w", err)
	}
	g.sinks.Emit(types.L2BookEvent{Feed: g.ID(), Pair: f.ProductID, Book: bk})
	return nil
}

func sideFromGDAXBuySell(s string) types.Side {
	if s == "buy" {
		return types.BID
	}
	return types.ASK
}
