// Package types defines the normalized vocabulary shared across every venue
// adapter, the order-book store, and the feed handler. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents one side of an order book or trade.
type Side string

const (
	BID Side = "bid"
	ASK Side = "ask"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BID {
		return ASK
	}
	return BID
}

// ————————————————————————————————————————————————————————————————————————
// Price levels and books
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single (price, size) entry on one side of one pair.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookSide is an ordered snapshot of one side of a book. Bids are ordered
// high-to-low, asks low-to-high; callers must not rely on this slice being
// anything but a point-in-time copy.
type BookSide []PriceLevel

// Book is a normalized snapshot of both sides of a pair's order book, as
// returned by the store's GetPairBook / SetPairBook operations.
type Book struct {
	Bids BookSide
	Asks BookSide
}

// BestBid returns the highest bid level, if any.
func (b Book) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, if any.
func (b Book) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// OrderRef records a single resting order's contribution to a price level.
// Used by L3/raw-book adapters to reverse or remove a specific order's
// contribution without affecting other orders resting at the same price.
type OrderRef struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	Side  Side
}

// ————————————————————————————————————————————————————————————————————————
// Normalized events: the sink (callback) payloads.
// ————————————————————————————————————————————————————————————————————————

// TickerEvent is delivered on every best-bid/best-ask update from a venue.
type TickerEvent struct {
	Feed string
	Pair string
	Bid  decimal.Decimal
	Ask  decimal.Decimal
}

// TradeEvent is delivered on every executed trade a venue publishes.
type TradeEvent struct {
	Feed      string
	Pair      string
	ID        string
	Timestamp time.Time
	Side      Side
	Amount    decimal.Decimal
	Price     decimal.Decimal
}

// L2BookEvent carries an aggregated-by-price book, published after any
// mutation to an L2 book adapter tracks.
type L2BookEvent struct {
	Feed string
	Pair string
	Book Book
}

// L3BookEvent carries an order-level book, published after any mutation to
// an L3/raw-book adapter tracks.
type L3BookEvent struct {
	Feed      string
	Pair      string
	Timestamp time.Time
	Sequence  int64
	Book      Book
}

// L3UpdateMsgType enumerates the kinds of single-order book transitions an
// L3 adapter can report alongside an L3BookEvent.
type L3UpdateMsgType string

const (
	L3Open   L3UpdateMsgType = "open"
	L3Done   L3UpdateMsgType = "done"
	L3Change L3UpdateMsgType = "change"
	L3Trade  L3UpdateMsgType = "trade"
)

// L3BookUpdateEvent describes one order-level transition (open/done/change/
// trade) on an L3 book, in addition to the resulting L3BookEvent.
type L3BookUpdateEvent struct {
	Feed      string
	Pair      string
	MsgType   L3UpdateMsgType
	Timestamp time.Time
	Sequence  int64
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
}

// VolumeEvent reports trailing per-asset volume figures; the set of assets
// reported is venue-dependent.
type VolumeEvent struct {
	Feed      string
	PerAssets map[string]decimal.Decimal
}

// Sinks groups the callback set a venue adapter invokes as it processes
// frames. Any field may be nil, in which case events of that kind are
// silently dropped. Each callback must not block for long: a slow sink
// stalls only its own feed, never siblings (see session supervisor).
type Sinks struct {
	Ticker       func(TickerEvent)
	Trades       func(TradeEvent)
	L2Book       func(L2BookEvent)
	L3Book       func(L3BookEvent)
	L3BookUpdate func(L3BookUpdateEvent)
	Volume       func(VolumeEvent)
}

func (s Sinks) emitTicker(e TickerEvent) {
	if s.Ticker != nil {
		s.Ticker(e)
	}
}

func (s Sinks) emitTrades(e TradeEvent) {
	if s.Trades != nil {
		s.Trades(e)
	}
}

func (s Sinks) emitL2Book(e L2BookEvent) {
	if s.L2Book != nil {
		s.L2Book(e)
	}
}

func (s Sinks) emitL3Book(e L3BookEvent) {
	if s.L3Book != nil {
		s.L3Book(e)
	}
}

func (s Sinks) emitL3BookUpdate(e L3BookUpdateEvent) {
	if s.L3BookUpdate != nil {
		s.L3BookUpdate(e)
	}
}

func (s Sinks) emitVolume(e VolumeEvent) {
	if s.Volume != nil {
		s.Volume(e)
	}
}

// Emit dispatches e to whichever Sinks field matches its concrete type. It
// is the single entry point adapters use so that adding a sink never
// requires touching every call site.
func (s Sinks) Emit(e any) {
	switch ev := e.(type) {
	case TickerEvent:
		s.emitTicker(ev)
	case TradeEvent:
		s.emitTrades(ev)
	case L2BookEvent:
		s.emitL2Book(ev)
	case L3BookEvent:
		s.emitL3Book(ev)
	case L3BookUpdateEvent:
		s.emitL3BookUpdate(ev)
	case VolumeEvent:
		s.emitVolume(ev)
	}
}
