package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"feedhandler/internal/book"
	"feedhandler/internal/ferr"
	"feedhandler/pkg/types"
)

type bitfinexChannelKind int

const (
	bfTicker bitfinexChannelKind = iota
	bfTrades
	bfBook
	bfRawBook
)

type bitfinexBinding struct {
	pair string
	kind bitfinexChannelKind
}

// Bitfinex is Venue A: a numeric-channel-keyed adapter. Subscription acks
// bind an integer channel id to a (pair, kind); data frames arrive as
// [chanId, payload] and are dispatched by the bound kind. Raw-book channels
// additionally track per-order-id contributions so a single order's level
// can be reversed without affecting other orders resting at the same price.
type Bitfinex struct {
	pairs    []string
	channels []string
	store    book.Store
	sinks    types.Sinks
	logger   *slog.Logger

	channelMap map[int64]bitfinexBinding
	orderMap   map[int64]types.OrderRef
}

// NewBitfinex constructs a fresh Venue A adapter instance. A fresh instance
// must be constructed per connection attempt so reconnects begin with an
// empty channel/order map.
func NewBitfinex(pairs, channels []string, store book.Store, sinks types.Sinks, logger *slog.Logger) *Bitfinex {
	return &Bitfinex{
		pairs:      pairs,
		channels:   channels,
		store:      store,
		sinks:      sinks,
		logger:     logger.With("venue", "bitfinex"),
		channelMap: make(map[int64]bitfinexBinding),
		orderMap:   make(map[int64]types.OrderRef),
	}
}

func (b *Bitfinex) ID() string { return "bitfinex" }

type bitfinexSubscribeMsg struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Prec    string `json:"prec,omitempty"`
	Freq    string `json:"freq,omitempty"`
	Len     string `json:"len,omitempty"`
}

func (b *Bitfinex) Subscribe(ctx context.Context, send Sender) error {
	for _, channel := range b.channels {
		for _, pair := range b.pairs {
			msg := bitfinexSubscribeMsg{Event: "subscribe", Channel: channel, Symbol: pair}
			if len(channel) >= 4 && channel[:4] == "book" {
				msg.Channel = "book"
				parts := splitDash(channel)
				if len(parts) > 1 {
					msg.Prec = parts[1]
				}
				if len(parts) > 2 {
					msg.Freq = parts[2]
				}
				if len(parts) > 3 {
					msg.Len = parts[3]
				}
			}
			if err := send(ctx, msg); err != nil {
				return fmt.Errorf("bitfinex subscribe: %w", err)
			}
		}
	}
	return nil
}

func splitDash(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func (b *Bitfinex) HandleMessage(ctx context.Context, raw []byte) error {
	if isObject(raw) {
		return b.handleObject(ctx, raw)
	}
	if !isArray(raw) {
		return fmt.Errorf("bitfinex: %w", ferr.ErrProtocolMalformed)
	}
	return b.handleArray(ctx, raw)
}

func (b *Bitfinex) handleObject(_ context.Context, raw []byte) error {
	var obj struct {
		Event   string `json:"event"`
		Msg     string `json:"msg"`
		ChanID  int64  `json:"chanId"`
		Symbol  string `json:"symbol"`
		Channel string `json:"channel"`
		Prec    string `json:"prec"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("bitfinex: %w: %v", ferr.ErrProtocolMalformed, err)
	}
	if obj.Event == "error" {
		b.logger.Error("error message from exchange", "msg", obj.Msg)
		return nil
	}
	if obj.Symbol == "" {
		return nil
	}
	var kind bitfinexChannelKind
	switch obj.Channel {
	case "ticker":
		kind = bfTicker
	case "trades":
		kind = bfTrades
	case "book":
		if obj.Prec == "R0" {
			kind = bfRawBook
		} else {
			kind = bfBook
		}
	default:
		b.logger.Warn("invalid subscription ack channel", "channel", obj.Channel)
		return nil
	}
	b.channelMap[obj.ChanID] = bitfinexBinding{pair: obj.Symbol, kind: kind}
	return nil
}

func (b *Bitfinex) handleArray(ctx context.Context, raw []byte) error {
	elems, err := rawElements(raw)
	if err != nil || len(elems) < 2 {
		return fmt.Errorf("bitfinex: %w", ferr.ErrProtocolMalformed)
	}
	var chanID int64
	if err := json.Unmarshal(elems[0], &chanID); err != nil {
		return fmt.Errorf("bitfinex: %w", ferr.ErrProtocolMalformed)
	}
	binding, ok := b.channelMap[chanID]
	if !ok {
		b.logger.Warn("unbound channel", "chanId", chanID)
		return fmt.Errorf("bitfinex chanId=%d: %w", chanID, ferr.ErrUnknownChannel)
	}

	if asString(elems[1]) == "hb" {
		return nil
	}

	switch binding.kind {
	case bfTicker:
		return b.handleTicker(binding.pair, elems[1])
	case bfTrades:
		return b.handleTrades(ctx, binding.pair, elems[1:])
	case bfBook:
		return b.handleBook(ctx, binding.pair, elems[1])
	case bfRawBook:
		return b.handleRawBook(ctx, binding.pair, elems[1])
	}
	return nil
}

func (b *Bitfinex) handleTicker(pair string, payload json.RawMessage) error {
	fields, err := rawElements(payload)
	if err != nil || len(fields) < 3 {
		return fmt.Errorf("bitfinex ticker: %w", ferr.ErrProtocolMalformed)
	}
	bid, err1 := asDecimal(fields[0])
	ask, err2 := asDecimal(fields[2])
	if err1 != nil || err2 != nil {
		return fmt.Errorf("bitfinex ticker: %w", ferr.ErrProtocolMalformed)
	}
	b.sinks.Emit(types.TickerEvent{Feed: b.ID(), Pair: pair, Bid: bid, Ask: ask})
	return nil
}

func (b *Bitfinex) handleTrades(_ context.Context, pair string, rest []json.RawMessage) error {
	emit := func(tuple []json.RawMessage) error {
		if len(tuple) < 4 {
			return fmt.Errorf("bitfinex trade tuple: %w", ferr.ErrProtocolMalformed)
		}
		amount, err := asDecimal(tuple[2])
		if err != nil {
			return fmt.Errorf("bitfinex trade: %w", ferr.ErrProtocolMalformed)
		}
		price, err := asDecimal(tuple[3])
		if err != nil {
			return fmt.Errorf("bitfinex trade: %w", ferr.ErrProtocolMalformed)
		}
		side := types.BID
		if amount.IsNegative() {
			side = types.ASK
		}
		b.sinks.Emit(types.TradeEvent{Feed: b.ID(), Pair: pair, Side: side, Amount: amount.Abs(), Price: price})
		return nil
	}

	if isArray(rest[0]) {
		trades, err := rawElements(rest[0])
		if err != nil {
			return fmt.Errorf("bitfinex trades snapshot: %w", ferr.ErrProtocolMalformed)
		}
		for _, t := range trades {
			tuple, err := rawElements(t)
			if err != nil {
				continue
			}
			if err := emit(tuple); err != nil {
				b.logger.Warn("dropping malformed trade", "error", err)
			}
		}
		return nil
	}

	marker := asString(rest[0])
	switch marker {
	case "te":
		if len(rest) < 2 {
			return fmt.Errorf("bitfinex te: %w", ferr.ErrProtocolMalformed)
		}
		tuple, err := rawElements(rest[1])
		if err != nil {
			return fmt.Errorf("bitfinex te: %w", ferr.ErrProtocolMalformed)
		}
		return emit(tuple)
	case "tu":
		return nil
	default:
		b.logger.Warn("unexpected trade message", "marker", marker)
		return nil
	}
}

func (b *Bitfinex) handleBook(ctx context.Context, pair string, payload json.RawMessage) error {
	elems, err := rawElements(payload)
	if err != nil || len(elems) == 0 {
		return fmt.Errorf("bitfinex book: %w", ferr.ErrProtocolMalformed)
	}

	if isArray(elems[0]) {
		// Snapshot: array of (price, count, amount) tuples. Clear first.
		if err := b.store.DeletePair(ctx, pair); err != nil {
			return fmt.Errorf("bitfinex book snapshot clear: %w", err)
		}
		for _, e := range elems {
			tuple, err := rawElements(e)
			if err != nil {
				continue
			}
			price, amount, _, err := decodeBookTuple(tuple)
			if err != nil {
				b.logger.Warn("dropping malformed book level", "error", err)
				continue
			}
			side := types.BID
			if amount.IsNegative() {
				side = types.ASK
			}
			if err := b.store.Set(ctx, pair, side, price, amount.Abs()); err != nil {
				return fmt.Errorf("bitfinex book snapshot set: %w", err)
			}
		}
	} else {
		price, amount, count, err := decodeBookTuple(elems)
		if err != nil {
			return fmt.Errorf("bitfinex book update: %w", err)
		}
		side := types.BID
		if amount.IsNegative() {
			side = types.ASK
			amount = amount.Abs()
		}
		if count.IsPositive() {
			if err := b.store.Set(ctx, pair, side, price, amount); err != nil {
				return fmt.Errorf("bitfinex book update set: %w", err)
			}
		} else {
			if _, err := b.store.RemoveIfExists(ctx, pair, side, price); err != nil {
				return fmt.Errorf("bitfinex book update remove: %w", err)
			}
		}
	}

	return b.publishBook(ctx, pair, false)
}

// decodeBookTuple parses a (price, count, amount) triple common to Venue
// A's aggregated book channel.
func decodeBookTuple(tuple []json.RawMessage) (price, amount, count decimal.Decimal, err error) {
	if len(tuple) < 3 {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("%w", ferr.ErrProtocolMalformed)
	}
	price, e1 := asDecimal(tuple[0])
	count, e2 := asDecimal(tuple[1])
	amount, e3 := asDecimal(tuple[2])
	if e1 != nil || e2 != nil || e3 != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("%w", ferr.ErrProtocolMalformed)
	}
	return price, amount, count, nil
}

func (b *Bitfinex) publishBook(ctx context.Context, pair string, isL3 bool) error {
	bk, err := b.store.GetPairBook(ctx, pair)
	if err != nil {
		return fmt.Errorf("bitfinex publishBook: %w", err)
	}
	if isL3 {
		b.sinks.Emit(types.L3BookEvent{Feed: b.ID(), Pair: pair, Book: bk})
	} else {
		b.sinks.Emit(types.L2BookEvent{Feed: b.ID(), Pair: pair, Book: bk})
	}
	return nil
}

// handleRawBook implements Venue A's raw-book (prec=R0) channel, where each
// level is identified by order id rather than price alone. On a re-keying
// update (price != 0 and the order id was already tracked at a different
// level), the old contribution is reversed before the new level is
// applied, so a single order moving price never double-counts.
func (b *Bitfinex) handleRawBook(ctx context.Context, pair string, payload json.RawMessage) error {
	elems, err := rawElements(payload)
	if err != nil || len(elems) == 0 {
		return fmt.Errorf("bitfinex raw book: %w", ferr.ErrProtocolMalformed)
	}

	if isArray(elems[0]) {
		if err := b.store.DeletePair(ctx, pair); err != nil {
			return fmt.Errorf("bitfinex raw book snapshot clear: %w", err)
		}
		for _, e := range elems {
			tuple, err := rawElements(e)
			if err != nil || len(tuple) < 3 {
				continue
			}
			var orderID int64
			if err := json.Unmarshal(tuple[0], &orderID); err != nil {
				continue
			}
			price, err1 := asDecimal(tuple[1])
			amount, err2 := asDecimal(tuple[2])
			if err1 != nil || err2 != nil {
				b.logger.Warn("dropping malformed raw book level")
				continue
			}
			side := types.BID
			if amount.IsNegative() {
				side = types.ASK
				amount = amount.Abs()
			}
			if _, err := b.store.IncrementIfExistsElseSetAbs(ctx, pair, side, price, amount); err != nil {
				return fmt.Errorf("bitfinex raw book snapshot: %w", err)
			}
			b.orderMap[orderID] = types.OrderRef{Price: price, Size: amount, Side: side}
		}
		return b.publishBook(ctx, pair, true)
	}

	if len(elems) < 3 {
		return fmt.Errorf("bitfinex raw book update: %w", ferr.ErrProtocolMalformed)
	}
	var orderID int64
	if err := json.Unmarshal(elems[0], &orderID); err != nil {
		return fmt.Errorf("bitfinex raw book update: %w", ferr.ErrProtocolMalformed)
	}
	price, err1 := asDecimal(elems[1])
	amount, err2 := asDecimal(elems[2])
	if err1 != nil || err2 != nil {
		return fmt.Errorf("bitfinex raw book update: %w", ferr.ErrProtocolMalformed)
	}
	side := types.BID
	if amount.IsNegative() {
		side = types.ASK
		amount = amount.Abs()
	}

	if price.IsZero() {
		// Cancellation: look up the order's last known contribution and
		// reverse it.
		ref, ok := b.orderMap[orderID]
		if !ok {
			b.logger.Warn("raw book cancel for unknown order", "orderId", orderID)
			return nil
		}
		if _, err := b.store.DecrementAndRemoveIfZero(ctx, pair, ref.Side, ref.Price, ref.Size); err != nil {
			return fmt.Errorf("bitfinex raw book cancel: %w", err)
		}
		delete(b.orderMap, orderID)
		return b.publishBook(ctx, pair, true)
	}

	if prior, ok := b.orderMap[orderID]; ok && !prior.Price.Equal(price) {
		// Re-keyed to a new price level: reverse the old contribution
		// first so it is never double-counted.
		if _, err := b.store.DecrementAndRemoveIfZero(ctx, pair, prior.Side, prior.Price, prior.Size); err != nil {
			return fmt.Errorf("bitfinex raw book re-key reversal: %w", err)
		}
	}
	if _, err := b.store.IncrementIfExistsElseSetAbs(ctx, pair, side, price, amount); err != nil {
		return fmt.Errorf("bitfinex raw book update: %w", err)
	}
	b.orderMap[orderID] = types.OrderRef{Price: price, Size: amount, Side: side}
	return b.publishBook(ctx, pair, true)
}
