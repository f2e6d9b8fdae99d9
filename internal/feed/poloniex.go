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

const (
	poloniexTickerChannel = 1002
	poloniexVolumeChannel = 1003
	poloniexHeartbeat     = 1010
)

// Poloniex is Venue E: a numeric-channel adapter with a static
// channel-id -> pair lookup table. Book channels
// (id <= 200) carry an "i" snapshot frame or a stream of "o"/"t"
// sub-messages; 1002/1003 are the global ticker/volume channels, keyed by
// pair inside the payload rather than by channel id.
type Poloniex struct {
	channelPairs map[int64]string // static channel id -> pair, set at construction
	channels     []string         // subscribe arguments, venue channel names/ids as strings
	store        book.Store
	sinks        types.Sinks
	logger       *slog.Logger
}

func NewPoloniex(channelPairs map[int64]string, channels []string, store book.Store, sinks types.Sinks, logger *slog.Logger) *Poloniex {
	return &Poloniex{
		channelPairs: channelPairs,
		channels:     channels,
		store:        store,
		sinks:        sinks,
		logger:       logger.With("venue", "poloniex"),
	}
}

func (p *Poloniex) ID() string { return "poloniex" }

func (p *Poloniex) Subscribe(ctx context.Context, send Sender) error {
	for _, channel := range p.channels {
		msg := struct {
			Command string `json:"command"`
			Channel string `json:"channel"`
		}{Command: "subscribe", Channel: channel}
		if err := send(ctx, msg); err != nil {
			return fmt.Errorf("poloniex subscribe %s: %w", channel, err)
		}
	}
	return nil
}

func (p *Poloniex) HandleMessage(ctx context.Context, raw []byte) error {
	var probe struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &probe) == nil && probe.Error != "" {
		p.logger.Error("exchange error", "error", probe.Error)
		return nil
	}

	elems, err := rawElements(raw)
	if err != nil {
		return fmt.Errorf("poloniex: %w: %v", ferr.ErrProtocolMalformed, err)
	}
	if len(elems) == 0 {
		return fmt.Errorf("poloniex: %w: short frame", ferr.ErrProtocolMalformed)
	}

	var chanID int64
	if err := json.Unmarshal(elems[0], &chanID); err != nil {
		return fmt.Errorf("poloniex channel id: %w", ferr.ErrProtocolMalformed)
	}

	switch {
	case chanID == poloniexTickerChannel:
		return p.handleTicker(elems)
	case chanID == poloniexVolumeChannel:
		return p.handleVolume(elems)
	case chanID == poloniexHeartbeat:
		return nil
	case chanID <= 200:
		return p.handleBook(ctx, chanID, elems)
	default:
		p.logger.Warn("unexpected channel id", "channel", chanID)
		return nil
	}
}

func (p *Poloniex) handleTicker(elems []json.RawMessage) error {
	// The ticker channel carries no sequence id on real updates (msg[1] is
	// null); the only non-null msg[1] is the initial subscribe ack.
	if len(elems) < 2 || string(elems[1]) != "null" {
		return nil
	}
	if len(elems) < 3 {
		return nil
	}
	fields, err := rawElements(elems[2])
	if err != nil || len(fields) < 4 {
		return fmt.Errorf("poloniex ticker: %w", ferr.ErrProtocolMalformed)
	}
	// Layout: pair_id, last, lowestAsk, highestBid, percentChange,
	// baseVolume, quoteVolume, isFrozen, 24hrHigh, 24hrLow.
	var tickerChanID int64
	if _, err := fmt.Sscanf(asString(fields[0]), "%d", &tickerChanID); err != nil {
		return fmt.Errorf("poloniex ticker pair id: %w", ferr.ErrProtocolMalformed)
	}
	pair, ok := p.channelPairs[tickerChanID]
	if !ok {
		return fmt.Errorf("poloniex ticker: %w", ferr.ErrUnknownChannel)
	}
	ask, e1 := asDecimal(fields[2])
	bid, e2 := asDecimal(fields[3])
	if e1 != nil || e2 != nil {
		return fmt.Errorf("poloniex ticker: %w", ferr.ErrProtocolMalformed)
	}
	p.sinks.Emit(types.TickerEvent{Feed: p.ID(), Pair: pair, Bid: bid, Ask: ask})
	return nil
}

func (p *Poloniex) handleVolume(elems []json.RawMessage) error {
	if len(elems) < 2 || string(elems[1]) != "null" {
		return nil
	}
	if len(elems) < 3 {
		return nil
	}
	fields, err := rawElements(elems[2])
	if err != nil || len(fields) < 3 {
		return fmt.Errorf("poloniex volume: %w", ferr.ErrProtocolMalformed)
	}
	var topVols map[string]string
	if err := json.Unmarshal(fields[2], &topVols); err != nil {
		return fmt.Errorf("poloniex volume: %w", ferr.ErrProtocolMalformed)
	}
	perAsset := make(map[string]decimal.Decimal, len(topVols))
	for asset, v := range topVols {
		d, err := decimal.NewFromString(v)
		if err != nil {
			continue
		}
		perAsset[asset] = d
	}
	p.sinks.Emit(types.VolumeEvent{Feed: p.ID(), PerAssets: perAsset})
	return nil
}

type poloniexSnapshotPayload struct {
	CurrencyPair string                    `json:"currencyPair"`
	OrderBook    [2]map[string]json.Number `json:"orderBook"`
}

func (p *Poloniex) handleBook(ctx context.Context, chanID int64, elems []json.RawMessage) error {
	var seq *int64
	if len(elems) >= 2 && string(elems[1]) != "null" {
		var s int64
		if err := json.Unmarshal(elems[1], &s); err == nil {
			seq = &s
		}
	}
	if len(elems) < 3 {
		return fmt.Errorf("poloniex book: %w: missing payload", ferr.ErrProtocolMalformed)
	}
	updates, err := rawElements(elems[2])
	if err != nil || len(updates) == 0 {
		return fmt.Errorf("poloniex book: %w", ferr.ErrProtocolMalformed)
	}

	firstFields, err := rawElements(updates[0])
	if err != nil || len(firstFields) == 0 {
		return fmt.Errorf("poloniex book: %w", ferr.ErrProtocolMalformed)
	}
	msgType := asString(firstFields[0])

	var pair string
	if msgType == "i" {
		if len(firstFields) < 2 {
			return fmt.Errorf("poloniex snapshot: %w", ferr.ErrProtocolMalformed)
		}
		var payload poloniexSnapshotPayload
		if err := json.Unmarshal(firstFields[1], &payload); err != nil {
			return fmt.Errorf("poloniex snapshot: %w: %v", ferr.ErrProtocolMalformed, err)
		}
		pair = payload.CurrencyPair
		if err := p.store.DeletePair(ctx, pair); err != nil {
			return fmt.Errorf("poloniex snapshot delete pair: %w", err)
		}
		for priceStr, amt := range payload.OrderBook[0] {
			if err := p.setSnapshotLevel(ctx, pair, types.ASK, priceStr, string(amt)); err != nil {
				return err
			}
		}
		for priceStr, amt := range payload.OrderBook[1] {
			if err := p.setSnapshotLevel(ctx, pair, types.BID, priceStr, string(amt)); err != nil {
				return err
			}
		}
	} else {
		var ok bool
		pair, ok = p.channelPairs[chanID]
		if !ok {
			return fmt.Errorf("poloniex book: %w", ferr.ErrUnknownChannel)
		}
		for _, u := range updates {
			fields, err := rawElements(u)
			if err != nil || len(fields) == 0 {
				continue
			}
			if err := p.applyUpdate(ctx, pair, fields, seq); err != nil {
				return err
			}
		}
	}

	bk, err := p.store.GetPairBook(ctx, pair)
	if err != nil {
		return fmt.Errorf("poloniex publish book: %w", err)
	}
	var sequence int64
	if seq != nil {
		sequence = *seq
	}
	p.sinks.Emit(types.L3BookEvent{Feed: p.ID(), Pair: pair, Sequence: sequence, Book: bk})
	return nil
}

func (p *Poloniex) setSnapshotLevel(ctx context.Context, pair string, side types.Side, priceStr, amountStr string) error {
	price, e1 := decimal.NewFromString(priceStr)
	amount, e2 := decimal.NewFromString(amountStr)
	if e1 != nil || e2 != nil {
		p.logger.Warn("dropping malformed snapshot level")
		return nil
	}
	return p.store.Set(ctx, pair, side, price, amount)
}

func (p *Poloniex) applyUpdate(ctx context.Context, pair string, fields []json.RawMessage, seq *int64) error {
	kind := asString(fields[0])
	switch kind {
	case "o":
		if len(fields) < 4 {
			return fmt.Errorf("poloniex order update: %w", ferr.ErrProtocolMalformed)
		}
		var sideFlag int
		if err := json.Unmarshal(fields[1], &sideFlag); err != nil {
			return fmt.Errorf("poloniex order update side: %w", ferr.ErrProtocolMalformed)
		}
		side := types.BID
		if sideFlag == 0 {
			side = types.ASK
		}
		price, e1 := asDecimal(fields[2])
		amount, e2 := asDecimal(fields[3])
		if e1 != nil || e2 != nil {
			return fmt.Errorf("poloniex order update: %w", ferr.ErrProtocolMalformed)
		}
		if amount.IsZero() {
			if err := p.store.Remove(ctx, pair, side, price); err != nil {
				return fmt.Errorf("poloniex order update remove: %w", err)
			}
		} else if err := p.store.Set(ctx, pair, side, price, amount); err != nil {
			return fmt.Errorf("poloniex order update set: %w", err)
		}
		p.emitUpdate(pair, types.L3Change, side, price, amount, seq, time.Time{})
		return nil

	case "t":
		if len(fields) < 6 {
			return fmt.Errorf("poloniex trade update: %w", ferr.ErrProtocolMalformed)
		}
		var sideFlag int
		if err := json.Unmarshal(fields[2], &sideFlag); err != nil {
			return fmt.Errorf("poloniex trade side: %w", ferr.ErrProtocolMalformed)
		}
		side := types.BID
		if sideFlag == 0 {
			side = types.ASK
		}
		price, e1 := asDecimal(fields[3])
		amount, e2 := asDecimal(fields[4])
		if e1 != nil || e2 != nil {
			return fmt.Errorf("poloniex trade update: %w", ferr.ErrProtocolMalformed)
		}
		ts := parseTradeUnixSeconds(fields[5])
		p.sinks.Emit(types.TradeEvent{
			Feed: p.ID(), Pair: pair, ID: asString(fields[1]), Timestamp: ts,
			Side: side, Amount: amount, Price: price,
		})
		p.emitUpdate(pair, types.L3Trade, side, price, amount, seq, ts)
		return nil

	default:
		p.logger.Warn("unexpected book sub-message", "type", kind)
		return nil
	}
}

func (p *Poloniex) emitUpdate(pair string, mtype types.L3UpdateMsgType, side types.Side, price, size decimal.Decimal, seq *int64, ts time.Time) {
	var sequence int64
	if seq != nil {
		sequence = *seq
	}
	p.sinks.Emit(types.L3BookUpdateEvent{
		Feed: p.ID(), Pair: pair, MsgType: mtype, Timestamp: ts,
		Sequence: sequence, Side: side, Price: price, Size: size,
	})
}

func parseTradeUnixSeconds(raw json.RawMessage) time.Time {
	s := asString(raw)
	var unix int64
	if _, err := fmt.Sscanf(s, "%d", &unix); err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
