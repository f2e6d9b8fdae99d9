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

// BitMEX is Venue B: a table/action-keyed adapter. All book messages before
// the first action=="partial" are discarded; thereafter "insert"/"update"/
// "delete" mutate the store via a per-pair OrderRef table keyed by the
// venue's own order id.
type BitMEX struct {
	pairs    []string
	channels []string
	store    book.Store
	sinks    types.Sinks
	logger   *slog.Logger

	snapshotReceived bool
	orderMap         map[string]map[int64]types.OrderRef // pair -> id -> ref
}

func NewBitMEX(pairs, channels []string, store book.Store, sinks types.Sinks, logger *slog.Logger) *BitMEX {
	return &BitMEX{
		pairs:    pairs,
		channels: channels,
		store:    store,
		sinks:    sinks,
		logger:   logger.With("venue", "bitmex"),
		orderMap: make(map[string]map[int64]types.OrderRef),
	}
}

func (bm *BitMEX) ID() string { return "bitmex" }

func (bm *BitMEX) Subscribe(ctx context.Context, send Sender) error {
	var args []string
	for _, channel := range bm.channels {
		for _, pair := range bm.pairs {
			args = append(args, fmt.Sprintf("%s:%s", channel, pair))
		}
	}
	msg := struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}{Op: "subscribe", Args: args}
	if err := send(ctx, msg); err != nil {
		return fmt.Errorf("bitmex subscribe: %w", err)
	}
	return nil
}

type bitmexTableMsg struct {
	Table  string          `json:"table"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type bitmexOrderRow struct {
	Symbol string      `json:"symbol"`
	ID     int64       `json:"id"`
	Side   string      `json:"side"`
	Price  json.Number `json:"price"`
	Size   json.Number `json:"size"`
}

type bitmexTradeRow struct {
	Symbol    string      `json:"symbol"`
	TrdMatchID string     `json:"trdMatchID"`
	Side      string      `json:"side"`
	Size      json.Number `json:"size"`
	Price     json.Number `json:"price"`
	Timestamp string      `json:"timestamp"`
}

func (bm *BitMEX) HandleMessage(ctx context.Context, raw []byte) error {
	var msg bitmexTableMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("bitmex: %w: %v", ferr.ErrProtocolMalformed, err)
	}
	if msg.Table == "" {
		// Subscription ack / info frame, not a table message.
		return nil
	}

	switch msg.Table {
	case "orderBookL2", "orderBook10", "orderBookL2_25":
		return bm.handleBook(ctx, msg.Action, msg.Data)
	case "trade":
		return bm.handleTrade(msg.Data)
	default:
		bm.logger.Warn("unsupported table", "table", msg.Table)
		return fmt.Errorf("bitmex table=%s: %w", msg.Table, ferr.ErrUnsupportedChannel)
	}
}

func (bm *BitMEX) handleBook(ctx context.Context, action string, data json.RawMessage) error {
	if !bm.snapshotReceived && action != "partial" {
		return nil // discard all book messages until the first partial
	}

	var rows []bitmexOrderRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("bitmex book data: %w: %v", ferr.ErrProtocolMalformed, err)
	}

	touched := map[string]bool{}
	for _, row := range rows {
		touched[row.Symbol] = true
		side := types.ASK
		if row.Side == "Buy" {
			side = types.BID
		}
		refs, ok := bm.orderMap[row.Symbol]
		if !ok {
			refs = make(map[int64]types.OrderRef)
			bm.orderMap[row.Symbol] = refs
		}

		switch action {
		case "partial", "insert":
			price, size, err := decodeBitmexRow(row)
			if err != nil {
				bm.logger.Warn("dropping malformed book row", "error", err)
				continue
			}
			if err := bm.store.Set(ctx, row.Symbol, side, price, size); err != nil {
				return fmt.Errorf("bitmex book %s: %w", action, err)
			}
			refs[row.ID] = types.OrderRef{Price: price, Size: size, Side: side}

		case "update":
			_, size, err := decodeBitmexRow(row)
			if err != nil {
				bm.logger.Warn("dropping malformed update row", "error", err)
				continue
			}
			ref, ok := refs[row.ID]
			if !ok {
				continue
			}
			if err := bm.store.Set(ctx, row.Symbol, ref.Side, ref.Price, size); err != nil {
				return fmt.Errorf("bitmex book update: %w", err)
			}
			refs[row.ID] = types.OrderRef{Price: ref.Price, Size: size, Side: ref.Side}

		case "delete":
			ref, ok := refs[row.ID]
			if !ok {
				continue
			}
			delete(refs, row.ID)
			if _, err := bm.store.DecrementAndRemoveIfZero(ctx, row.Symbol, ref.Side, ref.Price, ref.Size); err != nil {
				bm.logger.Warn("book delete decrement failed", "error", err)
			}

		default:
			bm.logger.Warn("unknown book action", "action", action)
		}
	}

	if action == "partial" {
		bm.snapshotReceived = true
	}

	for pair := range touched {
		bk, err := bm.store.GetPairBook(ctx, pair)
		if err != nil {
			return fmt.Errorf("bitmex publish book: %w", err)
		}
		bm.sinks.Emit(types.L2BookEvent{Feed: bm.ID(), Pair: pair, Book: bk})
	}
	return nil
}

// decodeBitmexRow pulls price/size as decimals; price may be absent on
// "update"/"delete" rows, in which case the zero value is returned and the
// caller falls back to the tracked OrderRef.
func decodeBitmexRow(row bitmexOrderRow) (price, size decimal.Decimal, err error) {
	if string(row.Price) != "" {
		price, err = decimal.NewFromString(string(row.Price))
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w", ferr.ErrProtocolMalformed)
		}
	}
	if string(row.Size) != "" {
		size, err = decimal.NewFromString(string(row.Size))
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w", ferr.ErrProtocolMalformed)
		}
	}
	return price, size, nil
}

func (bm *BitMEX) handleTrade(data json.RawMessage) error {
	var rows []bitmexTradeRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("bitmex trade data: %w: %v", ferr.ErrProtocolMalformed, err)
	}
	for _, row := range rows {
		price, err1 := decimal.NewFromString(string(row.Price))
		size, err2 := decimal.NewFromString(string(row.Size))
		if err1 != nil || err2 != nil {
			bm.logger.Warn("dropping malformed trade")
			continue
		}
		side := types.ASK
		if row.Side == "Buy" {
			side = types.BID
		}
		bm.sinks.Emit(types.TradeEvent{
			Feed: bm.ID(), Pair: row.Symbol, ID: row.TrdMatchID,
			Side: side, Amount: size, Price: price,
		})
	}
	return nil
}
