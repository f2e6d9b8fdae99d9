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

// Gemini is Venue D: a single-pair-per-session adapter. The venue opens one
// websocket per trading pair and folds events into a price-level book that
// is published as an L3BookEvent; every event carries a "reason", where "initial" seeds the book and
// anything else is a live delta keyed by price (Gemini does not expose a
// per-order id, only a remaining size at a price after the event is
// applied).
type Gemini struct {
	pair   string
	store  book.Store
	sinks  types.Sinks
	logger *slog.Logger
}

// NewGemini constructs a Gemini adapter for exactly one pair. Per the
// venue's own constraint (reproduced from the original client), a single
// Gemini instance must not be asked to track more than one pair — that is
// enforced in cmd/feedhandler's buildFactory, which rejects a gemini feed
// configured with any number of pairs other than one.
func NewGemini(pair string, store book.Store, sinks types.Sinks, logger *slog.Logger) *Gemini {
	return &Gemini{pair: pair, store: store, sinks: sinks, logger: logger.With("venue", "gemini", "pair", pair)}
}

func (g *Gemini) ID() string { return "gemini" }

// Subscribe is a no-op: Gemini's marketdata endpoint embeds the pair in the
// URL and begins streaming on connect, with no subscribe frame to send.
func (g *Gemini) Subscribe(ctx context.Context, send Sender) error { return nil }

type geminiEnvelope struct {
	Type           string          `json:"type"`
	SocketSequence int64           `json:"socket_sequence"`
	TimestampMS    json.Number     `json:"timestampms"`
	Timestamp      json.Number     `json:"timestamp"`
	Events         json.RawMessage `json:"events"`
}

type geminiEvent struct {
	Type      string      `json:"type"`
	Reason    string      `json:"reason"`
	Price     json.Number `json:"price"`
	Remaining json.Number `json:"remaining"`
	Side      string      `json:"side"`
	MakerSide string      `json:"makerSide"`
	Amount    json.Number `json:"amount"`
	EventID   json.Number `json:"eventId"`
}

func (g *Gemini) HandleMessage(ctx context.Context, raw []byte) error {
	var env geminiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("gemini: %w: %v", ferr.ErrProtocolMalformed, err)
	}

	switch env.Type {
	case "heartbeat":
		return nil
	case "update":
		return g.handleUpdate(ctx, env)
	default:
		g.logger.Warn("unexpected message type", "type", env.Type)
		return nil
	}
}

func (g *Gemini) handleUpdate(ctx context.Context, env geminiEnvelope) error {
	var ts time.Time
	if env.SocketSequence != 0 {
		if env.TimestampMS != "" {
			if ms, err := env.TimestampMS.Int64(); err == nil {
				ts = time.UnixMilli(ms)
			}
		} else if env.Timestamp != "" {
			if s, err := env.Timestamp.Int64(); err == nil {
				ts = time.Unix(s, 0)
			}
		}
	}

	var events []geminiEvent
	if err := json.Unmarshal(env.Events, &events); err != nil {
		return fmt.Errorf("gemini events: %w: %v", ferr.ErrProtocolMalformed, err)
	}

	touchedBook := false
	for _, ev := range events {
		switch ev.Type {
		case "change":
			if err := g.applyChange(ctx, ev); err != nil {
				return err
			}
			touchedBook = true
		case "trade":
			g.emitTrade(ev)
		case "auction", "block_trade":
			// No book or trade effect modeled for these event kinds.
		default:
			g.logger.Warn("invalid update event", "type", ev.Type)
		}
	}

	if touchedBook {
		bk, err := g.store.GetPairBook(ctx, g.pair)
		if err != nil {
			return fmt.Errorf("gemini publish book: %w", err)
		}
		g.sinks.Emit(types.L3BookEvent{
			Feed: g.ID(), Pair: g.pair, Timestamp: ts, Sequence: env.SocketSequence, Book: bk,
		})
	}
	return nil
}

func (g *Gemini) applyChange(ctx context.Context, ev geminiEvent) error {
	side := types.ASK
	if ev.Side == "bid" {
		side = types.BID
	}
	price, err := decimal.NewFromString(string(ev.Price))
	if err != nil {
		return fmt.Errorf("gemini change price: %w", ferr.ErrProtocolMalformed)
	}
	remaining, err := decimal.NewFromString(string(ev.Remaining))
	if err != nil {
		return fmt.Errorf("gemini change remaining: %w", ferr.ErrProtocolMalformed)
	}

	if ev.Reason == "initial" {
		return g.store.Set(ctx, g.pair, side, price, remaining)
	}
	if remaining.IsZero() {
		return g.store.Remove(ctx, g.pair, side, price)
	}
	return g.store.Set(ctx, g.pair, side, price, remaining)
}

func (g *Gemini) emitTrade(ev geminiEvent) {
	side := types.ASK
	if ev.MakerSide == "bid" {
		side = types.BID
	}
	price, err1 := decimal.NewFromString(string(ev.Price))
	amount, err2 := decimal.NewFromString(string(ev.Amount))
	if err1 != nil || err2 != nil {
		g.logger.Warn("dropping malformed trade event")
		return
	}
	g.sinks.Emit(types.TradeEvent{
		Feed: g.ID(), Pair: g.pair, ID: ev.EventID.String(), Side: side, Amount: amount, Price: price,
	})
}
