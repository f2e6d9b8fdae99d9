// Package nbbo computes the national (cross-venue) best bid and offer for a
// configured set of pairs from each feed's ticker events.
//
// A small struct, sync.Mutex-guarded map, one exported method per event,
// wired the way a ticker callback fan-in hooks into one aggregator
// instance.
package nbbo

import (
	"sync"

	"github.com/shopspring/decimal"

	"feedhandler/pkg/types"
)

// Quote is the best cross-venue bid/ask for one pair, with the feed each
// side currently comes from.
type Quote struct {
	Pair    string
	Bid     decimal.Decimal
	BidFeed string
	Ask     decimal.Decimal
	AskFeed string
}

type feedQuote struct {
	bid, ask decimal.Decimal
}

// Aggregator tracks, per pair, the best bid and ask reported by any feed
// wired into it, and notifies onUpdate whenever the cross-venue best
// changes.
type Aggregator struct {
	pairs    map[string]bool
	onUpdate func(Quote)

	mu     sync.Mutex
	quotes map[string]map[string]feedQuote // pair -> feed -> last quote
	last   map[string]Quote                // pair -> last-emitted best
}

// NewAggregator builds an aggregator scoped to pairs. onUpdate may be nil,
// in which case updates are computed but not delivered anywhere.
func NewAggregator(pairs []string, onUpdate func(Quote)) *Aggregator {
	set := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		set[p] = true
	}
	return &Aggregator{
		pairs:    set,
		onUpdate: onUpdate,
		quotes:   make(map[string]map[string]feedQuote),
		last:     make(map[string]Quote),
	}
}

// OnTicker is wired as a feed's types.Sinks.Ticker callback. It records the
// feed's latest bid/ask for the pair and, if this pair is in scope and the
// cross-venue best changed, emits the new best.
func (a *Aggregator) OnTicker(e types.TickerEvent) {
	if len(a.pairs) > 0 && !a.pairs[e.Pair] {
		return
	}

	a.mu.Lock()
	perFeed, ok := a.quotes[e.Pair]
	if !ok {
		perFeed = make(map[string]feedQuote)
		a.quotes[e.Pair] = perFeed
	}
	perFeed[e.Feed] = feedQuote{bid: e.Bid, ask: e.Ask}
	best := bestOf(e.Pair, perFeed)
	changed := !quoteEqual(best, a.last[e.Pair])
	if changed {
		a.last[e.Pair] = best
	}
	a.mu.Unlock()

	if changed && a.onUpdate != nil {
		a.onUpdate(best)
	}
}

// Best returns the current cross-venue best for pair, if any feed has
// reported a ticker for it yet.
func (a *Aggregator) Best(pair string) (Quote, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	perFeed, ok := a.quotes[pair]
	if !ok || len(perFeed) == 0 {
		return Quote{}, false
	}
	return bestOf(pair, perFeed), true
}

// quoteEqual compares two Quotes by value: decimal.Decimal carries an
// unexported big.Int pointer, so == would compare pointer identity rather
// than numeric value.
func quoteEqual(a, b Quote) bool {
	return a.Pair == b.Pair &&
		a.BidFeed == b.BidFeed && a.AskFeed == b.AskFeed &&
		a.Bid.Equal(b.Bid) && a.Ask.Equal(b.Ask)
}

func bestOf(pair string, perFeed map[string]feedQuote) Quote {
	var best Quote
	best.Pair = pair
	first := true
	for feedName, q := range perFeed {
		if first {
			best.Bid, best.BidFeed = q.bid, feedName
			best.Ask, best.AskFeed = q.ask, feedName
			first = false
			continue
		}
		if q.bid.GreaterThan(best.Bid) {
			best.Bid, best.BidFeed = q.bid, feedName
		}
		if q.ask.LessThan(best.Ask) {
			best.Ask, best.AskFeed = q.ask, feedName
		}
	}
	return best
}
