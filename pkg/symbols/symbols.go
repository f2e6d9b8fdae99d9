// Package symbols provides a static bidirectional pair table so venue
// adapters can translate between a canonical pair name ("BTC-USD") and each
// venue's own wire-format pair spelling ("XBTUSD", "BTC_USDT", ...).
//
// This table is intentionally a thin, illustrative stand-in; exhaustive
// per-venue symbol coverage is out of scope. No venue adapter in this
// repository consults these tables: adapters take and report pairs in the
// spelling they are configured with or receive on the wire.
package symbols

// Table holds one venue's pair mappings in both directions.
type Table struct {
	toExchange map[string]string
	toStandard map[string]string
}

// NewTable builds a Table from canonical-name -> venue-spelling pairs.
func NewTable(pairs map[string]string) *Table {
	t := &Table{
		toExchange: make(map[string]string, len(pairs)),
		toStandard: make(map[string]string, len(pairs)),
	}
	for std, ex := range pairs {
		t.toExchange[std] = ex
		t.toStandard[ex] = std
	}
	return t
}

// Normalize converts a venue-native pair spelling to the canonical name. If
// the venue spelling is unknown, it is returned unchanged.
func (t *Table) Normalize(exchangePair string) string {
	if std, ok := t.toStandard[exchangePair]; ok {
		return std
	}
	return exchangePair
}

// Denormalize converts a canonical pair name to the venue's own spelling.
// If the canonical name is unknown, it is returned unchanged.
func (t *Table) Denormalize(standardPair string) string {
	if ex, ok := t.toExchange[standardPair]; ok {
		return ex
	}
	return standardPair
}

// Bitfinex is an illustrative pair table for Venue A.
var Bitfinex = NewTable(map[string]string{
	"BTC-USD": "tBTCUSD",
	"ETH-USD": "tETHUSD",
})

// BitMEX is an illustrative pair table for Venue B.
var BitMEX = NewTable(map[string]string{
	"BTC-USD": "XBTUSD",
	"ETH-USD": "ETHUSD",
})

// GDAX is an illustrative pair table for Venue C.
var GDAX = NewTable(map[string]string{
	"BTC-USD": "BTC-USD",
	"ETH-USD": "ETH-USD",
})

// Gemini is an illustrative pair table for Venue D.
var Gemini = NewTable(map[string]string{
	"BTC-USD": "BTCUSD",
	"ETH-USD": "ETHUSD",
})

// Poloniex is an illustrative pair table for Venue E.
var Poloniex = NewTable(map[string]string{
	"BTC-USD": "USDT_BTC",
	"BTC-ETH": "BTC_ETH",
})
