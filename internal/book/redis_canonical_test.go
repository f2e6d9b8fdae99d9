package book

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCanonicalPriceTrailingZeroInsensitive(t *testing.T) {
	t.Parallel()

	a := canonicalPrice(mustDec(t, "0.10"))
	b := canonicalPrice(mustDec(t, "0.1"))
	if a != b {
		t.Errorf("canonicalPrice(0.10) = %q, canonicalPrice(0.1) = %q, want equal", a, b)
	}

	if got := canonicalPrice(decimal.NewFromInt(0)); got != "0" {
		t.Errorf("canonicalPrice(0) = %q, want \"0\"", got)
	}

	if got := canonicalPrice(mustDec(t, "100.00")); got != "100" {
		t.Errorf("canonicalPrice(100.00) = %q, want \"100\"", got)
	}
}
