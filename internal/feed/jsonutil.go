package feed

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// rawElements splits a JSON array into its top-level elements without
// touching their contents, so heterogeneous venue frames (numbers next to
// nested arrays next to strings) can be inspected element by element.
func rawElements(raw []byte) ([]json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("not a JSON array: %w", err)
	}
	return elems, nil
}

// asDecimal parses a JSON scalar (number or numeric string) as an
// arbitrary-precision decimal, never passing through a binary float at
// parse time.
func asDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	trimmed := bytes.Trim(bytes.TrimSpace(raw), `"`)
	return decimal.NewFromString(string(trimmed))
}

// asString unquotes a JSON string element, or returns the raw text as-is
// for a bare token (used for literal markers like "hb").
func asString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// isArray reports whether raw is itself a JSON array (used to distinguish
// a snapshot, an array-of-arrays, from a single update tuple).
func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// isObject reports whether raw is a JSON object.
func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
