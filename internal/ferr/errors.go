// Package ferr defines the error kinds shared by every feed-handler
// component: the order-book store, the venue adapters, and the session
// supervisor. Call sites wrap one of these sentinels with fmt.Errorf("%w")
// so callers can still recover the kind via errors.Is.
package ferr

import "errors"

var (
	// ErrConnectionLost indicates the streaming connection closed or a read
	// timed out. Supervisor-level: reconnect with exponential backoff.
	ErrConnectionLost = errors.New("connection lost")

	// ErrProtocolMalformed indicates a frame didn't match the venue's wire
	// grammar. Log and drop the frame; never tear down the session.
	ErrProtocolMalformed = errors.New("protocol malformed")

	// ErrUnknownChannel indicates a frame referenced a channel id the
	// adapter has no binding for. Log and drop.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrUnsupportedChannel indicates a subscription or frame named a
	// channel kind this adapter doesn't implement. Log and drop.
	ErrUnsupportedChannel = errors.New("unsupported channel")

	// ErrSequenceGap indicates a full-order-feed adapter observed a gap in
	// its sequence cursor. Triggers a REST snapshot re-fetch.
	ErrSequenceGap = errors.New("sequence gap")

	// ErrInvariantViolation indicates a store or adapter invariant would be
	// broken by the attempted mutation. Log and drop; must never crash a
	// sibling feed.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrBackendUnavailable indicates the remote order-book backend could
	// not complete an operation. Supervisor-level: reconnect/retry.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrConfigInvalid indicates a feed's configuration failed validation
	// at construction time. Fatal for that feed only.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrNotFound indicates an operation that requires presence (e.g.
	// Remove) was issued against an absent level.
	ErrNotFound = errors.New("not found")
)
