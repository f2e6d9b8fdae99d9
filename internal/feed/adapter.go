// Package feed implements the venue adapters (component C2): one state
// machine per exchange wire protocol, each translating that exchange's
// idiosyncratic message grammar into order-book store mutations and
// normalized callback events.
package feed

import "context"

// Sender is how an adapter writes frames back to its venue. The session
// supervisor supplies the implementation: a mutex-guarded websocket write.
type Sender func(ctx context.Context, v any) error

// Adapter is the capability interface the session supervisor drives. Every
// venue adapter implements exactly these three methods, so the supervisor can
// stay generic over any venue.
type Adapter interface {
	// ID identifies the venue for logging and NBBO/feed attribution.
	ID() string

	// Subscribe sends whatever subscription frame(s) this venue requires,
	// using send to write to the connection. Called once per connection,
	// after dial and before the read loop starts.
	Subscribe(ctx context.Context, send Sender) error

	// HandleMessage processes one inbound frame. Adapter state is private
	// to the adapter; the store (book.Store) is the only resource shared
	// across adapter instances. No adapter retains state across
	// reconnects — a fresh Adapter value is constructed per connection
	// attempt by the supervisor's factory.
	HandleMessage(ctx context.Context, raw []byte) error
}

// Factory constructs a fresh Adapter instance. The session supervisor calls
// this once per connection attempt so that reconnects always begin in the
// adapter's initial state: no adapter retains state across reconnects.
type Factory func() Adapter
