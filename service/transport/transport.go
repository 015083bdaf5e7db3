package transport

import "context"

// Handler receives inbound traffic from a live transport. OnClose fires
// exactly once per successful Dial, when the read loop exits for any reason
// other than an explicit Close.
type Handler interface {
	OnFrame(f *Frame)
	OnClose(err error)
}

// Transport is one logical bidirectional session to the chat gateway. The
// engine owns exactly one and drives its lifecycle; implementations must be
// safe for concurrent Emit calls.
type Transport interface {
	// Dial performs a single connection attempt including the auth
	// handshake. It blocks until the session is established or fails;
	// retry policy lives in the caller.
	Dial(ctx context.Context, endpoint, identity string) error

	// Close tears the session down. Idempotent; suppresses the OnClose
	// callback for the teardown it causes.
	Close() error

	// Emit sends a fire-and-forget event.
	Emit(event string, payload any) error

	// EmitWithAck sends an event carrying ackID and invokes cb once when
	// the matching ack frame arrives. The callback may never fire (lost
	// server, dropped connection); callers own their own timeout.
	EmitWithAck(event, ackID string, payload any, cb func(Ack)) error

	// SetHandler wires the inbound sink; must be called before Dial.
	SetHandler(h Handler)
}
