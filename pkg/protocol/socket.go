package protocol

import "net"

// Socket is a live client connection as seen by the harness.
type Socket interface {
	// RemoteAddr returns the client's network address.
	RemoteAddr() net.Addr

	// Destroy forcibly terminates the connection (abrupt, not graceful).
	// Idempotent: destroying an already-closed socket returns nil.
	Destroy() error
}

// Observable is the optional lifecycle-event capability of a socket.
// Transports with subscribable events (TCP-based ones) implement it;
// connectionless transports do not. Each registration replaces the previous
// callback; the transport guarantees error/end/close ordering per socket.
type Observable interface {
	// OnError registers a callback for transport-level errors.
	// Errors are non-fatal to the connection registry.
	OnError(func(error))

	// OnEnd registers a callback for graceful end-of-stream.
	OnEnd(func())

	// OnClose registers a callback invoked exactly once when the
	// connection is fully closed.
	OnClose(func())
}
