package protocol

import (
	"context"

	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/stub"
)

// ConnectionHandler is invoked for every new client connection.
type ConnectionHandler func(sock Socket)

// RequestHandler is invoked for every raw inbound request. done is an
// optional synchronization hook with no protocol meaning; when non-nil it
// must be invoked exactly once, after the response cycle or the error
// handler completes.
type RequestHandler func(sock Socket, raw any, done func())

// Implementation is one pluggable protocol family. Exactly one
// implementation is bound per service instance.
type Implementation interface {
	// Name returns the protocol name ("http", "tcp").
	Name() string

	// CreateServer builds a concrete server bound to a scoped logger and
	// service configuration. Called exactly once per service.
	CreateServer(log *logging.Scoped, cfg *config.Service) (Server, error)

	// ParseRequest normalizes a raw transport payload into a Request.
	ParseRequest(ctx context.Context, raw any) (Request, error)
}

// Server is one running listener produced by an Implementation.
// The harness registers its handlers before Listen and never touches
// protocol internals beyond this contract.
type Server interface {
	// OnConnection registers the single connection handler.
	OnConnection(ConnectionHandler)

	// OnRequest registers the single request handler.
	OnRequest(RequestHandler)

	// Listen binds the listener. port 0 requests an OS-assigned ephemeral
	// port; the resolved port is returned. Startup failure is fatal to the
	// service and is not retried.
	Listen(ctx context.Context, port int) (int, error)

	// Close stops accepting new connections and invokes onClosed exactly
	// once when the listener is fully closed. Open sockets can keep a
	// listener alive; the harness force-destroys them independently.
	Close(onClosed func())

	// Respond produces the protocol response for a normalized request.
	// It may write to the transport as a side effect; the returned
	// Response (possibly nil) is used for logging only.
	Respond(ctx context.Context, req Request, raw any) (Response, error)

	// FormatRequestShort renders a one-line summary of a raw request.
	FormatRequestShort(raw any) string

	// FormatRequest renders the full normalized request for logging.
	FormatRequest(req Request) string

	// FormatResponse renders a response for logging.
	FormatResponse(resp Response) string

	// Metadata returns protocol-specific service metadata.
	Metadata() map[string]any

	// AddStub appends a stub to the server's stub list.
	AddStub(s *stub.Stub) error

	// Stubs returns the server's stubs in order.
	Stubs() []*stub.Stub

	// ResetProxies removes proxy-recorded stubs.
	ResetProxies()

	// HandleError translates a request-processing failure into a
	// protocol-appropriate response or close action. Best-effort; must not
	// panic.
	HandleError(details *ErrorDetails, raw any)
}
