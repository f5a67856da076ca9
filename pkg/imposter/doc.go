// Package imposter is the protocol-agnostic service harness. It turns a
// protocol implementation into a running, manageable mock service: it owns
// connection bookkeeping, per-request failure isolation, optional request
// recording, scoped logging, ephemeral-port resolution and coordinated
// graceful shutdown. Protocol semantics stay entirely behind the
// protocol.Implementation and protocol.Server contracts.
//
// Lifecycle: Create builds the concrete server, registers the connection and
// request handlers, listens (rebinding the log scope if the OS assigned the
// port) and returns the public Instance handle. Close stops accepting,
// force-destroys open connections and returns once the listener has fully
// closed.
//
// Every request runs inside an isolated failure domain: any error or panic
// during normalization or response generation is funneled to exactly one
// error-handler invocation and can never take down the listener or drop the
// per-request completion callback.
package imposter
