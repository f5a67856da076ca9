// Package protocol defines the contracts between the stubd harness and
// pluggable protocol implementations.
//
// An Implementation knows one protocol family: it parses raw transport
// payloads into normalized requests and builds concrete servers. A Server is
// one running listener produced by an implementation; the harness drives it
// exclusively through this package's interfaces and never inspects protocol
// internals.
//
// Sockets model live client connections. Event subscription (error, end,
// close) is an optional capability: transports that support it implement
// Observable, connectionless ones just implement Socket. The harness checks
// the capability by type assertion.
package protocol
