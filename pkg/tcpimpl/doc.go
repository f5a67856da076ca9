// Package tcpimpl is the TCP protocol implementation for the stubd harness.
// Every inbound chunk on a connection is one request: it is normalized to a
// "data" field (raw text, or base64 in binary mode), matched against the
// stub list, and the selected response's data is written back on the same
// connection. Connections run one goroutine each off a shared accept loop;
// end-of-stream, transport errors and closes surface as socket lifecycle
// events for the harness's connection registry.
package tcpimpl
