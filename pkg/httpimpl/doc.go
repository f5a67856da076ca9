// Package httpimpl is the HTTP protocol implementation for the stubd
// harness. It normalizes HTTP exchanges into protocol requests
// (method/path/query/headers/body), answers from the service's stub list and
// translates request-processing failures into 500 responses with a JSON
// error body. Connection lifecycle events come from the http.Server
// ConnState hook, so the harness can track and force-destroy keep-alive
// connections on shutdown.
package httpimpl
