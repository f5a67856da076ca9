// Package logging provides structured logging for stubd, built on log/slog.
//
// It exposes two layers:
//
//   - New / Config: construct an slog.Logger with a level, format (text or
//     JSON) and output writer. Used once at process startup.
//   - Scoped: a logger bound to a service scope string such as "http:4545"
//     or "tcp:6000 payments". Every line carries the scope, and the scope
//     can be rebound once the real port of an ephemeral listener is known.
package logging
