package logging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
)

// Scoped is a leveled logger bound to a service scope string.
// Every log line carries the current scope as an attribute. The scope can be
// rebound exactly once per service lifetime, when a listener requested port 0
// and the OS assigned the real port.
//
// Scoped is safe for concurrent use.
type Scoped struct {
	mu    sync.RWMutex
	scope string
	base  *slog.Logger
}

// NewScoped wraps base with the given scope. A nil base discards all output.
func NewScoped(base *slog.Logger, scope string) *Scoped {
	if base == nil {
		base = Nop()
	}
	return &Scoped{scope: scope, base: base}
}

// ScopeFor derives a scope string from a protocol name, port and optional
// instance name: "proto:port" or "proto:port name".
func ScopeFor(proto string, port int, name string) string {
	scope := proto + ":" + strconv.Itoa(port)
	if name != "" {
		scope += " " + name
	}
	return scope
}

// ChangeScope rebinds the scope. Lines logged after the call carry the new
// scope; lines already emitted are unaffected.
func (l *Scoped) ChangeScope(scope string) {
	l.mu.Lock()
	l.scope = scope
	l.mu.Unlock()
}

// Scope returns the current scope string.
func (l *Scoped) Scope() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scope
}

// Debug logs at debug level with the current scope attached.
func (l *Scoped) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level with the current scope attached.
func (l *Scoped) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level with the current scope attached.
func (l *Scoped) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level with the current scope attached.
func (l *Scoped) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Scoped) log(level slog.Level, msg string, args ...any) {
	l.mu.RLock()
	scope := l.scope
	l.mu.RUnlock()
	attrs := make([]any, 0, len(args)+2)
	attrs = append(attrs, "scope", scope)
	attrs = append(attrs, args...)
	l.base.Log(context.Background(), level, msg, attrs...)
}
