package stub

import (
	"sync"

	"github.com/getstubd/stubd/internal/id"
	"github.com/getstubd/stubd/pkg/util"
)

// List is an ordered, thread-safe stub store. Resolution is first-match-wins
// in insertion order; when nothing matches, the configured default response
// is served.
type List struct {
	mu       sync.RWMutex
	stubs    []*Stub
	fallback map[string]any
}

// NewList creates a stub list with the given default response fields.
// The protocol implementation supplies its own defaults (e.g. statusCode 200
// for HTTP, empty data for TCP).
func NewList(defaultResponse map[string]any) *List {
	return &List{fallback: util.CloneMap(defaultResponse)}
}

// Add appends a stub, assigning an ID when it has none, and returns it.
func (l *List) Add(s *Stub) *Stub {
	if s.ID == "" {
		s.ID = id.Short()
	}
	l.mu.Lock()
	l.stubs = append(l.stubs, s)
	l.mu.Unlock()
	return s
}

// Prepend inserts a stub at the front of the list so it wins resolution
// over everything added before it. Used for proxy-recorded stubs, which must
// shadow the proxy stub that produced them.
func (l *List) Prepend(s *Stub) *Stub {
	if s.ID == "" {
		s.ID = id.Short()
	}
	l.mu.Lock()
	l.stubs = append([]*Stub{s}, l.stubs...)
	l.mu.Unlock()
	return s
}

// All returns a snapshot of the stubs in insertion order.
func (l *List) All() []*Stub {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Stub, len(l.stubs))
	copy(out, l.stubs)
	return out
}

// Count returns the number of stubs.
func (l *List) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.stubs)
}

// Resolve finds the first stub matching the request fields and returns its
// next response along with the matched stub. When no stub matches, the
// default response is returned with a nil stub. Predicate evaluation errors
// (malformed regexp, jsonpath, expression) propagate to the caller.
func (l *List) Resolve(fields map[string]any) (Response, *Stub, error) {
	for _, s := range l.All() {
		ok, err := s.Match(fields)
		if err != nil {
			return Response{}, nil, err
		}
		if ok {
			return s.NextResponse(), s, nil
		}
	}
	return Response{Is: util.CloneMap(l.fallback)}, nil, nil
}

// ResetProxies removes every stub recorded by a proxy, keeping
// user-configured stubs untouched.
func (l *List) ResetProxies() {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.stubs[:0]
	for _, s := range l.stubs {
		if !s.FromProxy {
			kept = append(kept, s)
		}
	}
	l.stubs = kept
}
