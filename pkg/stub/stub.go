package stub

import "sync"

// Proxy modes.
const (
	ProxyOnce   = "proxyOnce"
	ProxyAlways = "proxyAlways"
)

// Proxy forwards an unmatched request to a real backend.
// In ProxyOnce mode the recorded answer is saved as a new stub so subsequent
// identical requests are served locally; ProxyAlways forwards every time.
type Proxy struct {
	// To is the base URL (or host:port for TCP) of the origin.
	To string `json:"to" yaml:"to"`

	// Mode is proxyOnce or proxyAlways. Defaults to proxyOnce.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// Response is one entry in a stub's response list. Exactly one of Is or
// Proxy is populated.
type Response struct {
	// Is holds the literal protocol response fields (statusCode, headers,
	// body for HTTP; data for TCP).
	Is map[string]any `json:"is,omitempty" yaml:"is,omitempty"`

	// Proxy forwards to a real backend instead of answering from Is.
	Proxy *Proxy `json:"proxy,omitempty" yaml:"proxy,omitempty"`

	// Repeat serves this response N times before advancing to the next
	// one in the list. Zero means once.
	Repeat int `json:"repeat,omitempty" yaml:"repeat,omitempty"`
}

// Stub pairs predicates with an ordered, cycling response list.
type Stub struct {
	// ID uniquely identifies the stub. Assigned on Add when empty.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Predicates must all match for the stub to be selected.
	// An empty list matches every request.
	Predicates []Predicate `json:"predicates,omitempty" yaml:"predicates,omitempty"`

	// Responses are served in order, wrapping around at the end.
	Responses []Response `json:"responses,omitempty" yaml:"responses,omitempty"`

	// FromProxy marks stubs recorded by a proxy response; ResetProxies
	// removes them.
	FromProxy bool `json:"fromProxy,omitempty" yaml:"fromProxy,omitempty"`

	mu     sync.Mutex
	cursor int
	served int
}

// Match reports whether every predicate holds for the request fields.
func (s *Stub) Match(fields map[string]any) (bool, error) {
	for _, p := range s.Predicates {
		ok, err := p.Match(fields)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// NextResponse returns the current response and advances the cursor,
// honoring Repeat counts and wrapping at the end of the list.
func (s *Stub) NextResponse() Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.Responses) == 0 {
		return Response{}
	}
	resp := s.Responses[s.cursor]
	s.served++
	repeat := max(resp.Repeat, 1)
	if s.served >= repeat {
		s.cursor = (s.cursor + 1) % len(s.Responses)
		s.served = 0
	}
	return resp
}
