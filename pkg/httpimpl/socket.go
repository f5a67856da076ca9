package httpimpl

import (
	"net"
	"strconv"
	"sync"
)

// socket wraps one accepted net.Conn with subscribable lifecycle events.
type socket struct {
	conn net.Conn

	mu      sync.Mutex
	closed  bool
	onError func(error)
	onEnd   func()
	onClose func()
}

func (s *socket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Destroy abruptly terminates the connection. The close event fires from
// the ConnState hook once the server observes the closed connection.
func (s *socket) Destroy() error {
	return s.conn.Close()
}

func (s *socket) OnError(f func(error)) { s.mu.Lock(); s.onError = f; s.mu.Unlock() }
func (s *socket) OnEnd(f func())        { s.mu.Lock(); s.onEnd = f; s.mu.Unlock() }
func (s *socket) OnClose(f func())      { s.mu.Lock(); s.onClose = f; s.mu.Unlock() }

// fireClose invokes the close callback exactly once.
func (s *socket) fireClose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cb := s.onClose
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// bareSocket is the fallback identity when a request arrives for a
// connection the ConnState hook hasn't tracked (e.g. HTTP/2 in future
// configurations). It carries the address only.
type bareSocket struct{ addr net.Addr }

func (s *bareSocket) RemoteAddr() net.Addr { return s.addr }
func (s *bareSocket) Destroy() error       { return nil }

// addrFromString parses "host:port" into a TCP address, falling back to a
// host-only address when no port is present.
func addrFromString(s string) net.Addr {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return &net.TCPAddr{IP: net.ParseIP(s)}
	}
	p, _ := strconv.Atoi(port)
	return &net.TCPAddr{IP: net.ParseIP(host), Port: p}
}
