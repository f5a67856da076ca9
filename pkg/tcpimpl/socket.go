package tcpimpl

import (
	"net"
	"sync"
)

// socket wraps one accepted connection with subscribable lifecycle events.
type socket struct {
	conn net.Conn

	mu      sync.Mutex
	closed  bool
	onError func(error)
	onEnd   func()
	onClose func()
}

func newSocket(conn net.Conn) *socket {
	return &socket{conn: conn}
}

func (s *socket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Destroy abruptly terminates the connection. The read loop observes the
// closed conn and fires the close event.
func (s *socket) Destroy() error {
	return s.conn.Close()
}

func (s *socket) OnError(f func(error)) { s.mu.Lock(); s.onError = f; s.mu.Unlock() }
func (s *socket) OnEnd(f func())        { s.mu.Lock(); s.onEnd = f; s.mu.Unlock() }
func (s *socket) OnClose(f func())      { s.mu.Lock(); s.onClose = f; s.mu.Unlock() }

func (s *socket) fireError(err error) {
	s.mu.Lock()
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (s *socket) fireEnd() {
	s.mu.Lock()
	cb := s.onEnd
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

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
