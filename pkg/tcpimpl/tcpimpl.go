package tcpimpl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/protocol"
	"github.com/getstubd/stubd/pkg/stub"
	"github.com/getstubd/stubd/pkg/util"
)

// Modes for payload encoding.
const (
	ModeText   = "text"
	ModeBinary = "binary"
)

const readBufferSize = 4096

// RawData is one inbound chunk, the raw request unit for TCP. Mode is the
// owning server's payload encoding and decides how Data is presented to
// predicates and the recorder.
type RawData struct {
	Conn net.Conn
	Data []byte
	Mode string
}

// Implementation is the TCP protocol plugin.
type Implementation struct{}

// New returns the TCP implementation.
func New() *Implementation { return &Implementation{} }

// Name implements protocol.Implementation.
func (*Implementation) Name() string { return "tcp" }

// CreateServer implements protocol.Implementation.
func (*Implementation) CreateServer(log *logging.Scoped, cfg *config.Service) (protocol.Server, error) {
	mode := cfg.Mode
	switch mode {
	case "":
		mode = ModeText
	case ModeText, ModeBinary:
	default:
		return nil, fmt.Errorf("tcpimpl: unknown mode %q", mode)
	}

	fallback := cfg.DefaultResponse
	if fallback == nil {
		fallback = map[string]any{"data": ""}
	}

	s := &Server{
		log:   log,
		mode:  mode,
		stubs: stub.NewList(fallback),
	}
	for _, st := range cfg.Stubs {
		s.stubs.Add(st)
	}
	return s, nil
}

// ParseRequest normalizes a chunk into request fields. Binary mode encodes
// the payload as base64 so predicates work on printable text.
func (i *Implementation) ParseRequest(ctx context.Context, raw any) (protocol.Request, error) {
	rd, ok := raw.(*RawData)
	if !ok {
		return nil, fmt.Errorf("tcpimpl: unexpected raw request type %T", raw)
	}
	data := string(rd.Data)
	if rd.Mode == ModeBinary {
		data = base64.StdEncoding.EncodeToString(rd.Data)
	}
	return protocol.Request{
		"requestFrom": util.SocketName(rd.Conn.RemoteAddr()),
		"data":        data,
	}, nil
}

// Server is one running TCP mock listener.
type Server struct {
	log   *logging.Scoped
	mode  string
	stubs *stub.List

	mu          sync.Mutex
	listener    net.Listener
	connHandler protocol.ConnectionHandler
	reqHandler  protocol.RequestHandler
	listening   bool
	accepting   sync.WaitGroup
}

// OnConnection implements protocol.Server.
func (s *Server) OnConnection(h protocol.ConnectionHandler) {
	s.mu.Lock()
	s.connHandler = h
	s.mu.Unlock()
}

// OnRequest implements protocol.Server.
func (s *Server) OnRequest(h protocol.RequestHandler) {
	s.mu.Lock()
	s.reqHandler = h
	s.mu.Unlock()
}

// Listen implements protocol.Server.
func (s *Server) Listen(ctx context.Context, port int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listening {
		return 0, protocol.ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return 0, fmt.Errorf("failed to listen on :%d: %w", port, err)
	}
	s.listener = ln
	s.listening = true

	s.accepting.Add(1)
	go s.acceptLoop(ln)

	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.accepting.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed.
			return
		}
		sock := newSocket(conn)

		s.mu.Lock()
		handler := s.connHandler
		s.mu.Unlock()
		if handler != nil {
			handler(sock)
		}

		go s.readLoop(sock)
	}
}

// readLoop emits one request event per inbound chunk until the connection
// ends or errors, then fires the terminal socket events in order.
func (s *Server) readLoop(sock *socket) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := sock.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			s.mu.Lock()
			handler := s.reqHandler
			s.mu.Unlock()
			if handler != nil {
				handler(sock, &RawData{Conn: sock.conn, Data: data, Mode: s.mode}, nil)
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				sock.fireEnd()
			case errors.Is(err, net.ErrClosed):
				// Destroyed or shut down; close event only.
			default:
				sock.fireError(err)
			}
			sock.fireClose()
			_ = sock.conn.Close()
			return
		}
	}
}

// Close implements protocol.Server: stop accepting and report back once the
// listener is fully closed. Per-connection read loops are not waited on;
// the harness destroys open connections independently.
func (s *Server) Close(onClosed func()) {
	s.mu.Lock()
	ln := s.listener
	s.listening = false
	s.mu.Unlock()

	go func() {
		if ln != nil {
			_ = ln.Close()
		}
		s.accepting.Wait()
		if onClosed != nil {
			onClosed()
		}
	}()
}

// Respond implements protocol.Server: resolve the stub list and write the
// selected data back on the connection.
func (s *Server) Respond(ctx context.Context, req protocol.Request, raw any) (protocol.Response, error) {
	rd, ok := raw.(*RawData)
	if !ok {
		return nil, fmt.Errorf("tcpimpl: unexpected raw request type %T", raw)
	}

	resolved, matched, err := s.stubs.Resolve(map[string]any(req))
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if resolved.Proxy != nil {
		fields, err = s.proxy(resolved.Proxy, rd.Data)
		if err != nil {
			return nil, err
		}
	} else {
		fields = resolved.Is
	}
	if matched != nil {
		s.log.Debug("stub matched", "stub", matched.ID)
	}

	payload, err := s.decodePayload(fields)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if _, err := rd.Conn.Write(payload); err != nil {
			return nil, &protocol.RequestError{Code: "write error", Message: err.Error()}
		}
	}
	return protocol.Response(fields), nil
}

func (s *Server) decodePayload(fields map[string]any) ([]byte, error) {
	data, _ := fields["data"].(string)
	if data == "" {
		return nil, nil
	}
	if s.mode == ModeBinary {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, &protocol.RequestError{Code: "bad data", Message: "response data is not valid base64: " + err.Error()}
		}
		return decoded, nil
	}
	return []byte(data), nil
}

// proxy forwards the chunk to the origin and relays one response chunk.
// proxyOnce records the answer as a stub keyed on the exact request data.
func (s *Server) proxy(p *stub.Proxy, data []byte) (map[string]any, error) {
	conn, err := net.DialTimeout("tcp", p.To, 5*time.Second)
	if err != nil {
		return nil, &protocol.RequestError{Code: "proxy error", Message: err.Error()}
	}
	defer conn.Close()

	if _, err := conn.Write(data); err != nil {
		return nil, &protocol.RequestError{Code: "proxy error", Message: err.Error()}
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &protocol.RequestError{Code: "proxy error", Message: err.Error()}
	}

	response := string(buf[:n])
	if s.mode == ModeBinary {
		response = base64.StdEncoding.EncodeToString(buf[:n])
	}
	fields := map[string]any{"data": response}

	if p.Mode != stub.ProxyAlways {
		request := string(data)
		if s.mode == ModeBinary {
			request = base64.StdEncoding.EncodeToString(data)
		}
		s.stubs.Prepend(&stub.Stub{
			Predicates: []stub.Predicate{{Equals: map[string]any{"data": request}}},
			Responses:  []stub.Response{{Is: util.CloneMap(fields)}},
			FromProxy:  true,
		})
	}
	return fields, nil
}

// HandleError implements protocol.Server. TCP has no structured error
// channel; the failure is logged by the harness and the connection is left
// to its fate.
func (s *Server) HandleError(details *protocol.ErrorDetails, raw any) {
	s.log.Debug("dropping errored request", "code", details.Code)
}

// FormatRequestShort implements protocol.Server.
func (s *Server) FormatRequestShort(raw any) string {
	rd, ok := raw.(*RawData)
	if !ok {
		return fmt.Sprintf("%T", raw)
	}
	return fmt.Sprintf("%d bytes from %s", len(rd.Data), util.SocketName(rd.Conn.RemoteAddr()))
}

// FormatRequest implements protocol.Server.
func (s *Server) FormatRequest(req protocol.Request) string {
	return formatJSON(map[string]any(req))
}

// FormatResponse implements protocol.Server.
func (s *Server) FormatResponse(resp protocol.Response) string {
	return formatJSON(map[string]any(resp))
}

// Metadata implements protocol.Server.
func (s *Server) Metadata() map[string]any {
	return map[string]any{"protocol": "tcp", "mode": s.mode}
}

// AddStub implements protocol.Server.
func (s *Server) AddStub(st *stub.Stub) error {
	s.stubs.Add(st)
	return nil
}

// Stubs implements protocol.Server.
func (s *Server) Stubs() []*stub.Stub { return s.stubs.All() }

// ResetProxies implements protocol.Server.
func (s *Server) ResetProxies() { s.stubs.ResetProxies() }

func formatJSON(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return util.TruncateBody(string(data), 0)
}
