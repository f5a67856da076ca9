package httpimpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/protocol"
	"github.com/getstubd/stubd/pkg/stub"
	"github.com/getstubd/stubd/pkg/util"
)

// Exchange is the raw HTTP request/response pair handed to the harness.
// The harness treats it as opaque; only this package reads it.
type Exchange struct {
	W http.ResponseWriter
	R *http.Request

	mu    sync.Mutex
	wrote bool
}

// Implementation is the HTTP protocol plugin.
type Implementation struct{}

// New returns the HTTP implementation.
func New() *Implementation { return &Implementation{} }

// Name implements protocol.Implementation.
func (*Implementation) Name() string { return "http" }

// CreateServer implements protocol.Implementation.
func (*Implementation) CreateServer(log *logging.Scoped, cfg *config.Service) (protocol.Server, error) {
	fallback := cfg.DefaultResponse
	if fallback == nil {
		fallback = map[string]any{"statusCode": 200, "body": ""}
	}

	s := &Server{
		log:    log,
		stubs:  stub.NewList(fallback),
		socks:  make(map[string]*socket),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, st := range cfg.Stubs {
		s.stubs.Add(st)
	}
	return s, nil
}

// ParseRequest normalizes the exchange into protocol request fields.
// The body is consumed here, exactly once.
func (*Implementation) ParseRequest(ctx context.Context, raw any) (protocol.Request, error) {
	ex, ok := raw.(*Exchange)
	if !ok {
		return nil, fmt.Errorf("httpimpl: unexpected raw request type %T", raw)
	}
	r := ex.R

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &protocol.RequestError{Code: "invalid request", Message: err.Error()}
	}

	headers := make(map[string]any, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}
	query := make(map[string]any)
	for k, v := range r.URL.Query() {
		query[k] = strings.Join(v, ",")
	}

	return protocol.Request{
		"requestFrom": r.RemoteAddr,
		"method":      r.Method,
		"path":        r.URL.Path,
		"query":       query,
		"headers":     headers,
		"body":        string(body),
	}, nil
}

// Server is one running HTTP mock listener.
type Server struct {
	log    *logging.Scoped
	stubs  *stub.List
	client *http.Client

	mu          sync.Mutex
	listener    net.Listener
	httpSrv     *http.Server
	connHandler protocol.ConnectionHandler
	reqHandler  protocol.RequestHandler
	socks       map[string]*socket
	listening   bool
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
	s.httpSrv = &http.Server{Handler: s, ConnState: s.trackConn}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()

	s.listening = true
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Close implements protocol.Server. Shutdown stops accepting immediately;
// onClosed fires once the listener is fully closed and live connections have
// drained (the harness force-destroys tracked connections so lingering
// keep-alives cannot stall this).
func (s *Server) Close(onClosed func()) {
	s.mu.Lock()
	srv := s.httpSrv
	s.listening = false
	s.mu.Unlock()

	go func() {
		if srv != nil {
			_ = srv.Shutdown(context.Background())
		}
		if onClosed != nil {
			onClosed()
		}
	}()
}

// trackConn feeds connection lifecycle events to the harness.
func (s *Server) trackConn(c net.Conn, state http.ConnState) {
	key := c.RemoteAddr().String()
	switch state {
	case http.StateNew:
		sock := &socket{conn: c}
		s.mu.Lock()
		s.socks[key] = sock
		handler := s.connHandler
		s.mu.Unlock()
		if handler != nil {
			handler(sock)
		}
	case http.StateClosed:
		s.mu.Lock()
		sock := s.socks[key]
		delete(s.socks, key)
		s.mu.Unlock()
		if sock != nil {
			sock.fireClose()
		}
	}
}

// ServeHTTP bridges the synchronous http.Handler model onto the harness's
// event contract: the request handler runs the full pipeline and signals
// completion through the done callback.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	handler := s.reqHandler
	sock := s.socks[r.RemoteAddr]
	s.mu.Unlock()

	if handler == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var peer protocol.Socket
	if sock != nil {
		peer = sock
	} else {
		peer = &bareSocket{addr: addrFromString(r.RemoteAddr)}
	}

	done := make(chan struct{})
	handler(peer, &Exchange{W: w, R: r}, func() { close(done) })
	<-done
}

// Respond implements protocol.Server: resolve the stub list and write the
// response to the exchange. The returned fields are for logging.
func (s *Server) Respond(ctx context.Context, req protocol.Request, raw any) (protocol.Response, error) {
	ex, ok := raw.(*Exchange)
	if !ok {
		return nil, fmt.Errorf("httpimpl: unexpected raw request type %T", raw)
	}

	resolved, matched, err := s.stubs.Resolve(map[string]any(req))
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if resolved.Proxy != nil {
		fields, err = s.proxy(ctx, resolved.Proxy, req)
		if err != nil {
			return nil, err
		}
	} else {
		fields = resolved.Is
	}
	if matched != nil {
		s.log.Debug("stub matched", "stub", matched.ID)
	}

	resp := protocol.Response(fields)
	s.write(ex, resp)
	return resp, nil
}

// write sends the response fields over the wire, at most once per exchange.
func (s *Server) write(ex *Exchange, resp protocol.Response) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.wrote {
		return
	}
	ex.wrote = true

	if headers, ok := resp["headers"].(map[string]any); ok {
		for k, v := range headers {
			ex.W.Header().Set(k, fmt.Sprint(v))
		}
	}
	ex.W.WriteHeader(intField(resp, "statusCode", http.StatusOK))

	switch body := resp["body"].(type) {
	case nil:
	case string:
		_, _ = io.WriteString(ex.W, body)
	default:
		// Structured bodies serialize as JSON.
		_ = json.NewEncoder(ex.W).Encode(body)
	}
}

// proxy forwards the request to the configured origin. In proxyOnce mode the
// answer is recorded as a stub that shadows the proxy for identical requests.
func (s *Server) proxy(ctx context.Context, p *stub.Proxy, req protocol.Request) (map[string]any, error) {
	method := fmt.Sprint(req["method"])
	target := strings.TrimRight(p.To, "/") + fmt.Sprint(req["path"])

	body, _ := req["body"].(string)
	httpReq, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(body))
	if err != nil {
		return nil, &protocol.RequestError{Code: "invalid proxy", Message: err.Error()}
	}
	if headers, ok := req["headers"].(map[string]any); ok {
		for k, v := range headers {
			if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Content-Length") {
				continue
			}
			httpReq.Header.Set(k, fmt.Sprint(v))
		}
	}

	res, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &protocol.RequestError{Code: "proxy error", Message: err.Error()}
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &protocol.RequestError{Code: "proxy error", Message: err.Error()}
	}
	headers := make(map[string]any, len(res.Header))
	for k, v := range res.Header {
		headers[k] = strings.Join(v, ", ")
	}
	fields := map[string]any{
		"statusCode": res.StatusCode,
		"headers":    headers,
		"body":       string(resBody),
	}

	if p.Mode != stub.ProxyAlways {
		s.stubs.Prepend(&stub.Stub{
			Predicates: []stub.Predicate{{Equals: map[string]any{
				"method": method,
				"path":   fmt.Sprint(req["path"]),
			}}},
			Responses: []stub.Response{{Is: util.CloneMap(fields)}},
			FromProxy: true,
		})
	}
	return fields, nil
}

// HandleError answers a request-processing failure with a 500 and a JSON
// error body, unless a response already went out.
func (s *Server) HandleError(details *protocol.ErrorDetails, raw any) {
	ex, ok := raw.(*Exchange)
	if !ok {
		return
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.wrote {
		return
	}
	ex.wrote = true

	ex.W.Header().Set("Content-Type", "application/json")
	ex.W.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(ex.W).Encode(details)
}

// FormatRequestShort implements protocol.Server.
func (s *Server) FormatRequestShort(raw any) string {
	ex, ok := raw.(*Exchange)
	if !ok {
		return fmt.Sprintf("%T", raw)
	}
	return ex.R.Method + " " + ex.R.URL.Path
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
	return map[string]any{"protocol": "http"}
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

func intField(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
