package imposter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/imposter"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/protocol"
	"github.com/getstubd/stubd/pkg/stub"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

// fakeSocket is an in-memory socket with subscribable lifecycle events.
type fakeSocket struct {
	addr      net.Addr
	mu        sync.Mutex
	destroyed bool
	onError   func(error)
	onEnd     func()
	onClose   func()
}

func newFakeSocket(port int) *fakeSocket {
	return &fakeSocket{addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}}
}

func (s *fakeSocket) RemoteAddr() net.Addr { return s.addr }

func (s *fakeSocket) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	cb := s.onClose
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (s *fakeSocket) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *fakeSocket) OnError(f func(error)) { s.mu.Lock(); s.onError = f; s.mu.Unlock() }
func (s *fakeSocket) OnEnd(f func())        { s.mu.Lock(); s.onEnd = f; s.mu.Unlock() }
func (s *fakeSocket) OnClose(f func())      { s.mu.Lock(); s.onClose = f; s.mu.Unlock() }

// plainSocket has no event-subscription capability (connectionless transport).
type plainSocket struct{ addr net.Addr }

func (s *plainSocket) RemoteAddr() net.Addr { return s.addr }
func (s *plainSocket) Destroy() error       { return nil }

// fakeServer is a scriptable concrete server.
type fakeServer struct {
	mu          sync.Mutex
	connHandler protocol.ConnectionHandler
	reqHandler  protocol.RequestHandler
	assignPort  int
	listenErr   error
	respond     func(req protocol.Request, raw any) (protocol.Response, error)
	stubs       *stub.List
	handled     []*protocol.ErrorDetails
	closeCalled bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{assignPort: 49152, stubs: stub.NewList(nil)}
}

func (s *fakeServer) OnConnection(h protocol.ConnectionHandler) { s.connHandler = h }
func (s *fakeServer) OnRequest(h protocol.RequestHandler)       { s.reqHandler = h }

func (s *fakeServer) Listen(ctx context.Context, port int) (int, error) {
	if s.listenErr != nil {
		return 0, s.listenErr
	}
	if port == 0 {
		return s.assignPort, nil
	}
	return port, nil
}

func (s *fakeServer) Close(onClosed func()) {
	s.mu.Lock()
	s.closeCalled = true
	s.mu.Unlock()
	if onClosed != nil {
		onClosed()
	}
}

func (s *fakeServer) Respond(ctx context.Context, req protocol.Request, raw any) (protocol.Response, error) {
	if s.respond != nil {
		return s.respond(req, raw)
	}
	return protocol.Response{"ok": true}, nil
}

func (s *fakeServer) FormatRequestShort(raw any) string      { return "fake request" }
func (s *fakeServer) FormatRequest(req protocol.Request) string { return fmt.Sprintf("%v", req) }
func (s *fakeServer) FormatResponse(resp protocol.Response) string { return fmt.Sprintf("%v", resp) }
func (s *fakeServer) Metadata() map[string]any               { return map[string]any{"protocol": "fake"} }
func (s *fakeServer) AddStub(st *stub.Stub) error            { s.stubs.Add(st); return nil }
func (s *fakeServer) Stubs() []*stub.Stub                    { return s.stubs.All() }
func (s *fakeServer) ResetProxies()                          { s.stubs.ResetProxies() }

func (s *fakeServer) HandleError(d *protocol.ErrorDetails, raw any) {
	s.mu.Lock()
	s.handled = append(s.handled, d)
	s.mu.Unlock()
}

func (s *fakeServer) handledErrors() []*protocol.ErrorDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.ErrorDetails, len(s.handled))
	copy(out, s.handled)
	return out
}

// fakeImpl parses map payloads; a "parseError" key makes normalization fail.
type fakeImpl struct{ server *fakeServer }

func (f *fakeImpl) Name() string { return "fake" }

func (f *fakeImpl) CreateServer(log *logging.Scoped, cfg *config.Service) (protocol.Server, error) {
	return f.server, nil
}

func (f *fakeImpl) ParseRequest(ctx context.Context, raw any) (protocol.Request, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("unparseable payload")
	}
	if msg, present := m["parseError"]; present {
		return nil, fmt.Errorf("parse: %v", msg)
	}
	req := protocol.Request{"requestFrom": "test"}
	for k, v := range m {
		req[k] = v
	}
	return req, nil
}

func boolPtr(v bool) *bool { return &v }

func create(t *testing.T, server *fakeServer, cfg config.Service, opts ...imposter.Option) *imposter.Instance {
	t.Helper()
	if len(opts) == 0 {
		opts = []imposter.Option{imposter.WithLogger(logging.Nop())}
	}
	in, err := imposter.Create(context.Background(), &fakeImpl{server: server}, cfg, opts...)
	require.NoError(t, err)
	return in
}

func TestCreate_ListenFailureIsFatal(t *testing.T) {
	server := newFakeServer()
	server.listenErr = errors.New("address already in use")

	_, err := imposter.Create(context.Background(), &fakeImpl{server: server},
		config.Service{Port: 4545}, imposter.WithLogger(logging.Nop()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
}

func TestCreate_EphemeralPortRebindsScope(t *testing.T) {
	var buf bytes.Buffer
	base := logging.New(logging.Config{Level: logging.LevelDebug, Format: logging.FormatJSON, Output: &buf})

	server := newFakeServer()
	server.assignPort = 49152
	in := create(t, server, config.Service{Port: 0, Name: "payments"}, imposter.WithLogger(base))

	assert.Equal(t, 49152, in.Port())

	// The "now listening" line must already carry the resolved port.
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	assert.Equal(t, "now listening", last["msg"])
	assert.Equal(t, "fake:49152 payments", last["scope"])
}

func TestCreate_FixedPortKeepsScope(t *testing.T) {
	var buf bytes.Buffer
	base := logging.New(logging.Config{Level: logging.LevelDebug, Format: logging.FormatJSON, Output: &buf})

	in := create(t, newFakeServer(), config.Service{Port: 4545}, imposter.WithLogger(base))
	assert.Equal(t, 4545, in.Port())
	assert.Contains(t, buf.String(), `"scope":"fake:4545"`)
}

func TestCreate_MetadataIncludesName(t *testing.T) {
	in := create(t, newFakeServer(), config.Service{Port: 1, Name: "orders"})
	assert.Equal(t, "orders", in.Metadata()["name"])
	assert.Equal(t, "fake", in.Metadata()["protocol"])

	anon := create(t, newFakeServer(), config.Service{Port: 2})
	_, hasName := anon.Metadata()["name"]
	assert.False(t, hasName)
}

func TestRequestCounter_ConcurrentRequests(t *testing.T) {
	server := newFakeServer()
	in := create(t, server, config.Service{Port: 1})

	const n = 50
	var done atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			server.reqHandler(newFakeSocket(40000+i), map[string]any{"seq": i}, func() {
				done.Add(1)
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(n), in.NumberOfRequests())
	assert.Equal(t, int64(n), done.Load(), "done fires exactly once per request")
}

func TestRecording_Disabled(t *testing.T) {
	server := newFakeServer()
	in := create(t, server, config.Service{Port: 1, RecordRequests: boolPtr(false)})

	for i := 0; i < 5; i++ {
		server.reqHandler(newFakeSocket(40001), map[string]any{"path": "/x"}, nil)
	}

	assert.Equal(t, uint64(5), in.NumberOfRequests())
	assert.Empty(t, in.Requests())
}

func TestRecording_Enabled(t *testing.T) {
	server := newFakeServer()
	var seen []protocol.Request
	server.respond = func(req protocol.Request, raw any) (protocol.Response, error) {
		seen = append(seen, req)
		return nil, nil
	}
	in := create(t, server, config.Service{Port: 1, RecordRequests: boolPtr(true)})

	server.reqHandler(newFakeSocket(40002), map[string]any{"seq": "first"}, nil)
	server.reqHandler(newFakeSocket(40002), map[string]any{"seq": "second"}, nil)

	recorded := in.Requests()
	require.Len(t, recorded, 2)
	assert.Equal(t, "first", recorded[0].Request["seq"])
	assert.Equal(t, "second", recorded[1].Request["seq"])
	assert.NotEmpty(t, recorded[0].ID)

	// Timestamps are non-decreasing in append order.
	assert.False(t, recorded[1].Timestamp.Before(recorded[0].Timestamp))

	// Each entry is a structurally independent copy: mutating it must not
	// touch the request the pipeline dispatched.
	recorded[0].Request["seq"] = "tampered"
	assert.Equal(t, "first", seen[0]["seq"])
}

func TestRecording_DefaultsFromHarness(t *testing.T) {
	server := newFakeServer()
	in, err := imposter.Create(context.Background(), &fakeImpl{server: server},
		config.Service{Port: 1},
		imposter.WithLogger(logging.Nop()),
		imposter.WithDefaults(config.Defaults{RecordRequests: true}))
	require.NoError(t, err)

	server.reqHandler(newFakeSocket(40003), map[string]any{}, nil)
	assert.Len(t, in.Requests(), 1)
}

func TestPipeline_ParseFailure(t *testing.T) {
	server := newFakeServer()
	in := create(t, server, config.Service{Port: 1, RecordRequests: boolPtr(true)})

	var done atomic.Int64
	server.reqHandler(newFakeSocket(40004), map[string]any{"parseError": "bad frame"}, func() {
		done.Add(1)
	})

	assert.Equal(t, uint64(0), in.NumberOfRequests(), "failed normalization must not count")
	assert.Empty(t, in.Requests())
	assert.Equal(t, int64(1), done.Load(), "done still fires exactly once")

	handled := server.handledErrors()
	require.Len(t, handled, 1)
	assert.Contains(t, handled[0].Message, "bad frame")
}

func TestPipeline_RespondFailureDeliversStructuredDetails(t *testing.T) {
	server := newFakeServer()
	server.respond = func(req protocol.Request, raw any) (protocol.Response, error) {
		return nil, &protocol.RequestError{Code: "X", Message: "Y"}
	}
	in := create(t, server, config.Service{Port: 1})

	var done atomic.Int64
	server.reqHandler(newFakeSocket(40005), map[string]any{}, func() { done.Add(1) })

	assert.Equal(t, uint64(1), in.NumberOfRequests(),
		"normalization succeeded, so the counter increments even though respond failed")
	assert.Equal(t, int64(1), done.Load())

	handled := server.handledErrors()
	require.Len(t, handled, 1)
	assert.Equal(t, "X", handled[0].Code)
	assert.Equal(t, "Y", handled[0].Message)
}

func TestPipeline_RespondPanicIsContained(t *testing.T) {
	server := newFakeServer()
	server.respond = func(req protocol.Request, raw any) (protocol.Response, error) {
		panic("protocol bug")
	}
	create(t, server, config.Service{Port: 1})

	var done atomic.Int64
	require.NotPanics(t, func() {
		server.reqHandler(newFakeSocket(40006), map[string]any{}, func() { done.Add(1) })
	})

	assert.Equal(t, int64(1), done.Load())
	handled := server.handledErrors()
	require.Len(t, handled, 1)
	assert.Equal(t, "panic", handled[0].Code)
	assert.Contains(t, handled[0].Message, "protocol bug")
}

func TestConnections_TrackedUntilClose(t *testing.T) {
	server := newFakeServer()
	in := create(t, server, config.Service{Port: 1})

	sock := newFakeSocket(40100)
	server.connHandler(sock)
	assert.Equal(t, 1, in.OpenConnections())

	// The transport closing the socket removes the registry entry.
	require.NoError(t, sock.Destroy())
	assert.Equal(t, 0, in.OpenConnections())
}

func TestConnections_UnsubscribableNotTracked(t *testing.T) {
	server := newFakeServer()
	in := create(t, server, config.Service{Port: 1})

	server.connHandler(&plainSocket{addr: &net.UDPAddr{IP: net.ParseIP("10.0.0.1")}})
	assert.Equal(t, 0, in.OpenConnections())
}

func TestClose_DestroysOpenConnections(t *testing.T) {
	server := newFakeServer()
	in := create(t, server, config.Service{Port: 1})

	first := newFakeSocket(40200)
	second := newFakeSocket(40201)
	server.connHandler(first)
	server.connHandler(second)

	// Two sequential requests on the first connection.
	server.reqHandler(first, map[string]any{}, nil)
	server.reqHandler(first, map[string]any{}, nil)
	assert.Equal(t, uint64(2), in.NumberOfRequests())

	require.NoError(t, in.Close(context.Background()))

	assert.Eventually(t, first.Destroyed, waitFor, tick)
	assert.Eventually(t, second.Destroyed, waitFor, tick)
	assert.Equal(t, 0, in.OpenConnections())

	server.mu.Lock()
	closeCalled := server.closeCalled
	server.mu.Unlock()
	assert.True(t, closeCalled)
}

func TestClose_Twice(t *testing.T) {
	in := create(t, newFakeServer(), config.Service{Port: 1})
	require.NoError(t, in.Close(context.Background()))
	assert.ErrorIs(t, in.Close(context.Background()), protocol.ErrServiceClosed)
}
