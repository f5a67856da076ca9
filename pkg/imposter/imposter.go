package imposter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getstubd/stubd/internal/id"
	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/protocol"
	"github.com/getstubd/stubd/pkg/stub"
	"github.com/getstubd/stubd/pkg/util"
)

// RecordedRequest is a timestamped, structurally independent copy of a
// normalized request, retained when recording is enabled.
type RecordedRequest struct {
	ID        string           `json:"id"`
	Request   protocol.Request `json:"request"`
	Timestamp time.Time        `json:"timestamp"`
}

// Instance is the public handle of one running mock service.
// Created by Create, destroyed by Close.
type Instance struct {
	impl   protocol.Implementation
	server protocol.Server
	log    *logging.Scoped
	cfg    config.Service

	mu       sync.Mutex
	conns    map[string]protocol.Socket
	recorded []*RecordedRequest

	numRequests atomic.Uint64
	closed      atomic.Bool

	port     int
	metadata map[string]any
}

type options struct {
	defaults config.Defaults
	base     *slog.Logger
}

// Option customizes service creation.
type Option func(*options)

// WithDefaults sets the process-wide recordRequests/debug fallbacks merged
// into the service configuration when it does not set them itself.
func WithDefaults(d config.Defaults) Option {
	return func(o *options) { o.defaults = d }
}

// WithLogger sets the base logger. When absent, a stderr logger is built
// whose level honors the service's debug flag.
func WithLogger(base *slog.Logger) Option {
	return func(o *options) { o.base = base }
}

// Create starts a mock service for the given protocol implementation and
// configuration. It returns once the listener has resolved its port and the
// public handle is fully assembled. Startup failure (bind/listen) is fatal
// and returned to the caller; it is never retried.
func Create(ctx context.Context, impl protocol.Implementation, cfg config.Service, opts ...Option) (*Instance, error) {
	if cfg.Port < 0 {
		return nil, fmt.Errorf("%w: %d", config.ErrInvalidPort, cfg.Port)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg.ApplyDefaults(o.defaults)

	base := o.base
	if base == nil {
		level := logging.LevelInfo
		if cfg.Debugging() {
			level = logging.LevelDebug
		}
		base = logging.New(logging.Config{Level: level})
	}
	log := logging.NewScoped(base, logging.ScopeFor(impl.Name(), cfg.Port, cfg.Name))

	server, err := impl.CreateServer(log, &cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s server: %w", impl.Name(), err)
	}

	in := &Instance{
		impl:   impl,
		server: server,
		log:    log,
		cfg:    cfg,
		conns:  make(map[string]protocol.Socket),
	}
	server.OnConnection(in.onConnection)
	server.OnRequest(in.onRequest)

	port, err := server.Listen(ctx, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("listen %s on port %d: %w", impl.Name(), cfg.Port, err)
	}
	in.port = port

	// Ephemeral-port case: rebind the scope before anything else is logged
	// so every subsequent line carries the real port.
	if port != cfg.Port {
		log.ChangeScope(logging.ScopeFor(impl.Name(), port, cfg.Name))
	}

	md := server.Metadata()
	if md == nil {
		md = make(map[string]any)
	}
	if cfg.Name != "" {
		md = util.Merge(md, map[string]any{"name": cfg.Name})
	}
	in.metadata = md

	log.Info("now listening", "port", port)
	return in, nil
}

// onConnection is the single connection handler. It derives the client
// identity, and for transports with subscribable lifecycle events tracks the
// socket until its close event fires.
func (in *Instance) onConnection(sock protocol.Socket) {
	name := util.SocketName(sock.RemoteAddr())
	in.log.Debug("connection established", "client", name)

	obs, ok := sock.(protocol.Observable)
	if !ok {
		// Connectionless transport: nothing to track.
		return
	}

	in.mu.Lock()
	in.conns[name] = sock
	in.mu.Unlock()

	obs.OnError(func(err error) {
		in.log.Info("transmission error", "client", name, "error", err)
	})
	obs.OnEnd(func() {
		in.log.Debug("connection ended", "client", name)
	})
	obs.OnClose(func() {
		in.log.Debug("connection closed", "client", name)
		in.mu.Lock()
		delete(in.conns, name)
		in.mu.Unlock()
	})
}

// onRequest is the single request handler. The whole request cycle runs in
// an isolated failure domain: errors and panics from normalization or
// response generation funnel to exactly one error-handler invocation, and
// the optional done callback fires exactly once either way.
func (in *Instance) onRequest(sock protocol.Socket, raw any, done func()) {
	client := util.SocketName(sock.RemoteAddr())

	var once sync.Once
	complete := func(details *protocol.ErrorDetails) {
		once.Do(func() {
			if details != nil {
				in.log.Error("error processing request",
					"client", client, "code", details.Code, "error", details.Message)
				func() {
					// HandleError is best-effort and must not escape.
					defer func() { _ = recover() }()
					in.server.HandleError(details, raw)
				}()
			}
			if done != nil {
				done()
			}
		})
	}
	defer func() {
		if r := recover(); r != nil {
			complete(protocol.DetailsFromPanic(r))
		}
	}()

	in.log.Info(in.server.FormatRequestShort(raw), "client", client)

	ctx := context.Background()
	req, err := in.impl.ParseRequest(ctx, raw)
	if err != nil {
		complete(protocol.DetailsFromError(err))
		return
	}

	in.log.Debug(in.server.FormatRequest(req), "client", client)
	in.numRequests.Add(1)
	if in.cfg.Recording() {
		in.record(req)
	}

	resp, err := in.server.Respond(ctx, req, raw)
	if err != nil {
		complete(protocol.DetailsFromError(err))
		return
	}
	if resp != nil {
		in.log.Debug(in.server.FormatResponse(resp), "client", client)
	}
	complete(nil)
}

// record appends a deep copy of the request to the recorded sequence.
// Stamping happens under the same lock as the append, so timestamps are
// non-decreasing in append order.
func (in *Instance) record(req protocol.Request) {
	entry := &RecordedRequest{ID: id.UUID(), Request: req.Clone()}
	in.mu.Lock()
	entry.Timestamp = time.Now().UTC()
	in.recorded = append(in.recorded, entry)
	in.mu.Unlock()
}

// Close stops the service: the listener stops accepting, every connection
// registered at the time of the call is forcibly destroyed (fire-and-forget),
// and Close returns once the listener reports it has fully closed. In-flight
// request continuations may still complete afterwards; their logging and
// response attempts are best-effort.
func (in *Instance) Close(ctx context.Context) error {
	if !in.closed.CompareAndSwap(false, true) {
		return protocol.ErrServiceClosed
	}

	closed := make(chan struct{})
	in.server.Close(func() { close(closed) })

	in.mu.Lock()
	socks := make([]protocol.Socket, 0, len(in.conns))
	for _, s := range in.conns {
		socks = append(socks, s)
	}
	in.conns = make(map[string]protocol.Socket)
	in.mu.Unlock()

	// Lingering open sockets would keep the listener alive; destroy them
	// without gating the close on it.
	for _, s := range socks {
		s := s
		go func() { _ = s.Destroy() }()
	}

	select {
	case <-closed:
		in.log.Info("server closed", "port", in.port)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NumberOfRequests returns how many requests have successfully normalized
// over the instance's lifetime. Failed normalizations don't count; failed
// responses after a successful normalization do.
func (in *Instance) NumberOfRequests() uint64 {
	return in.numRequests.Load()
}

// Requests returns a snapshot of the recorded-request sequence in
// normalization-completion order. Empty unless recordRequests is enabled.
func (in *Instance) Requests() []*RecordedRequest {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*RecordedRequest, len(in.recorded))
	copy(out, in.recorded)
	return out
}

// OpenConnections returns the number of currently tracked connections.
func (in *Instance) OpenConnections() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.conns)
}

// Port returns the bound port (the OS-assigned one when port 0 was requested).
func (in *Instance) Port() int {
	return in.port
}

// Metadata returns the protocol metadata augmented with the instance name.
func (in *Instance) Metadata() map[string]any {
	return in.metadata
}

// AddStub passes through to the concrete server's stub list.
func (in *Instance) AddStub(s *stub.Stub) error {
	return in.server.AddStub(s)
}

// Stubs passes through to the concrete server's stub list.
func (in *Instance) Stubs() []*stub.Stub {
	return in.server.Stubs()
}

// ResetProxies passes through to the concrete server.
func (in *Instance) ResetProxies() {
	in.server.ResetProxies()
}
