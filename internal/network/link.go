// Package network supervises client connections on the bridge channel.
package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xpbridge/internal/clock"
	"xpbridge/internal/codec"
	"xpbridge/internal/metrics"
	"xpbridge/internal/transport"
	"xpbridge/internal/types"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("link already started")

// State is the lifecycle stage of a Link.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Handler produces the reply line for one request line.
type Handler interface {
	Handle(ctx context.Context, raw string) string
}

// Stopper is notified first when the Link stops, so that no new host work
// is accepted while connections drain.
type Stopper interface {
	Stop()
}

// Recorder receives every answered request.
type Recorder interface {
	Record(session string, seq uint64, request, reply string, at time.Time) error
}

// connection pairs a worker goroutine with the endpoint it owns.
type connection struct {
	id        string
	transport transport.Transport
	done      chan struct{}
}

// Link accepts clients on one channel and runs a worker per client. Each
// worker loops Read, Handle, Write until its peer leaves or the Link stops.
type Link struct {
	log      *zap.Logger
	factory  transport.Factory
	handler  Handler
	stopper  Stopper
	metrics  *metrics.Metrics
	recorder Recorder
	clock    clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	stopping   atomic.Bool
	acceptDone chan struct{}
	stopped    chan struct{}

	mu        sync.Mutex
	state     State
	accepting transport.Transport
	conns     map[string]*connection
}

// Option configures a Link.
type Option func(*Link)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Link) { l.metrics = m }
}

// WithRecorder captures every request and reply.
func WithRecorder(r Recorder) Option {
	return func(l *Link) { l.recorder = r }
}

func WithClock(c clock.Clock) Option {
	return func(l *Link) { l.clock = c }
}

// New builds a Link serving factory's channel. stopper may be nil.
func New(log *zap.Logger, factory transport.Factory, handler Handler, stopper Stopper, opts ...Option) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		log:        log.Named("link"),
		factory:    factory,
		handler:    handler,
		stopper:    stopper,
		clock:      clock.Real(),
		ctx:        ctx,
		cancel:     cancel,
		acceptDone: make(chan struct{}),
		stopped:    make(chan struct{}),
		conns:      make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the accept loop.
func (l *Link) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateCreated {
		return ErrAlreadyStarted
	}
	l.state = StateStarted
	l.log.Info("link started",
		zap.Stringer("kind", l.factory.Kind()),
		zap.String("address", l.factory.Address()))

	go l.acceptLoop()
	return nil
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connections is the number of live client sessions.
func (l *Link) Connections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func (l *Link) acceptLoop() {
	defer close(l.acceptDone)

	for !l.stopping.Load() {
		t, err := l.factory.Obtain(l.ctx)
		if err != nil {
			if !l.stopping.Load() {
				l.log.Error("obtain endpoint failed", zap.Error(err))
			}
			return
		}

		l.mu.Lock()
		if l.stopping.Load() {
			l.mu.Unlock()
			t.Close()
			return
		}
		l.accepting = t
		l.mu.Unlock()

		err = t.Connect()

		l.mu.Lock()
		l.accepting = nil
		l.mu.Unlock()

		if err != nil {
			t.Close()
			if l.stopping.Load() || errors.Is(err, transport.ErrAborted) {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				l.log.Error("channel closed underneath the link", zap.Error(err))
				return
			}
			l.metrics.ObserveTransportError("connect")
			l.log.Warn("connect failed, retrying", zap.Error(err))
			continue
		}

		l.spawn(t)
	}
}

func (l *Link) spawn(t transport.Transport) {
	c := &connection{
		id:        uuid.NewString(),
		transport: t,
		done:      make(chan struct{}),
	}

	l.mu.Lock()
	if l.stopping.Load() {
		l.mu.Unlock()
		t.Close()
		return
	}
	l.conns[c.id] = c
	l.mu.Unlock()

	l.metrics.ConnectionOpened()
	l.log.Info("client connected",
		zap.String("session", c.id),
		zap.String("peer", t.Peer()))

	go l.serve(c)
}

func (l *Link) serve(c *connection) {
	log := l.log.With(zap.String("session", c.id))
	defer func() {
		l.mu.Lock()
		delete(l.conns, c.id)
		l.mu.Unlock()

		c.transport.Close()
		l.metrics.ConnectionClosed()
		close(c.done)
		log.Info("client session ended")
	}()

	for seq := uint64(1); ; seq++ {
		if l.stopping.Load() {
			return
		}

		req, err := c.transport.Read()
		if errors.Is(err, transport.ErrLineTooLong) {
			log.Warn("request exceeds line limit", zap.Uint64("seq", seq))
			reply := string(types.ReplyMalformedRequest)
			l.record(log, c.id, seq, "", reply)
			if err := c.transport.Write(reply + codec.LineTerminator); err != nil {
				l.ioEnded(log, "write", err)
				return
			}
			continue
		}
		if err != nil {
			l.ioEnded(log, "read", err)
			return
		}

		reply := l.handler.Handle(l.ctx, req)
		if l.stopping.Load() {
			return
		}
		log.Debug("request handled", zap.Uint64("seq", seq), zap.String("request", req), zap.String("reply", reply))

		l.record(log, c.id, seq, req, reply)
		if err := c.transport.Write(reply + codec.LineTerminator); err != nil {
			l.ioEnded(log, "write", err)
			return
		}
	}
}

func (l *Link) ioEnded(log *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, transport.ErrAborted):
		log.Debug("session aborted", zap.String("op", op))
	case errors.Is(err, transport.ErrPeerDisconnected):
		log.Info("client disconnected", zap.String("op", op))
	default:
		l.metrics.ObserveTransportError(op)
		log.Error("transport failure", zap.String("op", op), zap.Error(err))
	}
}

func (l *Link) record(log *zap.Logger, session string, seq uint64, req, reply string) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Record(session, seq, req, reply, l.clock.Now()); err != nil {
		log.Warn("capture failed", zap.Error(err))
	}
}

// Stop shuts the Link down and waits until every worker and the accept
// loop have exited and every endpoint is closed. The stopper is stopped
// first, then in-flight host waits are cancelled, then every worker is
// aborted and joined, and finally the accept loop is joined. Calls after
// the first only wait for it to finish.
func (l *Link) Stop() {
	l.mu.Lock()
	switch l.state {
	case StateCreated:
		l.state = StateStopped
		l.stopping.Store(true)
		l.mu.Unlock()
		l.cancel()
		l.closeFactory()
		close(l.acceptDone)
		close(l.stopped)
		return
	case StateStopping, StateStopped:
		l.mu.Unlock()
		<-l.stopped
		return
	}

	l.state = StateStopping
	l.stopping.Store(true)
	accepting := l.accepting
	conns := make([]*connection, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	l.log.Info("link stopping", zap.Int("connections", len(conns)))

	if l.stopper != nil {
		l.stopper.Stop()
	}
	l.cancel()

	for _, c := range conns {
		c.transport.Abort()
		<-c.done
	}

	if accepting != nil {
		accepting.Abort()
	}
	l.closeFactory()
	<-l.acceptDone

	if accepting != nil {
		accepting.Close()
	}
	for _, c := range conns {
		c.transport.Close()
	}

	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
	close(l.stopped)
	l.log.Info("link stopped")
}

func (l *Link) closeFactory() {
	if err := l.factory.Close(); err != nil {
		l.log.Warn("close channel", zap.Error(err))
	}
}
