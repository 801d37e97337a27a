package network

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"xpbridge/internal/metrics"
	"xpbridge/internal/transport"
)

type handlerFunc func(ctx context.Context, raw string) string

func (f handlerFunc) Handle(ctx context.Context, raw string) string { return f(ctx, raw) }

func echo() Handler {
	return handlerFunc(func(_ context.Context, raw string) string { return "echo:" + raw })
}

type stopCounter struct {
	mu sync.Mutex
	n  int
}

func (s *stopCounter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
}

func (s *stopCounter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type captured struct {
	session string
	seq     uint64
	request string
	reply   string
}

type memRecorder struct {
	mu   sync.Mutex
	recs []captured
}

func (r *memRecorder) Record(session string, seq uint64, request, reply string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, captured{session, seq, request, reply})
	return nil
}

func (r *memRecorder) snapshot() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.recs...)
}

func startLink(t *testing.T, h Handler, opts ...Option) (*Link, *transport.MemFactory) {
	t.Helper()
	f := transport.NewMemFactory(t.Name())
	return startLinkOn(t, f, h, opts...), f
}

func startLinkOn(t *testing.T, f transport.Factory, h Handler, opts ...Option) *Link {
	t.Helper()
	l := New(zap.NewNop(), f, h, nil, opts...)
	require.NoError(t, l.Start())
	t.Cleanup(l.Stop)
	return l
}

// flakyFactory hands out endpoints whose Connect fails until failures
// runs out, then defers to the wrapped channel.
type flakyFactory struct {
	*transport.MemFactory
	failures atomic.Int32
	refused  atomic.Int32
}

func (f *flakyFactory) Obtain(ctx context.Context) (transport.Transport, error) {
	if f.failures.Add(-1) >= 0 {
		return &refusingEndpoint{f: f}, nil
	}
	return f.MemFactory.Obtain(ctx)
}

type refusingEndpoint struct {
	f *flakyFactory
}

func (e *refusingEndpoint) Connect() error {
	e.f.refused.Add(1)
	return fmt.Errorf("%w: handshake refused", transport.ErrConnectFailed)
}
func (e *refusingEndpoint) IsConnected() bool { return false }
func (e *refusingEndpoint) Read() (string, error) { return "", transport.ErrNotConnected }
func (e *refusingEndpoint) Write(string) error { return transport.ErrNotConnected }
func (e *refusingEndpoint) Abort() {}
func (e *refusingEndpoint) Close() error { return nil }
func (e *refusingEndpoint) Peer() string { return "" }

func dial(t *testing.T, f *transport.MemFactory) *transport.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := f.Dial(ctx)
	require.NoError(t, err)
	c := transport.NewClient(conn)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStartTwice(t *testing.T) {
	l, _ := startLink(t, echo())
	assert.Equal(t, StateStarted, l.State())
	assert.ErrorIs(t, l.Start(), ErrAlreadyStarted)
}

func TestRequestReply(t *testing.T) {
	_, f := startLink(t, echo())
	c := dial(t, f)

	for i := 0; i < 3; i++ {
		reply, err := c.Do(fmt.Sprintf("get:sim/%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("echo:get:sim/%d", i), reply)
	}
}

func TestConcurrentClients(t *testing.T) {
	l, f := startLink(t, echo())

	const clients = 8
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		c := dial(t, f)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				req := fmt.Sprintf("c%d:%d", i, j)
				reply, err := c.Do(req)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, "echo:"+req, reply)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, clients, l.Connections())
}

func TestPeerDisconnectFreesSession(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	l, f := startLink(t, echo(), WithMetrics(m))

	c := dial(t, f)
	_, err := c.Do("ping")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool { return l.Connections() == 0 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsActive))

	// The accept loop keeps serving new clients.
	c2 := dial(t, f)
	reply, err := c2.Do("again")
	require.NoError(t, err)
	assert.Equal(t, "echo:again", reply)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsAccepted))
}

func TestStopAbortsIdleWorkers(t *testing.T) {
	stopper := &stopCounter{}
	f := transport.NewMemFactory(t.Name())
	l := New(zap.NewNop(), f, echo(), stopper)
	require.NoError(t, l.Start())

	clients := make([]*transport.Client, 3)
	for i := range clients {
		clients[i] = dial(t, f)
	}
	require.Eventually(t, func() bool { return l.Connections() == 3 }, 5*time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.Equal(t, StateStopped, l.State())
	assert.Equal(t, 0, l.Connections())
	assert.Equal(t, 1, stopper.count())

	for _, c := range clients {
		_, err := c.Do("get:sim/x")
		assert.Error(t, err)
	}

	l.Stop()
	assert.Equal(t, 1, stopper.count(), "second Stop is a no-op")

	_, err := f.Dial(context.Background())
	assert.Error(t, err, "channel is closed")
}

func TestStopUnblocksHostWait(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	h := handlerFunc(func(ctx context.Context, raw string) string {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return "{get_failed}"
	})
	l, f := startLink(t, h)
	c := dial(t, f)

	replied := make(chan error, 1)
	go func() {
		_, err := c.Do("get:sim/frozen")
		replied <- err
	}()
	<-entered

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on a frozen host")
	}

	assert.Error(t, <-replied, "no reply is written while tearing down")
}

func TestStopBeforeStart(t *testing.T) {
	f := transport.NewMemFactory(t.Name())
	l := New(zap.NewNop(), f, echo(), nil)

	l.Stop()
	assert.Equal(t, StateStopped, l.State())
	assert.ErrorIs(t, l.Start(), ErrAlreadyStarted)
	l.Stop()
}

func TestRecorderSeesEveryExchange(t *testing.T) {
	rec := &memRecorder{}
	_, f := startLink(t, echo(), WithRecorder(rec))
	c := dial(t, f)

	for _, req := range []string{"a", "b", "c"} {
		_, err := c.Do(req)
		require.NoError(t, err)
	}

	recs := rec.snapshot()
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, uint64(i+1), r.seq)
		assert.Equal(t, "echo:"+r.request, r.reply)
		assert.Equal(t, recs[0].session, r.session)
	}
	assert.Len(t, recs[0].session, 36)
}

func TestLongRequestLine(t *testing.T) {
	_, f := startLink(t, echo())
	c := dial(t, f)

	req := "set:sim/data:32:" + strings.Repeat("x", 4000)
	reply, err := c.Do(req)
	require.NoError(t, err)
	assert.Equal(t, "echo:"+req, reply)
}

func TestConnectFailureIsRetried(t *testing.T) {
	mem := transport.NewMemFactory(t.Name())
	f := &flakyFactory{MemFactory: mem}
	f.failures.Store(3)
	m := metrics.New(prometheus.NewRegistry())
	startLinkOn(t, f, echo(), WithMetrics(m))

	c := dial(t, mem)
	reply, err := c.Do("get:sim/alt")
	require.NoError(t, err)
	assert.Equal(t, "echo:get:sim/alt", reply)
	assert.Equal(t, int32(3), f.refused.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TransportErrors.WithLabelValues("connect")))
}

func TestOverlongRequestGetsMalformedReply(t *testing.T) {
	rec := &memRecorder{}
	_, f := startLink(t, echo(), WithRecorder(rec))
	c := dial(t, f)

	reply, err := c.Do(strings.Repeat("x", transport.MaxLineSize+1))
	require.NoError(t, err)
	assert.Equal(t, "{malformed_request}", reply)

	reply, err = c.Do("get:sim/alt")
	require.NoError(t, err)
	assert.Equal(t, "echo:get:sim/alt", reply)

	recs := rec.snapshot()
	require.Len(t, recs, 2)
	assert.Equal(t, "{malformed_request}", recs[0].reply)
	assert.Equal(t, uint64(2), recs[1].seq)
}

func TestMessageFramedClientWithoutTerminator(t *testing.T) {
	f := transport.NewMemMessageFactory(t.Name())
	startLinkOn(t, f, echo())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := f.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	for _, req := range []string{"get:sim/alt", "cmd:sim/gear:hold:0"} {
		_, err := conn.Write([]byte(req))
		require.NoError(t, err)
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "echo:"+req+"\n", line)
	}
}
