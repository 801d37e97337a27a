package transport

import (
	"context"
	"net"
	"sync"
)

// MemFactory is an in-process channel built on net.Pipe. Dial hands a
// connection to whichever endpoint is currently waiting in Connect.
type MemFactory struct {
	*ListenerFactory
	l *memListener
}

// NewMemFactory returns an in-memory channel named name with line framing.
func NewMemFactory(name string) *MemFactory {
	return newMemFactory(name, FrameLines)
}

// NewMemMessageFactory returns an in-memory channel that frames requests
// the way a message-mode pipe does: one request per client Write.
func NewMemMessageFactory(name string) *MemFactory {
	return newMemFactory(name, FrameMessages)
}

func newMemFactory(name string, framing Framing) *MemFactory {
	l := &memListener{
		name:   name,
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
	return &MemFactory{
		ListenerFactory: newListenerFactory(KindMem, name, l, func(net.Conn) string { return "mem:" + name }, framing),
		l:               l,
	}
}

// Dial connects a client to the channel. It blocks until an endpoint
// accepts, the channel closes, or ctx ends.
func (f *MemFactory) Dial(ctx context.Context) (net.Conn, error) {
	server, client := net.Pipe()
	select {
	case f.l.conns <- server:
		return client, nil
	case <-f.l.closed:
		server.Close()
		client.Close()
		return nil, net.ErrClosed
	case <-ctx.Done():
		server.Close()
		client.Close()
		return nil, ctx.Err()
	}
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type memListener struct {
	name      string
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *memListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *memListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *memListener) Addr() net.Addr { return memAddr(l.name) }
