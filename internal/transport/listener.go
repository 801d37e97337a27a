package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// MaxLineSize bounds one request line.
const MaxLineSize = 1 << 20

// Framing selects how an endpoint splits the byte stream into requests.
type Framing int

const (
	// FrameLines reads newline terminated requests.
	FrameLines Framing = iota
	// FrameMessages reads one request per conn Read, as delivered by a
	// message-mode pipe. Clients need not send a terminator.
	FrameMessages
)

// ListenerFactory hands out endpoints that accept from a shared
// net.Listener. Every platform implementation is one of these.
type ListenerFactory struct {
	kind     Kind
	address  string
	listener net.Listener
	describe func(net.Conn) string
	framing  Framing

	closeOnce sync.Once
	closeErr  error
}

func newListenerFactory(kind Kind, address string, l net.Listener, describe func(net.Conn) string, framing Framing) *ListenerFactory {
	if describe == nil {
		describe = remoteAddr
	}
	return &ListenerFactory{kind: kind, address: address, listener: l, describe: describe, framing: framing}
}

func remoteAddr(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil && a.String() != "" {
		return a.Network() + ":" + a.String()
	}
	return "anonymous"
}

func (f *ListenerFactory) Kind() Kind      { return f.kind }
func (f *ListenerFactory) Address() string { return f.address }

func (f *ListenerFactory) Obtain(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &endpoint{
		accept:   f.listener.Accept,
		describe: f.describe,
		framing:  f.framing,
		aborted:  make(chan struct{}),
	}, nil
}

func (f *ListenerFactory) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.listener.Close()
	})
	return f.closeErr
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// endpoint serves one client over a net.Conn.
type endpoint struct {
	accept   func() (net.Conn, error)
	describe func(net.Conn) string
	framing  Framing

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	msg       []byte
	peer      string
	closed    bool
	aborted   chan struct{}
	abortOnce sync.Once
}

func (e *endpoint) isAborted() bool {
	select {
	case <-e.aborted:
		return true
	default:
		return false
	}
}

// Connect waits for the next peer. Accept runs on its own goroutine so
// that Abort can return control immediately; a peer accepted after the
// abort is dropped.
func (e *endpoint) Connect() error {
	if e.isAborted() {
		return ErrAborted
	}

	done := make(chan acceptResult, 1)
	go func() {
		c, err := e.accept()
		done <- acceptResult{conn: c, err: err}
	}()

	var res acceptResult
	select {
	case res = <-done:
	case <-e.aborted:
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return ErrAborted
	}

	if res.err != nil {
		if e.isAborted() {
			return ErrAborted
		}
		return fmt.Errorf("%w: %w", ErrConnectFailed, res.err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isAborted() || e.closed {
		res.conn.Close()
		return ErrAborted
	}
	e.conn = res.conn
	e.peer = e.describe(res.conn)
	if e.framing == FrameMessages {
		e.msg = make([]byte, MaxLineSize+1)
	} else {
		e.reader = bufio.NewReaderSize(res.conn, 4096)
	}
	return nil
}

func (e *endpoint) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil && !e.closed
}

func (e *endpoint) current() (net.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil || e.closed {
		return nil, ErrNotConnected
	}
	return e.conn, nil
}

// Read returns the next request with any trailing CR/LF removed. A request
// over MaxLineSize is discarded and reported as ErrLineTooLong.
func (e *endpoint) Read() (string, error) {
	if e.isAborted() {
		return "", ErrAborted
	}
	c, err := e.current()
	if err != nil {
		return "", err
	}

	var req string
	if e.framing == FrameMessages {
		req, err = readMessage(c, e.msg)
	} else {
		req, err = readLine(e.reader)
	}
	if errors.Is(err, ErrLineTooLong) {
		return "", err
	}
	if err != nil {
		return "", e.classify("read", err)
	}
	return req, nil
}

// readLine reads up to the next newline. An over-long line is consumed to
// its end without being buffered. A final line cut short by EOF is still
// returned.
func readLine(br *bufio.Reader) (string, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		frag, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(frag) > MaxLineSize+2 {
				tooLong, line = true, nil
			} else {
				line = append(line, frag...)
			}
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			break
		}
		return "", err
	}

	req := strings.TrimRight(string(line), "\r\n")
	if tooLong || len(req) > MaxLineSize {
		return "", ErrLineTooLong
	}
	return req, nil
}

// readMessage reads one pipe message into buf, which is one byte longer
// than MaxLineSize so that a full buffer marks an over-long message.
func readMessage(c net.Conn, buf []byte) (string, error) {
	n, err := c.Read(buf)
	if n == 0 && err != nil {
		return "", err
	}
	if n > MaxLineSize {
		for n == len(buf) {
			if n, err = c.Read(buf); err != nil {
				return "", err
			}
		}
		return "", ErrLineTooLong
	}
	return strings.TrimRight(string(buf[:n]), "\r\n"), nil
}

func (e *endpoint) Write(msg string) error {
	if e.isAborted() {
		return ErrAborted
	}
	c, err := e.current()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(c, msg); err != nil {
		return e.classify("write", err)
	}
	return nil
}

// classify maps a conn error onto the transport's error taxonomy.
func (e *endpoint) classify(op string, err error) error {
	if e.isAborted() {
		return ErrAborted
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) || isDisconnect(err) {
		return ErrPeerDisconnected
	}
	return fmt.Errorf("transport %s: %w", op, err)
}

// Abort cancels a blocked Connect, Read or Write. A deadline in the past
// unblocks pending conn I/O without closing it, so the worker can still
// observe ErrAborted before the owner closes the endpoint.
func (e *endpoint) Abort() {
	e.abortOnce.Do(func() { close(e.aborted) })

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		_ = e.conn.SetDeadline(time.Now())
	}
}

func (e *endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func (e *endpoint) Peer() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}
