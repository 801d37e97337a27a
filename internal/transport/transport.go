// Package transport defines the bridge's channel endpoint contract and its
// platform implementations.
//
// Key concepts:
//   - Transport: one endpoint serving exactly one client for its lifetime.
//     Connect waits for a peer; Read yields one request line with the
//     terminator stripped; Write sends one reply (the caller appends the
//     terminator).
//   - Factory: hands out fresh, not yet connected endpoints bound to the
//     well-known channel identity.
//   - Abort: cancels whatever blocking call is in progress on an endpoint.
//     The call returns ErrAborted instead of failing.
//
// Implementations: unix domain socket (non-Windows), named pipe (Windows,
// go-winio), and an in-memory pipe used by tests.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrAborted is returned by a blocking call cancelled through Abort. It
	// is a control signal, not a failure.
	ErrAborted = errors.New("transport: aborted")
	// ErrPeerDisconnected is returned once the remote end has gone away.
	ErrPeerDisconnected = errors.New("transport: peer disconnected")
	// ErrConnectFailed wraps failures while waiting for a peer.
	ErrConnectFailed = errors.New("transport: connect failed")
	// ErrNotConnected is returned for I/O on an endpoint without a peer.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrLineTooLong is returned by Read for a request over MaxLineSize.
	// The rest of the request has been discarded and the session can
	// continue.
	ErrLineTooLong = errors.New("transport: request too long")
	// ErrChannelInUse is returned by Listen when another process is
	// already serving the channel.
	ErrChannelInUse = errors.New("transport: channel in use")
)

// Kind identifies the channel primitive behind a Factory.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnixSocket
	KindWinPipe
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindUnixSocket:
		return "unix"
	case KindWinPipe:
		return "winpipe"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// Transport is one bidirectional, connection-oriented endpoint. Exactly one
// goroutine performs blocking calls on it; Abort and Close may be called
// from any goroutine.
type Transport interface {
	// Connect blocks until a peer connects.
	Connect() error
	IsConnected() bool
	// Read blocks until one full request line is available.
	Read() (string, error)
	// Write blocks until msg is fully written.
	Write(msg string) error
	// Abort makes the in-progress or next blocking call return ErrAborted.
	Abort()
	// Close releases the endpoint. It is safe to call more than once.
	Close() error
	// Peer describes the connected client for logging.
	Peer() string
}

// Factory produces endpoints bound to one channel identity.
type Factory interface {
	Kind() Kind
	// Address is the channel identity clients dial.
	Address() string
	// Obtain returns a new, not yet connected endpoint.
	Obtain(ctx context.Context) (Transport, error)
	// Close stops accepting peers. Endpoints already connected are not
	// affected.
	Close() error
}
