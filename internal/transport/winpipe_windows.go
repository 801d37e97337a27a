//go:build windows

package transport

import (
	"context"
	"errors"
	"net"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

const pipeBufferSize = 4096

// DefaultChannel is the named pipe clients have always connected to.
func DefaultChannel() string {
	return `\\.\pipe\{2145AB63-BF83-40A4-8A9D-A358D45AF1C1}`
}

// Listen binds the platform channel. On Windows that is a message-mode named
// pipe accepting any number of instances.
func Listen(name string) (Factory, error) {
	l, err := winio.ListenPipe(name, &winio.PipeConfig{
		MessageMode:      true,
		InputBufferSize:  pipeBufferSize,
		OutputBufferSize: pipeBufferSize,
	})
	if err != nil {
		return nil, err
	}
	return newListenerFactory(KindWinPipe, name, &pipeListener{Listener: l}, nil, FrameMessages), nil
}

// pipeListener reports a closed pipe listener the same way net listeners do.
type pipeListener struct {
	net.Listener
}

func (l *pipeListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if errors.Is(err, winio.ErrPipeListenerClosed) {
		return nil, net.ErrClosed
	}
	return c, err
}

// Dial connects to the named pipe as a client.
func Dial(ctx context.Context, name string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, name)
}

func isDisconnect(err error) bool {
	return errors.Is(err, windows.ERROR_BROKEN_PIPE) ||
		errors.Is(err, windows.ERROR_NO_DATA) ||
		errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED)
}
