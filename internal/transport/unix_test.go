//go:build unix

package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnixSocketRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.sock")
	f, err := Listen(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, KindUnixSocket, f.Kind())
	assert.Equal(t, path, f.Address())

	ep, err := f.Obtain(context.Background())
	require.NoError(t, err)
	defer ep.Close()

	connected := make(chan error, 1)
	go func() { connected <- ep.Connect() }()

	conn, err := Dial(context.Background(), path)
	require.NoError(t, err)
	client := NewClient(conn)
	defer client.Close()
	require.NoError(t, <-connected)
	assert.NotEmpty(t, ep.Peer())

	go func() {
		req, err := ep.Read()
		if err == nil {
			ep.Write("echo " + req + "\n")
		}
	}()

	reply, err := client.Do("ping")
	require.NoError(t, err)
	assert.Equal(t, "echo ping", reply)
}

func TestUnixListenReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	// Leave the socket file behind as a crashed process would.
	l.SetUnlinkOnClose(false)
	require.NoError(t, l.Close())

	f, err := Listen(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, path, f.Address())
}

func TestUnixListenRefusesLiveSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.sock")
	first, err := Listen(path)
	require.NoError(t, err)
	defer first.Close()

	_, err = Listen(path)
	assert.ErrorIs(t, err, ErrChannelInUse)

	_, err = os.Lstat(path)
	assert.NoError(t, err, "live socket must not be removed")
}

func TestUnixListenRefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-socket")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := Listen(path)
	assert.Error(t, err)
}
