package transport

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectPair obtains an endpoint, connects a client to it and returns both.
func connectPair(t *testing.T, f *MemFactory) (Transport, *Client) {
	t.Helper()

	ep, err := f.Obtain(context.Background())
	require.NoError(t, err)

	connected := make(chan error, 1)
	go func() { connected <- ep.Connect() }()

	conn, err := f.Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-connected)
	require.True(t, ep.IsConnected())

	t.Cleanup(func() {
		ep.Close()
		conn.Close()
	})
	return ep, NewClient(conn)
}

func TestRequestReplyOverMem(t *testing.T) {
	f := NewMemFactory("test")
	defer f.Close()
	ep, client := connectPair(t, f)

	assert.Equal(t, KindMem, f.Kind())
	assert.Equal(t, "mem:test", ep.Peer())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req, err := ep.Read()
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, "get:sim/alt", req)
		assert.NoError(t, ep.Write("sim/alt:2:100\n"))
	}()

	reply, err := client.Do("get:sim/alt")
	require.NoError(t, err)
	assert.Equal(t, "sim/alt:2:100", reply)
	wg.Wait()
}

func TestReadStripsCarriageReturn(t *testing.T) {
	f := NewMemFactory("crlf")
	defer f.Close()
	ep, client := connectPair(t, f)

	go client.conn.Write([]byte("get:x\r\n"))
	req, err := ep.Read()
	require.NoError(t, err)
	assert.Equal(t, "get:x", req)
}

func TestAbortUnblocksRead(t *testing.T) {
	f := NewMemFactory("abort-read")
	defer f.Close()
	ep, _ := connectPair(t, f)

	errc := make(chan error, 1)
	go func() {
		_, err := ep.Read()
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ep.Abort()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Abort")
	}

	assert.ErrorIs(t, ep.Write("x\n"), ErrAborted)
}

func TestAbortUnblocksWrite(t *testing.T) {
	f := NewMemFactory("abort-write")
	defer f.Close()
	ep, _ := connectPair(t, f)

	// The client never reads, so the pipe write blocks.
	errc := make(chan error, 1)
	go func() { errc <- ep.Write("sim/alt:2:100\n") }()

	time.Sleep(20 * time.Millisecond)
	ep.Abort()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("Write did not return after Abort")
	}
}

func TestOverlongLineIsDiscarded(t *testing.T) {
	f := NewMemFactory("overlong")
	defer f.Close()
	ep, client := connectPair(t, f)

	go func() {
		client.conn.Write([]byte(strings.Repeat("x", MaxLineSize+10) + "\n"))
		client.conn.Write([]byte("get:sim/alt\n"))
	}()

	_, err := ep.Read()
	require.ErrorIs(t, err, ErrLineTooLong)
	assert.True(t, ep.IsConnected())

	req, err := ep.Read()
	require.NoError(t, err)
	assert.Equal(t, "get:sim/alt", req)
}

func TestLineAtLimitIsAccepted(t *testing.T) {
	f := NewMemFactory("at-limit")
	defer f.Close()
	ep, client := connectPair(t, f)

	line := strings.Repeat("y", MaxLineSize)
	go client.conn.Write([]byte(line + "\r\n"))

	req, err := ep.Read()
	require.NoError(t, err)
	assert.Equal(t, line, req)
}

func TestFinalLineWithoutTerminator(t *testing.T) {
	f := NewMemFactory("eof-line")
	defer f.Close()
	ep, client := connectPair(t, f)

	go func() {
		client.conn.Write([]byte("get:sim/gear"))
		client.conn.Close()
	}()

	req, err := ep.Read()
	require.NoError(t, err)
	assert.Equal(t, "get:sim/gear", req)

	_, err = ep.Read()
	assert.ErrorIs(t, err, ErrPeerDisconnected)
}

func TestMessageFramingNeedsNoTerminator(t *testing.T) {
	f := NewMemMessageFactory("messages")
	defer f.Close()
	ep, client := connectPair(t, f)

	go func() {
		client.conn.Write([]byte("get:sim/alt"))
		client.conn.Write([]byte("set:sim/alt:2:5\r\n"))
	}()

	req, err := ep.Read()
	require.NoError(t, err)
	assert.Equal(t, "get:sim/alt", req)

	req, err = ep.Read()
	require.NoError(t, err)
	assert.Equal(t, "set:sim/alt:2:5", req)
}

func TestMessageFramingDiscardsOverlongMessage(t *testing.T) {
	f := NewMemMessageFactory("big-message")
	defer f.Close()
	ep, client := connectPair(t, f)

	go func() {
		client.conn.Write([]byte(strings.Repeat("z", MaxLineSize+100)))
		client.conn.Write([]byte("get:sim/alt"))
	}()

	_, err := ep.Read()
	require.ErrorIs(t, err, ErrLineTooLong)

	req, err := ep.Read()
	require.NoError(t, err)
	assert.Equal(t, "get:sim/alt", req)
}

func TestAbortUnblocksConnect(t *testing.T) {
	f := NewMemFactory("abort-connect")
	defer f.Close()

	ep, err := f.Obtain(context.Background())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- ep.Connect() }()

	time.Sleep(20 * time.Millisecond)
	ep.Abort()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("Connect did not return after Abort")
	}
	assert.False(t, ep.IsConnected())
}

func TestPeerDisconnect(t *testing.T) {
	f := NewMemFactory("hangup")
	defer f.Close()
	ep, client := connectPair(t, f)

	client.Close()
	_, err := ep.Read()
	assert.ErrorIs(t, err, ErrPeerDisconnected)
}

func TestIONotConnected(t *testing.T) {
	f := NewMemFactory("idle")
	defer f.Close()

	ep, err := f.Obtain(context.Background())
	require.NoError(t, err)

	_, err = ep.Read()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, ep.Write("x"), ErrNotConnected)
	assert.NoError(t, ep.Close())
	assert.NoError(t, ep.Close())
}

func TestConnectFailsAfterFactoryClose(t *testing.T) {
	f := NewMemFactory("closed")
	ep, err := f.Obtain(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = ep.Connect()
	assert.ErrorIs(t, err, ErrConnectFailed)

	_, err = f.Dial(context.Background())
	assert.Error(t, err)
}

func TestObtainHonorsContext(t *testing.T) {
	f := NewMemFactory("ctx")
	defer f.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Obtain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
