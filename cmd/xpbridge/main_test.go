package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"xpbridge/internal/capture"
	"xpbridge/internal/network"
	"xpbridge/internal/transport"
)

func TestDumpRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.zst")
	w, err := capture.Create(path)
	require.NoError(t, err)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.Record("a", 1, "get:sim/x", "{invalid_dataref}", at))
	require.NoError(t, w.Record("b", 1, "cmd:sim/y:once", "{ok}", at))
	require.NoError(t, w.Close())

	r, err := capture.Open(path)
	require.NoError(t, err)
	defer r.Close()

	var out bytes.Buffer
	require.NoError(t, dumpRecords(r, &out, "b"))
	assert.Equal(t, "2024-05-01T12:00:00Z b #1 cmd:sim/y:once -> {ok}\n1 exchanges\n", out.String())
}

type upper struct{}

func (upper) Handle(_ context.Context, raw string) string { return strings.ToUpper(raw) }

func TestProbeHelpers(t *testing.T) {
	f := transport.NewMemFactory(t.Name())
	l := network.New(zap.NewNop(), f, upper{}, nil)
	require.NoError(t, l.Start())
	defer l.Stop()

	conn, err := f.Dial(context.Background())
	require.NoError(t, err)
	c := transport.NewClient(conn)
	defer c.Close()

	var out bytes.Buffer
	require.NoError(t, probeAll(c, []string{"get:a", "get:b"}, &out))
	assert.Equal(t, "GET:A\nGET:B\n", out.String())

	out.Reset()
	require.NoError(t, probeLines(c, strings.NewReader("get:c\n\n  get:d  \n"), &out, false))
	assert.Equal(t, "GET:C\nGET:D\n", out.String())
}
