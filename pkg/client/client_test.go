package client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittoxfer/internal/protocol/wire"
	"github.com/marmos91/dittoxfer/pkg/adapter/xfer"
	"github.com/marmos91/dittoxfer/pkg/content/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer accepts one connection, reads the request and writes reply.
func scriptedServer(t *testing.T, reply string) (string, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	requests := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var buf bytes.Buffer
		name, err := wire.ReadUntilDelimiter(conn, &buf, wire.Delimiter)
		if err != nil {
			return
		}
		requests <- name
		_, _ = conn.Write([]byte(reply))
	}()

	return ln.Addr().String(), requests
}

func TestFetchAgainstServer(t *testing.T) {
	store, err := memory.NewMemoryContentStoreWithFiles(context.Background(), map[string]string{
		"hello.txt": "hi",
		"big.bin":   strings.Repeat("z", 3*wire.ReadChunkSize+7),
	})
	require.NoError(t, err)

	a := xfer.New(xfer.XferConfig{
		BindAddress: "127.0.0.1",
		RateLimit:   xfer.RateLimitConfig{Mode: "none"},
	}, store, nil)
	require.NoError(t, a.Listen())
	go func() { _ = a.Serve(context.Background()) }()
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	c := New(Config{Address: a.Addr().String(), DialTimeout: time.Second})

	data, err := c.Fetch(context.Background(), "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	data, err = c.Fetch(context.Background(), "big.bin")
	require.NoError(t, err)
	assert.Len(t, data, 3*wire.ReadChunkSize+7)

	_, err = c.Fetch(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestFetchSendsRequestAndReadsPayload(t *testing.T) {
	addr, requests := scriptedServer(t, "5#hello")

	data, err := New(Config{Address: addr}).Fetch(context.Background(), "greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "greeting.txt", <-requests)
}

func TestFetchZeroLength(t *testing.T) {
	addr, _ := scriptedServer(t, "0#")

	_, err := New(Config{Address: addr}).Fetch(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestFetchMalformedHeader(t *testing.T) {
	addr, _ := scriptedServer(t, "abc#")

	_, err := New(Config{Address: addr}).Fetch(context.Background(), "x")
	var perr *wire.ProtocolError
	assert.True(t, errors.As(err, &perr), "got %v", err)
}

func TestFetchHugeLengthHeader(t *testing.T) {
	for _, reply := range []string{"9223372036854775807#abc", "100000000000#abc"} {
		t.Run(reply, func(t *testing.T) {
			addr, _ := scriptedServer(t, reply)

			var err error
			require.NotPanics(t, func() {
				_, err = New(Config{Address: addr}).Fetch(context.Background(), "x")
			})

			var perr *wire.ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, perr.Reason, "exceeds limit")
		})
	}
}

func TestFetchRespectsMaxResponseSize(t *testing.T) {
	addr, _ := scriptedServer(t, "5#hello")

	_, err := New(Config{Address: addr, MaxResponseSize: 4}).Fetch(context.Background(), "x")
	var perr *wire.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "5", perr.Header)
}

func TestFetchShortPayload(t *testing.T) {
	addr, _ := scriptedServer(t, "10#abc")

	_, err := New(Config{Address: addr}).Fetch(context.Background(), "x")
	var terr *wire.TransportError
	require.True(t, errors.As(err, &terr), "got %v", err)
}

func TestFetchRejectsInvalidFilename(t *testing.T) {
	c := New(Config{Address: "127.0.0.1:1"})

	_, err := c.Fetch(context.Background(), "a#b")
	assert.ErrorIs(t, err, wire.ErrInvalidFilename)

	_, err = c.Fetch(context.Background(), "")
	assert.ErrorIs(t, err, wire.ErrInvalidFilename)
}

func TestFetchCancelledWhileWaiting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept but never answer.
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(5 * time.Second)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = New(Config{Address: ln.Addr().String()}).Fetch(ctx, "slow.txt")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := New(Config{Address: addr, MaxRetries: 2, MaxRetryInterval: 20 * time.Millisecond})
	_, err = c.Fetch(context.Background(), "hello.txt")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connect to")
}

func TestSaveResponse(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1700000000, 0)

	path, err := SaveResponse(dir, "docs/hello.txt", []byte("hi"), now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "hello.txt.1700000000"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not remain")
}

func TestSaveResponseMissingDir(t *testing.T) {
	_, err := SaveResponse(filepath.Join(t.TempDir(), "nope"), "a.txt", []byte("x"), time.Now())
	assert.Error(t, err)
}

func TestOutputName(t *testing.T) {
	now := time.Unix(42, 0)
	assert.Equal(t, "a.txt.42", OutputName("a.txt", now))
	assert.Equal(t, "c.bin.42", OutputName("a/b/c.bin", now))
}
