package xfer

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittoxfer/internal/protocol/wire"
	"github.com/marmos91/dittoxfer/pkg/content/memory"
	"github.com/marmos91/dittoxfer/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runningAdapter struct {
	adapter  *XferAdapter
	addr     string
	serveErr chan error
}

func startAdapter(t *testing.T, cfg XferConfig, files map[string]string) *runningAdapter {
	t.Helper()

	store, err := memory.NewMemoryContentStoreWithFiles(context.Background(), files)
	require.NoError(t, err)

	cfg.BindAddress = "127.0.0.1"
	cfg.Port = 0
	a := New(cfg, store, nil)
	require.NoError(t, a.Listen())

	r := &runningAdapter{
		adapter:  a,
		addr:     a.Addr().String(),
		serveErr: make(chan error, 1),
	}
	go func() { r.serveErr <- a.Serve(context.Background()) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return r
}

func fixedDelay(d time.Duration) XferConfig {
	return XferConfig{RateLimit: RateLimitConfig{Mode: "fixed", SendDelay: d}}
}

// requestFile dials, sends the request and returns the connection, the
// receive buffer and the announced length.
func requestFile(t *testing.T, addr, filename string) (net.Conn, *bytes.Buffer, int) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	req, err := wire.EncodeRequest(filename)
	require.NoError(t, err)
	require.NoError(t, wire.Send(conn, req))

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := &bytes.Buffer{}
	header, err := wire.ReadUntilDelimiter(conn, buf, wire.Delimiter)
	require.NoError(t, err)
	n, err := wire.ParseLength(header)
	require.NoError(t, err)
	return conn, buf, n
}

func waitForSessions(t *testing.T, a *XferAdapter, n int) []registry.SessionInfo {
	t.Helper()
	var snap []registry.SessionInfo
	require.Eventually(t, func() bool {
		snap = a.ListConnections()
		return len(snap) == n
	}, 5*time.Second, 5*time.Millisecond, "expected %d sessions", n)
	return snap
}

func TestMissingFileRespondsZero(t *testing.T) {
	r := startAdapter(t, fixedDelay(time.Millisecond), nil)

	conn, buf, n := requestFile(t, r.addr, "missing.txt")
	assert.Equal(t, 0, n)

	rest, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Zero(t, buf.Len())

	waitForSessions(t, r.adapter, 0)
}

func TestServesFileWithPacing(t *testing.T) {
	r := startAdapter(t, fixedDelay(200*time.Millisecond), map[string]string{"hello.txt": "hi"})

	start := time.Now()
	conn, buf, n := requestFile(t, r.addr, "hello.txt")
	require.Equal(t, 2, n)

	snap := r.adapter.ListConnections()
	require.Len(t, snap, 1)
	assert.Equal(t, "hello.txt", snap[0].Info.Filename)
	assert.Equal(t, uint64(2), snap[0].Info.BytesToTransfer)
	assert.LessOrEqual(t, snap[0].Info.BytesTransferred, uint64(1))

	payload, err := wire.ReadExact(conn, buf, n)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(payload))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	// Progress is recorded before the pause that follows each byte
	assert.Eventually(t, func() bool {
		snap := r.adapter.ListConnections()
		return len(snap) == 1 && snap[0].Info.BytesTransferred == 2
	}, 150*time.Millisecond, 5*time.Millisecond)

	// The session stays open for the pause after the last byte
	waitForSessions(t, r.adapter, 0)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestUnlimitedPacingSendsWholePayload(t *testing.T) {
	body := strings.Repeat("0123456789", 10_000)
	r := startAdapter(t, XferConfig{RateLimit: RateLimitConfig{Mode: "none"}}, map[string]string{"big.bin": body})

	conn, buf, n := requestFile(t, r.addr, "big.bin")
	require.Equal(t, len(body), n)

	payload, err := wire.ReadExact(conn, buf, n)
	require.NoError(t, err)
	assert.Equal(t, body, string(payload))
}

func TestTokenBucketPacing(t *testing.T) {
	cfg := XferConfig{RateLimit: RateLimitConfig{Mode: "token_bucket", BytesPerSecond: 100, Burst: 1}}
	r := startAdapter(t, cfg, map[string]string{"ten.bin": "0123456789"})

	start := time.Now()
	conn, buf, n := requestFile(t, r.addr, "ten.bin")
	payload, err := wire.ReadExact(conn, buf, n)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(payload))
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestDisconnectMidTransfer(t *testing.T) {
	files := map[string]string{
		"slow.bin":  strings.Repeat("x", 100),
		"small.txt": "ok",
	}
	r := startAdapter(t, fixedDelay(20*time.Millisecond), files)

	slowConn, slowBuf, n := requestFile(t, r.addr, "slow.bin")
	require.Equal(t, 100, n)

	snap := r.adapter.ListConnections()
	require.Len(t, snap, 1)
	slowID := snap[0].ID
	require.Equal(t, "slow.bin", snap[0].Info.Filename)

	smallConn, smallBuf, m := requestFile(t, r.addr, "small.txt")
	require.Equal(t, 2, m)

	assert.True(t, r.adapter.Disconnect(slowID))
	assert.NotPanics(t, func() { r.adapter.Disconnect(slowID) })

	_, err := wire.ReadExact(slowConn, slowBuf, n)
	assert.Error(t, err, "disconnected client must not receive the full payload")

	payload, err := wire.ReadExact(smallConn, smallBuf, m)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(payload))

	waitForSessions(t, r.adapter, 0)
	assert.False(t, r.adapter.Disconnect(slowID))
}

func TestDisconnectUnknownSession(t *testing.T) {
	r := startAdapter(t, fixedDelay(time.Millisecond), nil)
	assert.False(t, r.adapter.Disconnect(999))
}

func TestDisconnectWhileAwaitingRequest(t *testing.T) {
	r := startAdapter(t, fixedDelay(time.Millisecond), nil)

	conn, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer conn.Close()

	snap := waitForSessions(t, r.adapter, 1)
	require.True(t, r.adapter.Disconnect(snap[0].ID))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	waitForSessions(t, r.adapter, 0)
}

func TestSessionIDsAreDistinctAndIncreasing(t *testing.T) {
	r := startAdapter(t, fixedDelay(time.Millisecond), nil)

	var ids []registry.SessionID
	for i := 0; i < 8; i++ {
		conn, err := net.Dial("tcp", r.addr)
		require.NoError(t, err)
		defer conn.Close()

		snap := waitForSessions(t, r.adapter, i+1)
		ids = append(ids, snap[len(snap)-1].ID)
	}

	for i, id := range ids {
		assert.Equal(t, registry.SessionID(i+1), id)
	}
}

func TestStopServerAbortsTransfersAndJoins(t *testing.T) {
	big := strings.Repeat("y", 10_000)
	r := startAdapter(t, fixedDelay(10*time.Millisecond), map[string]string{"big.bin": big})

	type client struct {
		conn net.Conn
		buf  *bytes.Buffer
		n    int
	}
	var clients []client
	for i := 0; i < 3; i++ {
		conn, buf, n := requestFile(t, r.addr, "big.bin")
		require.Equal(t, len(big), n)
		clients = append(clients, client{conn, buf, n})
	}
	waitForSessions(t, r.adapter, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.adapter.StopServer(ctx))

	for _, c := range clients {
		_, err := wire.ReadExact(c.conn, c.buf, c.n)
		assert.Error(t, err)
	}

	assert.Empty(t, r.adapter.ListConnections())
	assert.Equal(t, StateClosed, r.adapter.State())
	assert.Zero(t, r.adapter.GetActiveConnections())

	select {
	case err := <-r.serveErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after StopServer")
	}

	_, err := net.DialTimeout("tcp", r.addr, time.Second)
	assert.Error(t, err, "listener must be closed")

	require.NoError(t, r.adapter.Stop(ctx), "Stop is idempotent")
}

func TestServeContextCancellation(t *testing.T) {
	store, err := memory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)

	a := New(XferConfig{BindAddress: "127.0.0.1"}, store, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()

	require.Eventually(t, func() bool { return a.State() == StateListening }, 5*time.Second, 5*time.Millisecond)
	assert.NotZero(t, a.Port())

	conn, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	waitForSessions(t, a, 1)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
	assert.Empty(t, a.ListConnections())
}

func TestStopBeforeServe(t *testing.T) {
	store, err := memory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)

	a := New(XferConfig{BindAddress: "127.0.0.1"}, store, nil)
	assert.Equal(t, StateIdle, a.State())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, StateClosed, a.State())

	assert.Error(t, a.Serve(context.Background()))
	assert.Error(t, a.Listen())
}

func TestMaxConnectionsDefersAccept(t *testing.T) {
	cfg := fixedDelay(time.Millisecond)
	cfg.MaxConnections = 1
	r := startAdapter(t, cfg, map[string]string{"a.txt": "a"})

	first, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer first.Close()
	snap := waitForSessions(t, r.adapter, 1)

	// The second client completes the TCP handshake via the backlog but is
	// not accepted until the first session ends.
	second, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer second.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, r.adapter.ListConnections(), 1)

	require.True(t, r.adapter.Disconnect(snap[0].ID))

	req, _ := wire.EncodeRequest("a.txt")
	require.NoError(t, wire.Send(second, req))
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, "1#a", string(got))
}

func TestReadTimeoutClosesIdleSession(t *testing.T) {
	cfg := fixedDelay(time.Millisecond)
	cfg.ReadTimeout = 100 * time.Millisecond
	r := startAdapter(t, cfg, nil)

	conn, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer conn.Close()

	waitForSessions(t, r.adapter, 1)
	waitForSessions(t, r.adapter, 0)
}

func TestPipelinedBytesAfterRequestAreIgnored(t *testing.T) {
	r := startAdapter(t, fixedDelay(time.Millisecond), map[string]string{"hello.txt": "hi"})

	conn, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.Send(conn, []byte("hello.txt#trailing")))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	buf := &bytes.Buffer{}
	header, err := wire.ReadUntilDelimiter(conn, buf, wire.Delimiter)
	require.NoError(t, err)
	assert.Equal(t, "2", header)
	payload, err := wire.ReadExact(conn, buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(payload))
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	store, err := memory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)

	assert.Panics(t, func() { New(XferConfig{Port: 70000}, store, nil) })
	assert.Panics(t, func() {
		New(XferConfig{RateLimit: RateLimitConfig{Mode: "token_bucket"}}, store, nil)
	})
	assert.Panics(t, func() { New(XferConfig{}, nil, nil) })
}

func TestProtocolAndPort(t *testing.T) {
	store, err := memory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)

	a := New(XferConfig{Port: 9000}, store, nil)
	assert.Equal(t, "XFER", a.Protocol())
	assert.Equal(t, 9000, a.Port())
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "accept timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// failingListener hands out one real connection, then fails every Accept.
type failingListener struct {
	net.Listener
	accepted atomic.Int32
}

func (l *failingListener) Accept() (net.Conn, error) {
	if l.accepted.Add(1) == 1 {
		return l.Listener.Accept()
	}
	return nil, timeoutError{}
}

func TestAcceptErrorEndsServe(t *testing.T) {
	store, err := memory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)

	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	a := New(XferConfig{BindAddress: "127.0.0.1"}, store, nil)
	a.listener = &failingListener{Listener: inner}

	conn, err := net.Dial("tcp", inner.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(context.Background()) }()

	select {
	case err := <-errCh:
		var netErr net.Error
		require.ErrorAs(t, err, &netErr)
		assert.True(t, netErr.Timeout())
	case <-time.After(5 * time.Second):
		t.Fatal("Serve kept accepting after a non-shutdown accept error")
	}

	// The session accepted before the failure was disconnected and joined
	assert.Empty(t, a.ListConnections())
	assert.Equal(t, StateClosed, a.State())
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}
