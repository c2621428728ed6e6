package registry

import (
	"context"
	"net"
	"sync"
)

// SessionID identifies a client session. IDs start at 1, increase
// monotonically and are never reused within a server's lifetime.
type SessionID uint64

// ClientRequestInfo describes the transfer a session is serving.
//
// It starts empty, is filled in once the client's request has been read,
// and its BytesTransferred grows as payload bytes are sent.
type ClientRequestInfo struct {
	Filename         string
	BytesTransferred uint64
	BytesToTransfer  uint64
}

// halfCloser is implemented by connections that can shut down each
// direction independently (*net.TCPConn, *net.UnixConn).
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Session is the shared state of one accepted connection.
//
// The connection is read and written only by the goroutine serving the
// session. Its open/closed state, however, is shared with administrative
// disconnects, so every shutdown or close goes through connMu. Request info
// has its own lock so that snapshots never wait on connection teardown.
type Session struct {
	id   SessionID
	conn net.Conn

	infoMu sync.Mutex
	info   ClientRequestInfo

	connMu   sync.Mutex
	shutdown bool
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession wraps conn in a session. The session's context is derived from
// parent and is cancelled by Shutdown and Close.
func NewSession(parent context.Context, id SessionID, conn net.Conn) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:     id,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) ID() SessionID {
	return s.id
}

// Conn returns the underlying connection. Only the serving goroutine may do
// I/O on it.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// Context is cancelled when the session is shut down or closed.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) RemoteAddr() string {
	if s.conn == nil || s.conn.RemoteAddr() == nil {
		return "unknown"
	}
	return s.conn.RemoteAddr().String()
}

// Info returns a copy of the current request info.
func (s *Session) Info() ClientRequestInfo {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	return s.info
}

// BeginTransfer records the requested file and its size, resetting progress.
func (s *Session) BeginTransfer(filename string, total uint64) {
	s.infoMu.Lock()
	s.info = ClientRequestInfo{
		Filename:        filename,
		BytesToTransfer: total,
	}
	s.infoMu.Unlock()
}

// AddTransferred advances the progress counter by n, never past the total,
// and returns the new value.
func (s *Session) AddTransferred(n uint64) uint64 {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()

	s.info.BytesTransferred += n
	if s.info.BytesTransferred > s.info.BytesToTransfer {
		s.info.BytesTransferred = s.info.BytesToTransfer
	}
	return s.info.BytesTransferred
}

// Shutdown aborts the session's I/O without releasing the connection.
//
// Both directions are half-closed when the connection supports it, which
// wakes the serving goroutine's pending read or write. Other connections are
// closed outright. The session context is cancelled either way.
//
// It returns false if the session was already shut down or closed.
func (s *Session) Shutdown() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.shutdown || s.closed {
		return false
	}
	s.shutdown = true
	s.cancel()

	if hc, ok := s.conn.(halfCloser); ok {
		_ = hc.CloseRead()
		_ = hc.CloseWrite()
		return true
	}

	s.closed = true
	_ = s.conn.Close()
	return true
}

// Close releases the connection. Only the first call closes it; later calls
// return nil.
func (s *Session) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.cancel()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// IsClosed reports whether Close (or a non-half-closing Shutdown) has run.
func (s *Session) IsClosed() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.closed
}

// WasShutdown reports whether the session was shut down from outside.
func (s *Session) WasShutdown() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.shutdown
}
