package xfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jpillora/sizestr"
	"github.com/marmos91/dittoxfer/internal/logger"
	"github.com/marmos91/dittoxfer/internal/protocol/wire"
	"github.com/marmos91/dittoxfer/internal/ratelimiter"
	"github.com/marmos91/dittoxfer/pkg/content"
	"github.com/marmos91/dittoxfer/pkg/registry"
)

// SessionState is the lifecycle state of one client session.
type SessionState int

const (
	SessionConnected SessionState = iota
	SessionAwaitingRequest
	SessionServing
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnected:
		return "connected"
	case SessionAwaitingRequest:
		return "awaiting_request"
	case SessionServing:
		return "serving"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Request outcomes reported to metrics.
const (
	statusOK       = "ok"
	statusNotFound = "not_found"
	statusAborted  = "aborted"
	statusError    = "error"
)

// XferConnection serves a single client: it reads one "filename#" request,
// answers with "<len>#<bytes>" and closes.
//
// The connection's receive buffer persists across reads so that bytes read
// past a delimiter are not lost.
type XferConnection struct {
	server  *XferAdapter
	session *registry.Session
	conn    net.Conn
	buf     bytes.Buffer
	state   SessionState
}

// NewXferConnection creates the handler for an accepted and registered
// session.
func NewXferConnection(server *XferAdapter, session *registry.Session) *XferConnection {
	return &XferConnection{
		server:  server,
		session: session,
		conn:    session.Conn(),
		state:   SessionConnected,
	}
}

func (c *XferConnection) setState(state SessionState) {
	logger.Debug("CID=%d| %s -> %s", c.session.ID(), c.state, state)
	c.state = state
}

// Serve runs the session to completion. Cleanup runs on every exit path:
// the connection is closed (at most once, even if an administrative
// disconnect raced it) and then the session is removed from the registry.
func (c *XferConnection) Serve() {
	id := c.session.ID()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("CID=%d| Panic in session handler: %v", id, r)
		}

		c.setState(SessionClosing)
		if err := c.session.Close(); err != nil {
			logger.Debug("CID=%d| Error closing connection: %v", id, err)
		}
		c.server.registry.Remove(id)
		if c.session.WasShutdown() {
			c.server.metrics.RecordConnectionForceClosed()
		}
		c.setState(SessionClosed)

		info := c.session.Info()
		logger.Info("CID=%d| Session closed (%d/%d bytes of %q)",
			id, info.BytesTransferred, info.BytesToTransfer, info.Filename)
	}()

	c.setState(SessionAwaitingRequest)

	filename, err := c.readRequest()
	if err != nil {
		c.logError("reading request", err)
		return
	}

	c.setState(SessionServing)
	logger.Info("CID=%d| Requested file %q", id, filename)

	start := time.Now()
	status, err := c.serveFile(filename)
	c.server.metrics.RecordRequest(status, time.Since(start))

	if err != nil {
		c.logError("sending file", err)
		return
	}

	logger.Debug("CID=%d| Finished sending %q in %v", id, filename, time.Since(start))
}

// readRequest reads the delimiter-terminated filename.
func (c *XferConnection) readRequest() (string, error) {
	if c.server.config.ReadTimeout > 0 {
		deadline := time.Now().Add(c.server.config.ReadTimeout)
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return "", fmt.Errorf("set read deadline: %w", err)
		}
	}

	return wire.ReadUntilDelimiter(c.conn, &c.buf, wire.Delimiter)
}

// serveFile sends the length header and then the payload, paced by the
// configured pacer. A file that cannot be loaded is answered with an empty
// payload ("0#").
func (c *XferConnection) serveFile(filename string) (string, error) {
	id := c.session.ID()
	ctx := c.session.Context()

	status := statusOK
	data, err := c.loadFile(ctx, filename)
	if err != nil {
		if errors.Is(err, content.ErrContentNotFound) || errors.Is(err, content.ErrInvalidContentID) {
			logger.Info("CID=%d| Unable to serve %q: %v", id, filename, err)
			status = statusNotFound
		} else {
			logger.Warn("CID=%d| Failed to load %q: %v", id, filename, err)
			status = statusError
		}
		data = nil
	}

	c.session.BeginTransfer(filename, uint64(len(data)))

	if err := c.send(wire.EncodeLengthHeader(len(data))); err != nil {
		return statusAborted, err
	}

	if len(data) == 0 {
		return status, nil
	}

	logger.Debug("CID=%d| Sending %s", id, sizestr.ToString(int64(len(data))))

	pacer, err := ratelimiter.NewPacer(c.server.pacing)
	if err != nil {
		return statusError, err
	}

	sent, err := c.sendPaced(ctx, pacer, data)
	c.server.metrics.RecordBytesSent(sent)
	if err != nil {
		return statusAborted, err
	}

	return status, nil
}

// sendPaced writes data one byte at a time, recording progress after each
// write and then waiting on pacer. The wait after the last byte is kept, so
// the session of an N byte transfer lasts at least N pacing intervals.
func (c *XferConnection) sendPaced(ctx context.Context, pacer ratelimiter.Pacer, data []byte) (uint64, error) {
	if pacer.Unlimited() {
		if err := c.send(data); err != nil {
			return 0, err
		}
		c.session.AddTransferred(uint64(len(data)))
		return uint64(len(data)), nil
	}

	var sent uint64
	for i := range data {
		if err := c.send(data[i : i+1]); err != nil {
			return sent, err
		}
		sent++
		c.session.AddTransferred(1)

		if err := pacer.Wait(ctx); err != nil {
			return sent, fmt.Errorf("pacing interrupted after %d bytes: %w", sent, err)
		}
	}

	return sent, nil
}

func (c *XferConnection) loadFile(ctx context.Context, filename string) ([]byte, error) {
	id, err := content.ParseID(filename)
	if err != nil {
		return nil, err
	}
	return content.ReadAll(ctx, c.server.store, id)
}

func (c *XferConnection) send(p []byte) error {
	if c.server.config.WriteTimeout > 0 {
		deadline := time.Now().Add(c.server.config.WriteTimeout)
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	return wire.Send(c.conn, p)
}

// logError logs a session-ending error at a level matching its cause.
func (c *XferConnection) logError(op string, err error) {
	id := c.session.ID()

	var netErr net.Error
	switch {
	case c.session.WasShutdown():
		logger.Info("CID=%d| Disconnected while %s", id, op)
	case errors.Is(err, context.Canceled):
		logger.Debug("CID=%d| Cancelled while %s: %v", id, op, err)
	case wire.IsConnectionClosed(err):
		logger.Debug("CID=%d| Connection closed by client while %s: %v", id, op, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("CID=%d| Timed out while %s: %v", id, op, err)
	default:
		logger.Warn("CID=%d| Error %s: %v", id, op, err)
	}
}
