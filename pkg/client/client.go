// Package client implements the requesting side of the file transfer
// protocol: send "filename#", read "<len>#", then read exactly len bytes.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"
	"github.com/jpillora/sizestr"
	"github.com/marmos91/dittoxfer/internal/logger"
	"github.com/marmos91/dittoxfer/internal/protocol/wire"
)

// ErrNotAvailable is returned when the server answers with a zero length,
// meaning the file does not exist or could not be read.
var ErrNotAvailable = errors.New("file not available on server")

// DefaultMaxResponseSize is the largest payload a Client accepts unless
// Config.MaxResponseSize says otherwise.
const DefaultMaxResponseSize = 1 << 30

// Config configures a Client.
type Config struct {
	// Address is the server's host:port.
	Address string

	// DialTimeout bounds each connection attempt. 0 means no timeout.
	DialTimeout time.Duration

	// MaxRetries is the number of additional dial attempts after a failed
	// one. 0 disables retries.
	MaxRetries int

	// MaxRetryInterval caps the backoff between dial attempts.
	MaxRetryInterval time.Duration

	// MaxResponseSize rejects announced lengths above it with a
	// *wire.ProtocolError before any payload is read. 0 means
	// DefaultMaxResponseSize.
	MaxResponseSize int
}

// Client fetches files from a transfer server. A Client is safe for
// concurrent use; every Fetch uses its own connection.
type Client struct {
	config Config
	dialer net.Dialer
}

// New returns a client for the server at config.Address.
func New(config Config) *Client {
	if config.MaxRetryInterval <= 0 {
		config.MaxRetryInterval = 5 * time.Second
	}
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = DefaultMaxResponseSize
	}
	return &Client{
		config: config,
		dialer: net.Dialer{Timeout: config.DialTimeout},
	}
}

// Fetch requests filename and returns its contents.
//
// Cancelling ctx closes the connection, which aborts any blocked read. A
// server that disconnects before the announced length has been received
// yields a *wire.TransportError.
func (c *Client) Fetch(ctx context.Context, filename string) ([]byte, error) {
	req, err := wire.EncodeRequest(filename)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	data, err := c.exchange(conn, req)
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("fetch %q: %w", filename, ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", filename, err)
	}

	logger.Debug("Received %q (%s)", filename, sizestr.ToString(int64(len(data))))
	return data, nil
}

func (c *Client) exchange(conn net.Conn, req []byte) ([]byte, error) {
	if err := wire.Send(conn, req); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	header, err := wire.ReadUntilDelimiter(conn, &buf, wire.Delimiter)
	if err != nil {
		return nil, err
	}

	n, err := wire.ParseLength(header)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotAvailable
	}
	if n > c.config.MaxResponseSize {
		return nil, &wire.ProtocolError{
			Header: header,
			Reason: fmt.Sprintf("length exceeds limit of %s", sizestr.ToString(int64(c.config.MaxResponseSize))),
		}
	}

	return wire.ReadExact(conn, &buf, n)
}

// dial connects to the server, retrying with exponential backoff up to
// MaxRetries times.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: c.config.MaxRetryInterval}

	for {
		conn, err := c.dialer.DialContext(ctx, "tcp", c.config.Address)
		if err == nil {
			return conn, nil
		}

		attempt := int(b.Attempt())
		if attempt >= c.config.MaxRetries || ctx.Err() != nil {
			return nil, fmt.Errorf("connect to %s: %w", c.config.Address, err)
		}

		d := b.Duration()
		logger.Info("Connection error: %v (attempt %d/%d), retrying in %s",
			err, attempt+1, c.config.MaxRetries, d)

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("connect to %s: %w", c.config.Address, ctx.Err())
		case <-t.C:
		}
	}
}
