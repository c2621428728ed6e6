// Package wire implements the framing used between xfer clients and servers.
//
// Two framing primitives are layered over a raw byte stream:
//
//   - delimiter framing: a message is everything up to (not including) the
//     first Delimiter
//   - length framing: exactly N raw bytes, where N was announced earlier in a
//     delimiter-framed header
//
// A delimiter-framed read pulls data from the stream in chunks and may read
// past the delimiter. Those excess bytes stay in the caller's ReceiveBuffer
// and are consumed by the next read of either kind before the stream is
// touched again.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

const (
	// Delimiter terminates requests and length headers.
	Delimiter = "#"

	// ReadChunkSize is the size of each underlying read performed while
	// searching for a delimiter.
	ReadChunkSize = 4096

	// MaxDelimitedSize bounds how many bytes may accumulate while waiting for
	// a delimiter.
	MaxDelimitedSize = 64 * 1024
)

// ErrMessageTooLarge is returned when MaxDelimitedSize bytes are buffered
// without finding a delimiter.
var ErrMessageTooLarge = errors.New("delimited message too large")

// TransportError reports a failed read or write on the underlying stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ReadUntilDelimiter returns the bytes strictly before the first occurrence
// of delim, consuming them and the delimiter from buf.
//
// buf is searched before any read is issued. Anything read past the delimiter
// is left in buf.
func ReadUntilDelimiter(r io.Reader, buf *bytes.Buffer, delim string) (string, error) {
	if delim == "" {
		return "", fmt.Errorf("empty delimiter")
	}

	chunk := make([]byte, ReadChunkSize)
	for {
		if idx := bytes.Index(buf.Bytes(), []byte(delim)); idx >= 0 {
			msg := string(buf.Next(idx))
			buf.Next(len(delim))
			return msg, nil
		}

		if buf.Len() >= MaxDelimitedSize {
			return "", &TransportError{Op: "read", Err: ErrMessageTooLarge}
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			continue
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return "", &TransportError{Op: "read", Err: err}
		}
	}
}

// ReadExact returns exactly n bytes, taking buffered bytes first and reading
// only the remainder from r.
//
// Memory grows with the bytes actually received, not with n, so a bogus
// length fails with a TransportError once the stream ends.
func ReadExact(r io.Reader, buf *bytes.Buffer, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read size %d", n)
	}

	fromBuf := min(n, buf.Len())
	out := make([]byte, 0, min(n, fromBuf+ReadChunkSize))
	out = append(out, buf.Next(fromBuf)...)

	if missing := n - fromBuf; missing > 0 {
		dst := bytes.NewBuffer(out)
		if _, err := io.CopyN(dst, r, int64(missing)); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, &TransportError{Op: "read", Err: err}
		}
		out = dst.Bytes()
	}

	return out, nil
}

// Send writes p in full.
func Send(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if n != len(p) {
		return &TransportError{Op: "write", Err: io.ErrShortWrite}
	}
	return nil
}

// IsConnectionClosed reports whether err means the peer (or a local
// shutdown) ended the stream, as opposed to an unexpected I/O failure.
func IsConnectionClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
