package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidFilename is returned for filenames that cannot be framed.
var ErrInvalidFilename = errors.New("invalid filename")

// ProtocolError reports a well-framed message with invalid contents.
type ProtocolError struct {
	Header string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s (header %q)", e.Reason, e.Header)
}

// EncodeRequest frames a file request as "filename#".
func EncodeRequest(filename string) ([]byte, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFilename)
	}
	if strings.Contains(filename, Delimiter) {
		return nil, fmt.Errorf("%w: %q contains %q", ErrInvalidFilename, filename, Delimiter)
	}
	return []byte(filename + Delimiter), nil
}

// EncodeLengthHeader frames a payload length as "<decimal>#".
func EncodeLengthHeader(n int) []byte {
	return []byte(strconv.Itoa(n) + Delimiter)
}

// EncodeResponse frames p as "<len(p)>#p".
func EncodeResponse(p []byte) []byte {
	header := EncodeLengthHeader(len(p))
	out := make([]byte, 0, len(header)+len(p))
	out = append(out, header...)
	return append(out, p...)
}

// ParseLength parses a length header. Only non-negative ASCII decimal
// integers are accepted.
func ParseLength(header string) (int, error) {
	if header == "" {
		return 0, &ProtocolError{Header: header, Reason: "empty length"}
	}
	for _, c := range header {
		if c < '0' || c > '9' {
			return 0, &ProtocolError{Header: header, Reason: "length is not a decimal number"}
		}
	}
	n, err := strconv.Atoi(header)
	if err != nil {
		return 0, &ProtocolError{Header: header, Reason: "length out of range"}
	}
	return n, nil
}
