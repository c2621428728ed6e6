package content

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// ContentID identifies a servable file inside a content store.
//
// IDs are slash-separated relative paths ("docs/readme.txt"). Each store maps
// them onto its own namespace (a directory, a key prefix, a bucket prefix).
type ContentID string

// ============================================================================
// ContentStore Interface
// ============================================================================

// ContentStore resolves requested filenames to bytes.
//
// The transfer server only ever reads: it opens the requested content,
// reads it fully and streams it to the client. Backends must treat a
// missing entry as ErrContentNotFound so that callers can distinguish
// "nothing to send" from a storage failure in their logs.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type ContentStore interface {
	// ReadContent returns a reader for the content identified by id.
	//
	// The caller is responsible for closing the reader.
	//
	// Returns ErrContentNotFound if the content doesn't exist, or
	// ErrInvalidContentID if id cannot name content in this store.
	ReadContent(ctx context.Context, id ContentID) (io.ReadCloser, error)

	// GetContentSize returns the size of the content in bytes.
	GetContentSize(ctx context.Context, id ContentID) (uint64, error)

	// ContentExists reports whether content with the given id exists.
	ContentExists(ctx context.Context, id ContentID) (bool, error)
}

// WritableContentStore extends ContentStore with whole-object writes.
//
// It is used to seed stores (tests, tooling); the transfer path never writes.
type WritableContentStore interface {
	ContentStore

	// WriteContent replaces the content for id with data.
	WriteContent(ctx context.Context, id ContentID, data []byte) error

	// Delete removes the content. Deleting missing content is not an error.
	Delete(ctx context.Context, id ContentID) error
}

// ParseID converts a requested filename into a ContentID.
//
// Leading slashes are dropped and the path is cleaned. Names that are empty,
// contain NUL bytes, or climb above the store root are rejected with
// ErrInvalidContentID.
func ParseID(name string) (ContentID, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidContentID)
	}

	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := path.Clean("/" + name)
	if cleaned == "/" {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidContentID)
	}

	rel := strings.TrimPrefix(cleaned, "/")
	for _, part := range strings.Split(path.Clean(name), "/") {
		if part == ".." {
			return "", fmt.Errorf("%q escapes store root: %w", name, ErrInvalidContentID)
		}
	}

	return ContentID(rel), nil
}

// ReadAll reads the whole content for id.
func ReadAll(ctx context.Context, store ContentStore, id ContentID) ([]byte, error) {
	rc, err := store.ReadContent(ctx, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read content %s: %w", id, err)
	}
	return data, nil
}
