package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/dittoxfer/pkg/content"
)

// MemoryContentStore implements WritableContentStore using in-memory storage.
//
// It's designed for testing, demos, and serving a small fixed set of files
// declared in configuration. Data is lost on restart.
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Copying data on read/write
// prevents data races with caller-owned buffers.
type MemoryContentStore struct {
	data map[content.ContentID][]byte
	mu   sync.RWMutex
}

// NewMemoryContentStore creates a new, empty in-memory content store.
func NewMemoryContentStore(ctx context.Context) (*MemoryContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &MemoryContentStore{
		data: make(map[content.ContentID][]byte),
	}, nil
}

// NewMemoryContentStoreWithFiles creates a store pre-populated with files,
// keyed by requested filename.
func NewMemoryContentStoreWithFiles(ctx context.Context, files map[string]string) (*MemoryContentStore, error) {
	store, err := NewMemoryContentStore(ctx)
	if err != nil {
		return nil, err
	}

	for name, body := range files {
		id, err := content.ParseID(name)
		if err != nil {
			return nil, err
		}
		store.data[id] = []byte(body)
	}

	return store, nil
}

func (s *MemoryContentStore) lookup(id content.ContentID) ([]byte, error) {
	clean, err := content.ParseID(string(id))
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.data[clean]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	return data, nil
}

// ReadContent returns a reader over a copy of the stored bytes.
func (s *MemoryContentStore) ReadContent(ctx context.Context, id content.ContentID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

func (s *MemoryContentStore) GetContentSize(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

func (s *MemoryContentStore) ContentExists(ctx context.Context, id content.ContentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := s.lookup(id)
	return err == nil, nil
}

func (s *MemoryContentStore) WriteContent(ctx context.Context, id content.ContentID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clean, err := content.ParseID(string(id))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.data[clean] = bytes.Clone(data)
	s.mu.Unlock()
	return nil
}

func (s *MemoryContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clean, err := content.ParseID(string(id))
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.data, clean)
	s.mu.Unlock()
	return nil
}
