// Package badger implements a content store backed by BadgerDB.
//
// Each file is stored as a single value under the key "c:<content id>".
// It suits deployments that want a self-contained, crash-safe catalogue of
// small to medium files without a directory tree on disk.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittoxfer/pkg/content"
)

const contentKeyPrefix = "c:"

// BadgerContentStoreConfig configures a BadgerContentStore.
type BadgerContentStoreConfig struct {
	// DBPath is the directory holding the database files.
	// Ignored when InMemory is true.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the whole database in RAM (tests, ephemeral servers).
	InMemory bool `mapstructure:"in_memory"`
}

// BadgerContentStore implements WritableContentStore on BadgerDB.
//
// Thread Safety:
// BadgerDB transactions are safe for concurrent use.
type BadgerContentStore struct {
	db *badger.DB
}

// NewBadgerContentStore opens (or creates) the database described by config.
func NewBadgerContentStore(ctx context.Context, config BadgerContentStoreConfig) (*BadgerContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.DBPath == "" {
			return nil, fmt.Errorf("badger content store: db_path is required")
		}
		opts = badger.DefaultOptions(config.DBPath)
	}

	opts = opts.WithLoggingLevel(badger.WARNING) // Reduce log noise
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	return &BadgerContentStore{db: db}, nil
}

func keyContent(id content.ContentID) []byte {
	return []byte(contentKeyPrefix + string(id))
}

func normalize(id content.ContentID) (content.ContentID, error) {
	return content.ParseID(string(id))
}

// ReadContent returns a reader over a copy of the stored value.
func (s *BadgerContentStore) ReadContent(ctx context.Context, id content.ContentID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean, err := normalize(id)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyContent(clean))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *BadgerContentStore) GetContentSize(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	clean, err := normalize(id)
	if err != nil {
		return 0, err
	}

	var size int64
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyContent(clean))
		if err != nil {
			return err
		}
		size = item.ValueSize()
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to stat content: %w", err)
	}

	return uint64(size), nil
}

func (s *BadgerContentStore) ContentExists(ctx context.Context, id content.ContentID) (bool, error) {
	_, err := s.GetContentSize(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, content.ErrContentNotFound) {
		return false, nil
	}
	return false, err
}

func (s *BadgerContentStore) WriteContent(ctx context.Context, id content.ContentID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clean, err := normalize(id)
	if err != nil {
		return err
	}

	value := data
	if value == nil {
		value = []byte{}
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyContent(clean), value)
	}); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (s *BadgerContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clean, err := normalize(id)
	if err != nil {
		return err
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyContent(clean))
	}); err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BadgerContentStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}

	return nil
}
