// Package fs implements filesystem-based content storage for DittoXfer.
//
// Content IDs are resolved as paths relative to a base directory, so an
// existing directory of files can be served as-is.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/marmos91/dittoxfer/pkg/content"
)

// FSContentStore implements WritableContentStore on the local filesystem.
//
// Thread Safety:
// The underlying filesystem operations are thread-safe at the OS level.
// Writes go through a temporary file and a rename, so readers never observe
// a partially written file.
type FSContentStore struct {
	basePath string
}

// NewFSContentStore creates a filesystem content store rooted at basePath.
//
// The base directory is created with permissions 0755 if it doesn't exist.
func NewFSContentStore(ctx context.Context, basePath string) (*FSContentStore, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Create the base directory if it doesn't exist
	// ========================================================================

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSContentStore{basePath: abs}, nil
}

// BasePath returns the absolute root directory of the store.
func (r *FSContentStore) BasePath() string {
	return r.basePath
}

// getFilePath returns the full path for a given content ID. IDs are
// re-validated so that a hand-built ContentID cannot escape basePath.
func (r *FSContentStore) getFilePath(id content.ContentID) (string, error) {
	clean, err := content.ParseID(string(id))
	if err != nil {
		return "", err
	}
	return filepath.Join(r.basePath, filepath.FromSlash(string(clean))), nil
}

// ReadContent opens the file for id.
//
// Directories are reported as ErrContentNotFound.
func (r *FSContentStore) ReadContent(ctx context.Context, id content.ContentID) (io.ReadCloser, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Open the content file
	// ========================================================================

	filePath, err := r.getFilePath(id)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to open content: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat content: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("content %s is a directory: %w", id, content.ErrContentNotFound)
	}

	return file, nil
}

// GetContentSize returns the size of the file for id.
func (r *FSContentStore) GetContentSize(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	filePath, err := r.getFilePath(id)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to stat content: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("content %s is a directory: %w", id, content.ErrContentNotFound)
	}

	return uint64(info.Size()), nil
}

// ContentExists reports whether a regular file exists for id.
func (r *FSContentStore) ContentExists(ctx context.Context, id content.ContentID) (bool, error) {
	_, err := r.GetContentSize(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, content.ErrContentNotFound) {
		return false, nil
	}
	return false, err
}

// WriteContent atomically replaces the file for id with data.
func (r *FSContentStore) WriteContent(ctx context.Context, id content.ContentID, data []byte) error {
	// ========================================================================
	// Step 1: Check context and resolve the target path
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := r.getFilePath(id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	// ========================================================================
	// Step 2: Write to a temporary sibling, then rename over the target
	// ========================================================================

	tmpPath := filepath.Join(filepath.Dir(filePath), ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write content: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to commit content: %w", err)
	}

	return nil
}

// Delete removes the file for id. Missing files are ignored.
func (r *FSContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := r.getFilePath(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}
