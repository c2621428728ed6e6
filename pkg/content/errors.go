package content

import "errors"

// ============================================================================
// Standard Content Store Errors
// ============================================================================

// These errors provide a consistent way to indicate common failure conditions
// across all content store implementations. Implementations wrap them with
// context:
//
//	if !fileExists {
//	    return fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
//	}
//
// and callers match with errors.Is.

var (
	// ErrContentNotFound indicates the requested content does not exist.
	//
	// The transfer server answers such requests with a zero-length response.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidContentID indicates the requested name cannot identify content
	// (empty, contains NUL, or escapes the store root).
	ErrInvalidContentID = errors.New("invalid content ID")
)
