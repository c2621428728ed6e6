package adapter

import (
	"context"
)

// Adapter represents a protocol-specific server that can be managed by
// XferServer.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration and
//     the content store it serves from
//  2. Startup: Serve() starts the protocol server and blocks until shutdown
//  3. Shutdown: Stop() stops accepting, aborts open sessions and waits for
//     them to finish
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is cancelled,
	// Stop is called, or an unrecoverable error occurs.
	//
	// Before returning, Serve must have stopped accepting connections and
	// joined every session it started.
	//
	// Returns:
	//   - nil on shutdown
	//   - error if startup fails or the accept loop failed
	Serve(ctx context.Context) error

	// Stop initiates shutdown of the protocol server and waits for Serve to
	// finish its cleanup, or for ctx to expire.
	//
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve(), or before it
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter is listening on, or the configured
	// port before it has started.
	Port() int
}
