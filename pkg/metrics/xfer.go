package metrics

import "time"

// XferMetrics provides observability for the file transfer adapter.
//
// Implementations collect metrics about connection lifecycle, requests and
// throughput. This interface is optional: if not provided to the adapter, a
// no-op implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewXferMetrics()
//	adapter := xfer.New(config, store, m)
//
//	// Without metrics (no-op)
//	adapter := xfer.New(config, store, nil)
type XferMetrics interface {
	// RecordRequest records a finished file request.
	//
	// Parameters:
	//   - status: "ok", "not_found", "aborted" or "error"
	//   - duration: time from reading the request to the last byte sent
	RecordRequest(status string, duration time.Duration)

	// RecordBytesSent adds payload bytes written to clients.
	RecordBytesSent(bytes uint64)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts sessions ended by an administrative
	// disconnect or server shutdown.
	RecordConnectionForceClosed()
}

// NewNoopXferMetrics returns an XferMetrics that discards everything.
func NewNoopXferMetrics() XferMetrics {
	return noopXferMetrics{}
}

type noopXferMetrics struct{}

func (noopXferMetrics) RecordRequest(status string, duration time.Duration) {}
func (noopXferMetrics) RecordBytesSent(bytes uint64)                        {}
func (noopXferMetrics) SetActiveConnections(count int32)                    {}
func (noopXferMetrics) RecordConnectionAccepted()                           {}
func (noopXferMetrics) RecordConnectionClosed()                             {}
func (noopXferMetrics) RecordConnectionForceClosed()                        {}
