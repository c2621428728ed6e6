package prometheus

import (
	"time"

	"github.com/marmos91/dittoxfer/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// xferMetrics is the Prometheus implementation of metrics.XferMetrics.
type xferMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        prometheus.Histogram
	bytesSent              prometheus.Counter
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
}

// NewXferMetrics creates a new Prometheus-backed XferMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewXferMetrics() metrics.XferMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopXferMetrics()
	}

	reg := metrics.GetRegistry()

	return &xferMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoxfer_xfer_requests_total",
				Help: "Total number of file requests by status",
			},
			[]string{"status"},
		),
		requestDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittoxfer_xfer_request_duration_seconds",
				Help: "Time to serve a file request, including pacing",
				Buckets: []float64{
					0.01,  // 10ms
					0.1,   // 100ms
					1,     // 1s
					10,    // 10s
					60,    // 1m
					600,   // 10m
					3600,  // 1h
				},
			},
		),
		bytesSent: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoxfer_xfer_bytes_sent_total",
				Help: "Total payload bytes sent to clients",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittoxfer_xfer_active_connections",
				Help: "Current number of active client connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoxfer_xfer_connections_accepted_total",
				Help: "Total number of client connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoxfer_xfer_connections_closed_total",
				Help: "Total number of client connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoxfer_xfer_connections_force_closed_total",
				Help: "Total number of client connections ended by disconnect or shutdown",
			},
		),
	}
}

func (m *xferMetrics) RecordRequest(status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(status).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

func (m *xferMetrics) RecordBytesSent(bytes uint64) {
	m.bytesSent.Add(float64(bytes))
}

func (m *xferMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *xferMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *xferMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *xferMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}
