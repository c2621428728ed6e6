package prometheus

import (
	"time"

	"github.com/marmos91/dittoxfer/pkg/content/s3"
	"github.com/marmos91/dittoxfer/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type s3Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewS3Metrics returns the S3 store recorder, or nil when metrics are
// disabled so that the store keeps its no-op default.
func NewS3Metrics() s3.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	factory := promauto.With(metrics.GetRegistry())

	return &s3Metrics{
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dittoxfer_s3_operations_total",
			Help: "S3 API calls made by the content store, by operation and status",
		}, []string{"operation", "status"}),

		// 10ms up to ~20s
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dittoxfer_s3_operation_duration_seconds",
			Help:    "Latency of S3 API calls made by the content store",
			Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 9),
		}, []string{"operation"}),

		bytesTransferred: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dittoxfer_s3_bytes_transferred_total",
			Help: "Object bytes moved to or from S3, by direction (read, write)",
		}, []string{"operation"}),
	}
}

func (m *s3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *s3Metrics) RecordBytes(operation string, bytes int64) {
	m.bytesTransferred.WithLabelValues(operation).Add(float64(bytes))
}
