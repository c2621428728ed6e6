package config

import (
	contentS3 "github.com/marmos91/dittoxfer/pkg/content/s3"
	"github.com/marmos91/dittoxfer/pkg/metrics"
	promMetrics "github.com/marmos91/dittoxfer/pkg/metrics/prometheus"
)

// MetricsResult bundles what InitializeMetrics builds.
type MetricsResult struct {
	// Server serves /metrics and /healthz; nil when metrics are disabled
	Server *metrics.Server

	// XferMetrics is never nil
	XferMetrics metrics.XferMetrics

	// S3Metrics is nil when metrics are disabled
	S3Metrics contentS3.Metrics
}

// InitializeMetrics sets up the Prometheus registry and the metrics
// endpoint when server.metrics.enabled is set. Otherwise the adapter gets a
// no-op recorder and no endpoint is created.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			XferMetrics: metrics.NewNoopXferMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:      server,
		XferMetrics: promMetrics.NewXferMetrics(),
		S3Metrics:   promMetrics.NewS3Metrics(),
	}
}
