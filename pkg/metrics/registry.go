// Package metrics exposes transfer and storage metrics to Prometheus.
//
// Collection is opt-in. Until InitRegistry runs, the constructors in
// pkg/metrics/prometheus return nil and callers fall back to no-op
// recorders:
//
//	metrics.InitRegistry()
//	xferMetrics := prometheus.NewXferMetrics()
//	a := xfer.New(cfg, store, xferMetrics) // or nil to disable
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the process-wide registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
