package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittoxfer/internal/ratelimiter"
	"github.com/marmos91/dittoxfer/pkg/adapter/xfer"
)

// Default values used by ApplyDefaults.
const (
	DefaultXferPort        = 9000
	DefaultBindAddress     = "0.0.0.0"
	DefaultSendDelay       = 10 * time.Millisecond
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsPort     = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyContentDefaults(&cfg.Content)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

// applyContentDefaults sets content store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Files are served from the working directory unless configured otherwise
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "."
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/var/lib/dittoxfer/badger"
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Enable the transfer adapter when nothing was configured explicitly.
	// Users can set enabled: false together with a port to disable it.
	if !cfg.Xfer.Enabled && cfg.Xfer.Port == 0 {
		cfg.Xfer.Enabled = true
	}

	applyXferDefaults(&cfg.Xfer)
}

func applyXferDefaults(cfg *xfer.XferConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultXferPort
	}
	if cfg.BindAddress == "" {
		cfg.BindAddress = DefaultBindAddress
	}

	// MaxConnections, ReadTimeout and WriteTimeout default to 0 (unlimited)

	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}

	if cfg.RateLimit.Mode == "" {
		cfg.RateLimit.Mode = ratelimiter.ModeFixed
	}
	if cfg.RateLimit.Mode == ratelimiter.ModeFixed && cfg.RateLimit.SendDelay == 0 {
		cfg.RateLimit.SendDelay = DefaultSendDelay
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 1
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Adapters: AdaptersConfig{
			Xfer: xfer.XferConfig{Enabled: true},
		},
		Admin: AdminConfig{Terminal: true},
	}

	ApplyDefaults(cfg)
	return cfg
}
