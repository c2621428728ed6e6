package config

import (
	"fmt"

	"github.com/marmos91/dittoxfer/pkg/adapter"
	"github.com/marmos91/dittoxfer/pkg/adapter/xfer"
	"github.com/marmos91/dittoxfer/pkg/content"
	"github.com/marmos91/dittoxfer/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete DittoXfer configuration
//   - store: The content store files are served from
//   - xferMetrics: Optional transfer metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, store content.ContentStore, xferMetrics metrics.XferMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.Xfer.Enabled {
		adapters = append(adapters, xfer.New(cfg.Adapters.Xfer, store, xferMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
