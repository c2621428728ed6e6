package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittoxfer/internal/ratelimiter"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks cfg against its struct tags, then against the cross-field
// rules of the xfer adapter (enabled adapter, port range, token bucket rate,
// metrics port collision). Call it after ApplyDefaults.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

func validateCustomRules(cfg *Config) error {
	x := cfg.Adapters.Xfer

	if !x.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if x.Port < 1 || x.Port > 65535 {
		return fmt.Errorf("adapters.xfer.port: must be between 1 and 65535 (got %d)", x.Port)
	}

	if x.RateLimit.Mode == ratelimiter.ModeTokenBucket && x.RateLimit.BytesPerSecond == 0 {
		return fmt.Errorf("adapters.xfer.rate_limit: bytes_per_second must be > 0 in %s mode", ratelimiter.ModeTokenBucket)
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == x.Port {
		return fmt.Errorf("server.metrics.port: conflicts with adapters.xfer.port (%d)", x.Port)
	}

	return nil
}

// formatValidationError reports only the first failed field.
func formatValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%s: failed %q check (value: %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return err
}
