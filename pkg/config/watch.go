package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-reads the configuration file every time it is written and hands
// the result to onChange, with the same precedence and validation as Load.
// A change that fails validation is reported through err and cfg is nil.
//
// Running adapters keep the configuration they were started with; callers
// apply only what can change at runtime (the log level, for instance).
//
// It fails when there is no config file to watch. The watch lasts for the
// life of the process.
func Watch(configPath string, onChange func(cfg *Config, err error)) error {
	v := viper.New()
	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()

	return nil
}
