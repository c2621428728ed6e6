package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoXfer Configuration File
#
# Values can be overridden with environment variables using the DITTOXFER_
# prefix and underscores for nesting, e.g. DITTOXFER_ADAPTERS_XFER_PORT=9100.
#
# Durations use Go syntax: 10ms, 30s, 5m.

`

// sectionComments documents the top-level sections of a generated file.
var sectionComments = map[string]string{
	"logging":  "# Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr or a file path)",
	"server":   "# Server-wide settings. The metrics endpoint serves /metrics and /healthz when enabled",
	"content":  "# Where served files come from: filesystem, memory, badger or s3.\n# Only the section matching type is used",
	"adapters": "# Protocol adapters. rate_limit.mode is fixed (send_delay after each byte),\n# token_bucket (bytes_per_second with burst) or none",
	"admin":    "# Read list / disconnect <id> / shutdown commands from standard input",
}

// durationKeys are encoded as Go duration strings instead of nanoseconds.
var durationKeys = map[string]bool{
	"shutdown_timeout":     true,
	"read_timeout":         true,
	"write_timeout":        true,
	"metrics_log_interval": true,
	"send_delay":           true,
}

// InitConfig writes a default configuration file to the default location and
// returns its path. It refuses to overwrite an existing file unless force is
// set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := GenerateDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateDefaultConfig renders GetDefaultConfig as commented YAML.
func GenerateDefaultConfig() ([]byte, error) {
	var root yaml.Node
	if err := root.Encode(GetDefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to encode default config: %w", err)
	}

	formatDurations(&root)

	if root.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(root.Content); i += 2 {
			key := root.Content[i]
			if comment, ok := sectionComments[key.Value]; ok {
				key.HeadComment = comment
			}
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return nil, fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal default config: %w", err)
	}

	return buf.Bytes(), nil
}

func formatDurations(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if durationKeys[key.Value] && value.Kind == yaml.ScalarNode {
				if ns, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
					value.Value = time.Duration(ns).String()
					value.Tag = "!!str"
				}
			}
		}
	}
	for _, child := range n.Content {
		formatDurations(child)
	}
}
