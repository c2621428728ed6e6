package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatch_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	if err := Watch(path, func(*Config, error) {}); err == nil {
		t.Fatal("Expected error when watching a missing config file")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	write := func(level string) {
		t.Helper()
		content := "logging:\n  level: " + level + "\nadapters:\n  xfer:\n    enabled: true\n"
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}
	}
	write("INFO")

	var (
		mu     sync.Mutex
		levels []string
	)
	err := Watch(configPath, func(cfg *Config, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		levels = append(levels, cfg.Logging.Level)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	write("debug")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		for _, l := range levels {
			if l == "DEBUG" {
				mu.Unlock()
				return
			}
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Expected a reload with level DEBUG")
}
