package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// useTempConfigHome points the default config location at a temp dir.
func useTempConfigHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func TestInitConfig_Success(t *testing.T) {
	useTempConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# DittoXfer Configuration File",
		"logging:",
		"server:",
		"content:",
		"adapters:",
		"admin:",
	}

	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	// Verify the generated file is valid YAML
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
	if cfg.Adapters.Xfer.RateLimit.SendDelay != 10*time.Millisecond {
		t.Errorf("Expected send_delay 10ms in generated YAML, got %v", cfg.Adapters.Xfer.RateLimit.SendDelay)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	useTempConfigHome(t)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfig_ForceOverwrite(t *testing.T) {
	useTempConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	if err := os.WriteFile(configPath, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	newPath, err := InitConfig(true)
	if err != nil {
		t.Fatalf("Force InitConfig failed: %v", err)
	}
	if newPath != configPath {
		t.Errorf("Expected same path %q, got %q", configPath, newPath)
	}

	content, _ := os.ReadFile(newPath)
	if string(content) == "existing" {
		t.Error("File was not overwritten")
	}
}

func TestInitConfigToPath_CreatesParentDirs(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
}

func TestInitConfigToPath_AlreadyExists(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := InitConfigToPath(configPath, false); err == nil {
		t.Fatal("Expected error when file exists without force")
	}

	content, _ := os.ReadFile(configPath)
	if string(content) != "existing" {
		t.Error("Existing file must not be modified without force")
	}
}

func TestGenerateDefaultConfig_Comments(t *testing.T) {
	data, err := GenerateDefaultConfig()
	if err != nil {
		t.Fatalf("GenerateDefaultConfig failed: %v", err)
	}
	out := string(data)

	if !strings.Contains(out, "# Protocol adapters.") {
		t.Error("Generated YAML should document the adapters section")
	}
	if !strings.Contains(out, "send_delay: 10ms") {
		t.Errorf("Durations should be written in Go syntax:\n%s", out)
	}
	if !strings.Contains(out, "shutdown_timeout: 30s") {
		t.Errorf("Expected shutdown_timeout: 30s in:\n%s", out)
	}
	if !strings.Contains(out, "port: 9000") {
		t.Error("Generated YAML should contain default port 9000")
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	useTempConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected INFO log level in generated config, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.Xfer.Port != 9000 {
		t.Errorf("Expected port 9000 in generated config, got %d", cfg.Adapters.Xfer.Port)
	}
	if cfg.Adapters.Xfer.RateLimit.SendDelay != 10*time.Millisecond {
		t.Errorf("Expected send_delay 10ms in generated config, got %v", cfg.Adapters.Xfer.RateLimit.SendDelay)
	}
	if !cfg.Admin.Terminal {
		t.Error("Expected admin terminal enabled in generated config")
	}
}
