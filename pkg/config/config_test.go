package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "info"

exports:
  entries:
    - client: testclient
      path: /srv/export/
      options: [rw, no_root_squash]
      fsid: 7
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.HandleMaxSize != 64 {
		t.Errorf("Expected default handle_max_size 64, got %d", cfg.Server.HandleMaxSize)
	}
	if cfg.Cache.UpcallTimeout != 2*time.Second {
		t.Errorf("Expected default upcall_timeout 2s, got %v", cfg.Cache.UpcallTimeout)
	}

	if len(cfg.Exports.Entries) != 1 {
		t.Fatalf("Expected 1 export entry, got %d", len(cfg.Exports.Entries))
	}
	e := cfg.Exports.Entries[0]
	if e.Path != "/srv/export" {
		t.Errorf("Expected cleaned path '/srv/export', got %q", e.Path)
	}
	if e.Fsid == nil || *e.Fsid != 7 {
		t.Errorf("Expected fsid 7, got %v", e.Fsid)
	}
	if len(cfg.Filesystem.Seed) != 0 {
		t.Errorf("Expected no default seed with explicit exports, got %v", cfg.Filesystem.Seed)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Filesystem.Type != "memory" {
		t.Errorf("Expected default filesystem type 'memory', got %q", cfg.Filesystem.Type)
	}
	if len(cfg.Exports.Entries) != 1 || cfg.Exports.Entries[0].Path != "/export" {
		t.Errorf("Expected default /export entry, got %+v", cfg.Exports.Entries)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[cache]
upcall_timeout = "500ms"

[[exports.sources]]
type = "file"
[exports.sources.options]
path = "/etc/nfsd/exports.yaml"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Cache.UpcallTimeout != 500*time.Millisecond {
		t.Errorf("Expected upcall_timeout 500ms, got %v", cfg.Cache.UpcallTimeout)
	}
	if len(cfg.Exports.Sources) != 1 || cfg.Exports.Sources[0].Options["path"] != "/etc/nfsd/exports.yaml" {
		t.Errorf("Expected one file source, got %+v", cfg.Exports.Sources)
	}
	if len(cfg.Exports.Entries) != 0 {
		t.Errorf("Expected no default entry when a source is configured, got %d", len(cfg.Exports.Entries))
	}
}

func TestLoad_InvalidHandleSize(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  handle_max_size: 16
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for a 16 byte handle limit")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.MaxPayload != DefaultMaxPayload {
		t.Errorf("Expected default max payload %d, got %d", DefaultMaxPayload, cfg.Server.MaxPayload)
	}
	if cfg.Cache.HashBits != DefaultHashBits {
		t.Errorf("Expected default hash bits %d, got %d", DefaultHashBits, cfg.Cache.HashBits)
	}
	if len(cfg.Filesystem.Seed) != 1 || cfg.Filesystem.Seed[0] != "/export" {
		t.Errorf("Expected /export to be seeded, got %v", cfg.Filesystem.Seed)
	}
	if !cfg.Admin.Enabled {
		t.Error("Expected admin channel enabled by default")
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := GetConfigDir()
	if filepath.Base(dir) != "nfsd" {
		t.Errorf("Expected directory name 'nfsd', got %q", filepath.Base(dir))
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in a fresh directory")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("NFSD_LOGGING_LEVEL", "ERROR")
	t.Setenv("NFSD_CACHE_UPCALL_TIMEOUT", "5s")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

cache:
  upcall_timeout: 2s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Cache.UpcallTimeout != 5*time.Second {
		t.Errorf("Expected upcall_timeout 5s from env var, got %v", cfg.Cache.UpcallTimeout)
	}
}
