package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/nfsd/pkg/export/table"
	"github.com/marmos91/nfsd/pkg/vfs"
	"github.com/marmos91/nfsd/pkg/vfs/memfs"
)

// Default values applied by ApplyDefaults.
const (
	DefaultMaxPayload      = 1 << 20
	DefaultHandleMaxSize   = 64
	DefaultShutdownTimeout = 30 * time.Second

	DefaultHashBits      = 8
	DefaultUpcallTimeout = 2 * time.Second
	DefaultUpcallQueue   = 64
	DefaultCleanInterval = time.Minute

	DefaultRateLimitClients = 1024
	DefaultRateLimitTTL     = 10 * time.Minute

	DefaultAdminListen = "127.0.0.1:2050"
	DefaultMetricsPort = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	// Export /export to everyone if no exports are configured
	if len(cfg.Exports.Entries) == 0 && len(cfg.Exports.Sources) == 0 {
		cfg.Exports.Entries = []table.Entry{defaultEntry()}
		if len(cfg.Filesystem.Seed) == 0 {
			cfg.Filesystem.Seed = []string{defaultEntry().Path}
		}
	}

	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyCacheDefaults(&cfg.Cache)
	applyExportsDefaults(&cfg.Exports)
	applyFilesystemDefaults(&cfg.Filesystem)
	applyAdminDefaults(&cfg.Admin)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.Clients == nil {
		cfg.Clients = []string{}
	}
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
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	if cfg.HandleMaxSize == 0 {
		cfg.HandleMaxSize = DefaultHandleMaxSize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.DefaultClient == "" {
		cfg.DefaultClient = table.AnyClient
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerSecond * 2
	}
	if cfg.RateLimit.MaxClients == 0 {
		cfg.RateLimit.MaxClients = DefaultRateLimitClients
	}
	if cfg.RateLimit.TTL == 0 {
		cfg.RateLimit.TTL = DefaultRateLimitTTL
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.HashBits == 0 {
		cfg.HashBits = DefaultHashBits
	}
	if cfg.UpcallTimeout == 0 {
		cfg.UpcallTimeout = DefaultUpcallTimeout
	}
	if cfg.UpcallQueue == 0 {
		cfg.UpcallQueue = DefaultUpcallQueue
	}
	if cfg.CleanInterval == 0 {
		cfg.CleanInterval = DefaultCleanInterval
	}
	if cfg.AnswerTTL == 0 {
		cfg.AnswerTTL = table.DefaultTTL
	}
}

// applyExportsDefaults normalizes inline entry paths and initializes
// option maps.
func applyExportsDefaults(cfg *ExportsConfig) {
	for i := range cfg.Entries {
		if cfg.Entries[i].Path != "" {
			cfg.Entries[i].Path = vfs.Clean(cfg.Entries[i].Path)
		}
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Options == nil {
			cfg.Sources[i].Options = make(map[string]any)
		}
	}
	if cfg.Persist.Enabled && cfg.Persist.Path == "" {
		cfg.Persist.Path = filepath.Join(getConfigDir(), "cache")
	}
}

func applyFilesystemDefaults(cfg *FilesystemConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.RootMode == 0 {
		cfg.RootMode = 0755
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = memfs.DefaultCapacity
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = memfs.DefaultMaxFileSize
	}
	if cfg.Seed == nil {
		cfg.Seed = []string{}
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultAdminListen
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

func defaultEntry() table.Entry {
	return table.Entry{
		Client:  table.AnyClient,
		Path:    "/export",
		Options: []string{"rw", "root_squash", "sync"},
	}
}

// GetDefaultConfig returns a Config with all default values applied, the
// admin channel enabled and "localhost" registered as a client.
//
// This is useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Clients: []string{"localhost"},
		Admin: AdminConfig{
			Enabled: true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
