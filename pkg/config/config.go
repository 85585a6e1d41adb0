package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/nfsd/pkg/export/table"
)

// Config represents the complete nfsd configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NFSD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains protocol-wide limits
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Cache tunes the key and export caches
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Exports says where export tables come from and whether accepted
	// cache lines are persisted
	Exports ExportsConfig `mapstructure:"exports" yaml:"exports"`

	// Clients lists auth domain names registered at start, in addition to
	// the ones the export table names
	Clients []string `mapstructure:"clients" yaml:"clients" validate:"dive,required"`

	// Filesystem selects the filesystem served
	Filesystem FilesystemConfig `mapstructure:"filesystem" yaml:"filesystem"`

	// Admin configures the HTTP control channel
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains protocol-wide limits.
type ServerConfig struct {
	// MaxPayload bounds READ and WRITE transfers and READDIRPLUS replies
	MaxPayload uint32 `mapstructure:"max_payload" yaml:"max_payload" validate:"required,gte=4096,lte=1048576"`

	// HandleMaxSize is the largest file handle composed (32 to 64 bytes)
	HandleMaxSize int `mapstructure:"handle_max_size" yaml:"handle_max_size" validate:"required,gte=32,lte=64"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// DefaultClient is the auth domain for callers whose machine name is
	// not registered. Empty denies them.
	DefaultClient string `mapstructure:"default_client" yaml:"default_client"`

	// RateLimit throttles calls per auth domain
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures per-domain token buckets.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained call rate. 0 disables limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the bucket size. Defaults to twice the rate.
	Burst uint `mapstructure:"burst" yaml:"burst"`

	// MaxClients bounds the number of buckets kept
	MaxClients int `mapstructure:"max_clients" yaml:"max_clients" validate:"gte=0"`

	// TTL is how long a bucket lives before it starts again full
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
}

// CacheConfig tunes the key and export caches.
type CacheConfig struct {
	// HashBits sizes each cache's bucket array (1 << HashBits buckets)
	HashBits int `mapstructure:"hash_bits" yaml:"hash_bits" validate:"required,gte=1,lte=16"`

	// UpcallTimeout bounds how long a lookup waits for the agent before the
	// client is told to retry
	UpcallTimeout time.Duration `mapstructure:"upcall_timeout" yaml:"upcall_timeout" validate:"required,gt=0"`

	// UpcallQueue is the number of request lines buffered per cache
	UpcallQueue int `mapstructure:"upcall_queue" yaml:"upcall_queue" validate:"required,gt=0"`

	// CleanInterval is how often expired entries are removed
	CleanInterval time.Duration `mapstructure:"clean_interval" yaml:"clean_interval" validate:"required,gt=0"`

	// AnswerTTL is how long answers given by the export agent stay valid
	AnswerTTL time.Duration `mapstructure:"answer_ttl" yaml:"answer_ttl" validate:"required,gt=0"`
}

// ExportsConfig lists export table sources.
type ExportsConfig struct {
	// Entries are exports defined inline. They win over source entries
	// naming the same client and path.
	Entries []table.Entry `mapstructure:"entries" yaml:"entries"`

	// Sources are loaded in order and merged after Entries
	Sources []SourceConfig `mapstructure:"sources" yaml:"sources" validate:"dive"`

	// Persist journals accepted cache lines so a restart can replay them
	Persist PersistConfig `mapstructure:"persist" yaml:"persist"`
}

// SourceConfig selects one export table source.
//
// The Type field determines which source is built; Options is decoded into
// that source's configuration struct.
type SourceConfig struct {
	// Type specifies the source implementation
	// Valid values: file, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=file s3"`

	// Options holds the type-specific settings
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// PersistConfig configures the BadgerDB cache-line journal.
type PersistConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the database directory
	Path string `mapstructure:"path" yaml:"path" validate:"required_if=Enabled true"`

	// SyncWrites makes every journaled line durable before it is acknowledged
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// FilesystemConfig selects the filesystem served.
type FilesystemConfig struct {
	// Type specifies the filesystem implementation
	// Valid values: memory
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory"`

	// RootMode is the permission mode of the filesystem root
	RootMode uint32 `mapstructure:"root_mode" yaml:"root_mode" validate:"lte=511"` // 511 = 0777 in decimal

	// Capacity is the number of bytes the filesystem may hold
	Capacity uint64 `mapstructure:"capacity" yaml:"capacity" validate:"required"`

	// MaxFileSize bounds a single file
	MaxFileSize uint64 `mapstructure:"max_file_size" yaml:"max_file_size" validate:"required"`

	// DevMajor and DevMinor form the device number embedded in type 0 fsids
	DevMajor uint32 `mapstructure:"dev_major" yaml:"dev_major"`
	DevMinor uint32 `mapstructure:"dev_minor" yaml:"dev_minor"`

	// Seed lists directories created at start
	Seed []string `mapstructure:"seed" yaml:"seed" validate:"dive,startswith=/"`
}

// AdminConfig configures the HTTP control channel.
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the host:port the channel binds
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required_if=Enabled true"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port for the /metrics HTTP server
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,gt=0,lte=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NFSD_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: NFSD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NFSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	// $XDG_CONFIG_HOME/nfsd/config.{yaml,toml}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is not an error either
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nfsd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "nfsd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
