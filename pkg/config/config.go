// Package config loads, defaults and validates the wopid configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/wopihost/internal/bytesize"
	"github.com/marmos91/wopihost/internal/telemetry"
	"github.com/marmos91/wopihost/pkg/ability"
	"github.com/marmos91/wopihost/pkg/api"
	"github.com/marmos91/wopihost/pkg/api/auth"
	"github.com/marmos91/wopihost/pkg/cache"
	"github.com/marmos91/wopihost/pkg/cache/badger"
	"github.com/marmos91/wopihost/pkg/store/item"
	"github.com/marmos91/wopihost/pkg/store/mount"
	"github.com/marmos91/wopihost/pkg/wopi/discovery"
)

// EnvPrefix prefixes every environment override, e.g. WOPID_LOGGING_LEVEL.
const EnvPrefix = "WOPID"

// Config represents the wopid configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (WOPID_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling.
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Server configures the WOPI HTTP listener.
	Server api.Config `mapstructure:"server" yaml:"server"`

	// Admin configures the JWT-protected admin API. Leaving the secret
	// empty disables it.
	Admin auth.JWTConfig `mapstructure:"admin" yaml:"admin"`

	// Cache backs tokens, locks, mount aliases and the discovery snapshot.
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	Wopi WopiConfig `mapstructure:"wopi" yaml:"wopi"`

	// Clients lists the WOPI clients whose discovery documents are merged.
	Clients []discovery.ClientConfig `mapstructure:"clients" validate:"dive" yaml:"clients"`

	Discovery discovery.Config `mapstructure:"discovery" yaml:"discovery"`

	// Store configures the primary item store.
	Store item.Config `mapstructure:"store" yaml:"store"`

	// Mounts lists external mount providers.
	Mounts []mount.Config `mapstructure:"mounts" validate:"dive" yaml:"mounts,omitempty"`

	Abilities ability.PolicyConfig `mapstructure:"abilities" yaml:"abilities"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// CacheConfig selects the TTL cache backend.
type CacheConfig struct {
	// Type is "memory" (single process) or "badger" (durable across restarts).
	Type cache.Type `mapstructure:"type" validate:"required,oneof=memory badger" yaml:"type"`

	Memory MemoryCacheConfig `mapstructure:"memory" yaml:"memory"`

	Badger badger.Config `mapstructure:"badger" yaml:"badger"`
}

// MemoryCacheConfig configures the in-process LRU cache.
type MemoryCacheConfig struct {
	// MaxEntries bounds the number of live keys. Default: 100000
	MaxEntries int `mapstructure:"max_entries" validate:"omitempty,min=1" yaml:"max_entries"`
}

// WopiConfig holds the protocol timings and streaming parameters.
type WopiConfig struct {
	// TokenTTL is the access token lifetime. Default: 10h
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"omitempty,min=1m" yaml:"token_ttl"`

	// LockTTL is the lease granted by lock operations. Default: 30m
	LockTTL time.Duration `mapstructure:"lock_ttl" validate:"omitempty,min=1s" yaml:"lock_ttl"`

	// ChunkSize is the copy buffer for GetFile and PutFile streams.
	// Supports human-readable sizes ("1Mi", "256KB"). Default: 1Mi
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// ProofMaxAge rejects proof timestamps older than this. Default: 20m
	ProofMaxAge time.Duration `mapstructure:"proof_max_age" yaml:"proof_max_age"`

	// MountAliasTTL keeps renamed mount files reachable under their
	// original file id. Default: 24h
	MountAliasTTL time.Duration `mapstructure:"mount_alias_ttl" yaml:"mount_alias_ttl"`
}

// Load reads configPath (or the default location when empty), applies
// environment overrides, defaults and validation. A missing file yields
// GetDefaultConfig.
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return GetDefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load for commands: a missing file is an error that tells
// the operator how to create one.
func MustLoad(configPath string) (*Config, error) {
	switch {
	case configPath == "" && !DefaultConfigExists():
		return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
			"Please initialize a configuration file first:\n"+
			"  wopid init\n\n"+
			"Or specify a custom config file:\n"+
			"  wopid <command> --config /path/to/config.yaml",
			GetDefaultConfigPath())
	case configPath == "":
		configPath = GetDefaultConfigPath()
	default:
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  wopid init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeConfigFile(path, data)
}

// writeConfigFile writes with 0600: the file carries the admin JWT secret
// and store credentials.
func writeConfigFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return v
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	return v
}

// scalarDecoders convert raw YAML or env scalars into the config's
// custom types. Strings go through the type's parser; numbers are taken
// as bytes or nanoseconds.
var scalarDecoders = map[reflect.Type]func(any) (any, bool, error){
	reflect.TypeOf(bytesize.ByteSize(0)): func(data any) (any, bool, error) {
		if s, ok := data.(string); ok {
			v, err := bytesize.ParseByteSize(s)
			return v, true, err
		}
		n, ok := asInt64(data)
		return bytesize.ByteSize(n), ok, nil
	},
	reflect.TypeOf(time.Duration(0)): func(data any) (any, bool, error) {
		if s, ok := data.(string); ok {
			v, err := time.ParseDuration(s)
			return v, true, err
		}
		n, ok := asInt64(data)
		return time.Duration(n), ok, nil
	},
}

func asInt64(data any) (int64, bool) {
	switch n := data.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

var decodeHook = mapstructure.ComposeDecodeHookFunc(
	func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		decode, ok := scalarDecoders[to]
		if !ok {
			return data, nil
		}
		v, handled, err := decode(data)
		if !handled {
			return data, nil
		}
		return v, err
	},
	mapstructure.StringToSliceHookFunc(","),
)

// xdgDir returns $<env>/wopid, falling back to ~/<fallback...>/wopid, or
// "." without a home directory.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "wopid")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append(append([]string{home}, fallback...), "wopid")...)
}

func configDir() string { return xdgDir("XDG_CONFIG_HOME", ".config") }

func getDataDir() string { return xdgDir("XDG_DATA_HOME", ".local", "share") }

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultConfigExists reports whether a file exists at GetDefaultConfigPath.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
