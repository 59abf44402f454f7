package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/wopihost/internal/bytesize"
	"github.com/marmos91/wopihost/internal/telemetry"
	"github.com/marmos91/wopihost/pkg/bufpool"
	"github.com/marmos91/wopihost/pkg/cache"
	"github.com/marmos91/wopihost/pkg/cache/memory"
	"github.com/marmos91/wopihost/pkg/store/mount"
	"github.com/marmos91/wopihost/pkg/wopi/discovery"
	"github.com/marmos91/wopihost/pkg/wopi/lock"
	"github.com/marmos91/wopihost/pkg/wopi/proof"
	"github.com/marmos91/wopihost/pkg/wopi/token"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	cfg.Server.ApplyDefaults()
	cfg.Admin.ApplyDefaults()
	applyCacheDefaults(&cfg.Cache)
	applyWopiDefaults(&cfg.Wopi)
	applyDiscoveryDefaults(&cfg.Discovery)
	cfg.Store.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *telemetry.Config) {
	def := telemetry.DefaultConfig()
	if cfg.ServiceName == "" {
		cfg.ServiceName = def.ServiceName
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = def.Profiling.Endpoint
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = def.Profiling.ProfileTypes
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults leaves metrics opt-in; the port only matters once enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Type == "" {
		cfg.Type = cache.TypeMemory
	}
	if cfg.Memory.MaxEntries == 0 {
		cfg.Memory.MaxEntries = memory.DefaultMaxEntries
	}
	if cfg.Type == cache.TypeBadger && !cfg.Badger.InMemory && cfg.Badger.Dir == "" {
		cfg.Badger.Dir = filepath.Join(getDataDir(), "cache")
	}
	if cfg.Type == cache.TypeBadger && cfg.Badger.GCInterval == 0 {
		cfg.Badger.GCInterval = 10 * time.Minute
	}
}

func applyWopiDefaults(cfg *WopiConfig) {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = token.DefaultTTL
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = lock.DefaultTTL
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = bytesize.ByteSize(bufpool.DefaultChunkSize)
	}
	if cfg.ProofMaxAge == 0 {
		cfg.ProofMaxAge = proof.DefaultMaxAge
	}
	if cfg.MountAliasTTL == 0 {
		cfg.MountAliasTTL = mount.DefaultAliasTTL
	}
}

func applyDiscoveryDefaults(cfg *discovery.Config) {
	if cfg.Schedule == "" {
		cfg.Schedule = discovery.DefaultSchedule
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = discovery.DefaultTimeout
	}
}

// GetDefaultConfig returns a Config with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Abilities: defaultAbilities(),
	}
	ApplyDefaults(cfg)
	return cfg
}
