package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/wopihost/internal/bytesize"
	"github.com/marmos91/wopihost/pkg/cache"
	"github.com/marmos91/wopihost/pkg/store/item"
	"github.com/marmos91/wopihost/pkg/store/mount"
	"github.com/marmos91/wopihost/pkg/store/mount/local"
	"github.com/marmos91/wopihost/pkg/wopi/lock"
	"github.com/marmos91/wopihost/pkg/wopi/token"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
logging:
  level: debug

store:
  database:
    sqlite:
      path: "`+yamlSafePath(dir)+`/items.db"
  payload_dir: "`+yamlSafePath(dir)+`/payload"

clients:
  - name: collabora
    discovery_url: http://collabora:9980/hosting/discovery
    exclusions: [".csv"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, cache.TypeMemory, cfg.Cache.Type)
	assert.Equal(t, token.DefaultTTL, cfg.Wopi.TokenTTL)
	assert.Equal(t, lock.DefaultTTL, cfg.Wopi.LockTTL)
	assert.Equal(t, bytesize.ByteSize(1<<20), cfg.Wopi.ChunkSize)
	assert.Equal(t, "@every 12h", cfg.Discovery.Schedule)
	assert.Equal(t, item.DatabaseTypeSQLite, cfg.Store.Database.Type)
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, []string{".csv"}, cfg.Clients[0].Exclusions)
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Admin.Enabled())
}

func TestLoad_HumanReadableValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
shutdown_timeout: 5s
wopi:
  token_ttl: 2h
  lock_ttl: 45m
  chunk_size: 256Ki
  proof_max_age: 5m
metrics:
  enabled: true
store:
  payload_dir: "`+yamlSafePath(dir)+`/payload"
  database:
    sqlite:
      path: "`+yamlSafePath(dir)+`/items.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Wopi.TokenTTL)
	assert.Equal(t, 45*time.Minute, cfg.Wopi.LockTTL)
	assert.Equal(t, bytesize.ByteSize(256*1024), cfg.Wopi.ChunkSize)
	assert.Equal(t, 5*time.Minute, cfg.Wopi.ProofMaxAge)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
logging:
  level: INFO
server:
  port: 8080
store:
  payload_dir: "`+yamlSafePath(dir)+`/payload"
  database:
    sqlite:
      path: "`+yamlSafePath(dir)+`/items.db"
`)
	t.Setenv("WOPID_LOGGING_LEVEL", "WARN")
	t.Setenv("WOPID_SERVER_PORT", "9443")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, 9443, cfg.Server.Port)
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Abilities.OwnerFullAccess)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "logging: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
logging:
  format: xml
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestMustLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := MustLoad(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wopid init --config")
}

func TestMustLoad_NoDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, err := MustLoad("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configuration file found")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Store.PayloadDir = filepath.Join(dir, "payload")
	cfg.Store.Database.SQLite.Path = filepath.Join(dir, "items.db")
	cfg.Server.Port = 9100
	cfg.Wopi.ChunkSize = bytesize.ByteSize(64 * 1024)

	path := filepath.Join(dir, "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if filepath.Separator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, loaded.Server.Port)
	assert.Equal(t, cfg.Wopi.ChunkSize, loaded.Wopi.ChunkSize)
	assert.Equal(t, cfg.Wopi.TokenTTL, loaded.Wopi.TokenTTL)
	assert.Equal(t, cfg.Abilities, loaded.Abilities)
}

func TestGetDefaultConfigPath_XDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "wopid", "config.yaml"), GetDefaultConfigPath())
	assert.False(t, DefaultConfigExists())
}

func TestApplyDefaults_BadgerDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg := &Config{Cache: CacheConfig{Type: cache.TypeBadger}}
	ApplyDefaults(cfg)
	assert.Equal(t, filepath.Join("/data", "wopid", "cache"), cfg.Cache.Badger.Dir)
	assert.Equal(t, 10*time.Minute, cfg.Cache.Badger.GCInterval)

	inMem := &Config{Cache: CacheConfig{Type: cache.TypeBadger}}
	inMem.Cache.Badger.InMemory = true
	ApplyDefaults(inMem)
	assert.Empty(t, inMem.Cache.Badger.Dir)
}

func TestCreateCache(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     CacheConfig
		wantErr bool
	}{
		{name: "memory", cfg: CacheConfig{Type: cache.TypeMemory, Memory: MemoryCacheConfig{MaxEntries: 10}}},
		{name: "default", cfg: CacheConfig{}},
		{name: "badger in memory", cfg: func() CacheConfig {
			c := CacheConfig{Type: cache.TypeBadger}
			c.Badger.InMemory = true
			return c
		}()},
		{name: "unknown", cfg: CacheConfig{Type: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := CreateCache(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = c.Close() })
			assert.NoError(t, c.Healthcheck(context.Background()))
		})
	}
}

func TestCreateStores(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Store.PayloadDir = filepath.Join(dir, "payload")
	cfg.Store.Database.SQLite.Path = filepath.Join(dir, "items.db")
	cfg.Mounts = []mount.Config{{ID: "docs", Type: mount.TypeLocal, Local: local.Config{Root: t.TempDir()}}}

	aliases, err := CreateCache(cfg.Cache)
	require.NoError(t, err)
	t.Cleanup(func() { _ = aliases.Close() })

	stores, err := CreateStores(context.Background(), cfg, aliases)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })

	assert.Equal(t, []string{"docs"}, stores.Mounts.Mounts())
	assert.NoError(t, stores.Resources.Healthcheck(context.Background()))
}
