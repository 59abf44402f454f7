package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfigPath(), path)
	assert.True(t, DefaultConfigExists())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.True(t, strings.HasPrefix(text, "# wopid configuration file"))
	for _, section := range []string{"logging:", "server:", "admin:", "cache:", "wopi:", "clients:", "store:", "abilities:"} {
		assert.Contains(t, text, section)
	}

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(content, &parsed))

	cfg, err := MustLoad("")
	require.NoError(t, err)
	assert.Len(t, cfg.Admin.Secret, 64)
	assert.True(t, cfg.Admin.Enabled())
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "collabora", cfg.Clients[0].Name)
}

func TestInitConfigToPath_Force(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wopid.yaml")
	require.NoError(t, InitConfigToPath(path, false))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	err = InitConfigToPath(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, InitConfigToPath(path, true))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, string(first), string(second), "a new secret is generated")
}

func TestGenerateSecret(t *testing.T) {
	t.Parallel()

	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
