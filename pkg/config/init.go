package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/wopihost/pkg/ability"
	"github.com/marmos91/wopihost/pkg/wopi/discovery"
)

const configHeader = `# wopid configuration file
#
# Every key can be overridden from the environment with the WOPID_ prefix,
# e.g. WOPID_LOGGING_LEVEL=DEBUG or WOPID_SERVER_PORT=9000.
#
# The admin JWT secret below was generated for this file. Keep it private:
# anyone holding it can mint WOPI access tokens.

`

// defaultAbilities lets owners do everything and signed-in users read.
func defaultAbilities() ability.PolicyConfig {
	return ability.PolicyConfig{
		OwnerFullAccess: true,
		Rules: []ability.Rule{
			{User: ability.AnyUser, Scope: ability.AnyScope, Abilities: []string{string(ability.Retrieve)}},
		},
	}
}

// GenerateSecret returns a random 64-character hex string suitable for
// admin.jwt_secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SampleConfig returns the configuration written by InitConfig: defaults,
// a fresh admin secret and one example WOPI client.
func SampleConfig() (*Config, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	cfg := GetDefaultConfig()
	cfg.Admin.Secret = secret
	cfg.Clients = []discovery.ClientConfig{{
		Name:         "collabora",
		DiscoveryURL: "http://localhost:9980/hosting/discovery",
	}}
	return cfg, nil
}

// InitConfig writes a sample configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a sample configuration to path. An existing
// file is only replaced when force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	cfg, err := SampleConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeConfigFile(path, append([]byte(configHeader), data...))
}
