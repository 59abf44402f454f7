package discovery

import (
	"time"

	"github.com/marmos91/wopihost/pkg/wopi/proof"
)

const (
	// DefaultSchedule refreshes twice a day.
	DefaultSchedule = "@every 12h"

	// DefaultTimeout bounds one discovery fetch.
	DefaultTimeout = 10 * time.Second
)

// Config configures the refresh schedule.
type Config struct {
	// Schedule is a cron expression or descriptor (@every 1h, @daily).
	Schedule string `mapstructure:"schedule" yaml:"schedule"`

	// Timeout bounds each discovery HTTP fetch. A timeout fails the run.
	Timeout time.Duration `mapstructure:"timeout" validate:"omitempty,min=100ms" yaml:"timeout"`
}

func (c *Config) applyDefaults() {
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// ProofKeysConfig holds statically configured proof keys for a client.
// When Current is empty the keys published in discovery are used.
type ProofKeysConfig struct {
	Current  proof.KeyConfig `mapstructure:"current" yaml:"current,omitempty"`
	Previous proof.KeyConfig `mapstructure:"previous" yaml:"previous,omitempty"`
}

// ClientConfig describes one WOPI client (an editor deployment).
type ClientConfig struct {
	Name         string   `mapstructure:"name" validate:"required" yaml:"name"`
	DiscoveryURL string   `mapstructure:"discovery_url" validate:"required,url" yaml:"discovery_url"`
	Exclusions   []string `mapstructure:"exclusions" yaml:"exclusions,omitempty"`

	ProofKeys ProofKeysConfig `mapstructure:"proof_keys" yaml:"proof_keys,omitempty"`
}
