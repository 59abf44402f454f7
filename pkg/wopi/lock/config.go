package lock

import "time"

// DefaultTTL is the WOPI lock lease: a lock not refreshed within 30
// minutes expires.
const DefaultTTL = 30 * time.Minute

// MaxValueLength is the longest lock value WOPI clients may send.
const MaxValueLength = 1024

// Config configures the lock registry.
type Config struct {
	// TTL is the lease granted by LOCK, REFRESH_LOCK and UNLOCK_AND_RELOCK.
	// Default: 30m
	TTL time.Duration `mapstructure:"lock_ttl" validate:"omitempty,min=1s" yaml:"lock_ttl"`
}

// DefaultConfig returns a Config with the WOPI lease.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL}
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
}
