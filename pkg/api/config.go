package api

import "time"

// Config configures the WOPI HTTP server.
type Config struct {
	// Port is the HTTP port for WOPI, admin and health endpoints.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout bounds reading a whole request, body included. PutFile
	// uploads must fit inside it.
	// Default: 5m
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds writing a response, including GetFile streams.
	// Default: 5m
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle limit.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// PublicURL is the externally visible base URL (scheme://host[:port]).
	// It builds WOPISrc values and the URL checked by proof signatures.
	// When empty it is derived from each request.
	PublicURL string `mapstructure:"public_url" validate:"omitempty,url" yaml:"public_url"`

	// PostMessageOrigin is reported in CheckFileInfo.
	PostMessageOrigin string `mapstructure:"post_message_origin" yaml:"post_message_origin,omitempty"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
