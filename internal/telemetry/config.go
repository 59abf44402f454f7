package telemetry

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ServiceName is reported as service.name on every span.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	ServiceVersion string `mapstructure:"-" yaml:"-"`

	// Endpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces kept, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// DefaultConfig returns tracing disabled with local collector defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "wopid",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
		Profiling: ProfilingConfig{
			Endpoint:     "http://localhost:4040",
			ProfileTypes: []string{"cpu", "alloc_space", "inuse_space", "goroutines"},
		},
	}
}
