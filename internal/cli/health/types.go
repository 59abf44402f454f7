// Package health holds the wire types of the wopid health endpoints.
package health

// Liveness is the body of GET /health.
type Liveness struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Data      struct {
		Service   string `json:"service"`
		StartedAt string `json:"started_at"`
		Uptime    string `json:"uptime"`
		UptimeSec int64  `json:"uptime_sec"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// Component is the readiness of one dependency.
type Component struct {
	Status  string `json:"status" yaml:"status"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	Latency string `json:"latency,omitempty" yaml:"latency,omitempty"`
}

// Readiness is the body of GET /health/ready.
type Readiness struct {
	Status string `json:"status"`
	Data   struct {
		Cache     Component `json:"cache"`
		Store     Component `json:"store"`
		Discovery Component `json:"discovery"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}
