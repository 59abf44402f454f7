package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker is implemented by the cache and the resource stores.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}

// Readiness reports whether discovery has produced a snapshot.
type Readiness interface {
	Ready() bool
}

// HealthHandler handles the unauthenticated health endpoints.
type HealthHandler struct {
	cache     HealthChecker
	store     HealthChecker
	discovery Readiness
	startedAt time.Time
}

// NewHealthHandler creates a health handler. Nil dependencies report
// unhealthy on readiness.
func NewHealthHandler(cache, store HealthChecker, discovery Readiness) *HealthHandler {
	return &HealthHandler{cache: cache, store: store, discovery: discovery, startedAt: time.Now()}
}

// LivenessResponse identifies the process.
type LivenessResponse struct {
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Liveness handles GET /health. It succeeds while the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startedAt).Truncate(time.Second)
	WriteJSON(w, http.StatusOK, healthyResponse(LivenessResponse{
		Service:   "wopid",
		StartedAt: h.startedAt.UTC().Format(time.RFC3339),
		Uptime:    uptime.String(),
		UptimeSec: int64(uptime.Seconds()),
	}))
}

// ComponentHealth is the status of one dependency.
type ComponentHealth struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// ReadinessResponse details each dependency checked by Readiness.
type ReadinessResponse struct {
	Cache     ComponentHealth `json:"cache"`
	Store     ComponentHealth `json:"store"`
	Discovery ComponentHealth `json:"discovery"`
}

func check(ctx context.Context, hc HealthChecker) ComponentHealth {
	if hc == nil {
		return ComponentHealth{Status: "unhealthy", Error: "not initialized"}
	}
	start := time.Now()
	err := hc.Healthcheck(ctx)
	health := ComponentHealth{Status: "healthy", Latency: time.Since(start).String()}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}
	return health
}

// Readiness handles GET /health/ready. The server is ready once the
// cache and stores answer and a discovery snapshot is loaded; otherwise
// it answers 503.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := ReadinessResponse{
		Cache: check(ctx, h.cache),
		Store: check(ctx, h.store),
	}
	switch {
	case h.discovery == nil:
		resp.Discovery = ComponentHealth{Status: "unhealthy", Error: "not initialized"}
	case !h.discovery.Ready():
		resp.Discovery = ComponentHealth{Status: "unhealthy", Error: "no discovery snapshot loaded"}
	default:
		resp.Discovery = ComponentHealth{Status: "healthy"}
	}

	for _, c := range []ComponentHealth{resp.Cache, resp.Store, resp.Discovery} {
		if c.Status != "healthy" {
			WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("not ready", resp))
			return
		}
	}
	WriteJSON(w, http.StatusOK, healthyResponse(resp))
}
