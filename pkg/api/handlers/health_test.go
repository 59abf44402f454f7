package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct{ err error }

func (f fakeChecker) Healthcheck(context.Context) error { return f.err }

type fakeReadiness bool

func (f fakeReadiness) Ready() bool { return bool(f) }

func TestLiveness_ReturnsOK(t *testing.T) {
	t.Parallel()
	handler := NewHealthHandler(nil, nil, nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "Data should be a map, got %T", resp.Data)
	assert.Equal(t, "wopid", data["service"])
	assert.NotEmpty(t, data["started_at"])
	assert.NotEmpty(t, data["uptime"])
}

func TestReadiness(t *testing.T) {
	t.Parallel()
	healthy := fakeChecker{}
	broken := fakeChecker{err: errors.New("disk gone")}

	tests := []struct {
		name      string
		cache     HealthChecker
		store     HealthChecker
		discovery Readiness
		want      int
		wantError string
	}{
		{"all ready", healthy, healthy, fakeReadiness(true), http.StatusOK, ""},
		{"nothing wired", nil, nil, nil, http.StatusServiceUnavailable, "not ready"},
		{"cache down", broken, healthy, fakeReadiness(true), http.StatusServiceUnavailable, "not ready"},
		{"store down", healthy, broken, fakeReadiness(true), http.StatusServiceUnavailable, "not ready"},
		{"no snapshot yet", healthy, healthy, fakeReadiness(false), http.StatusServiceUnavailable, "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := NewHealthHandler(tt.cache, tt.store, tt.discovery)
			w := httptest.NewRecorder()

			handler.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.want, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantError, resp.Error)
			assert.NotNil(t, resp.Data)
		})
	}
}

func TestReadiness_ReportsFailingComponent(t *testing.T) {
	t.Parallel()
	handler := NewHealthHandler(fakeChecker{}, fakeChecker{err: errors.New("disk gone")}, fakeReadiness(true))
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var body struct {
		Data ReadinessResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Data.Cache.Status)
	assert.Equal(t, "unhealthy", body.Data.Store.Status)
	assert.Equal(t, "disk gone", body.Data.Store.Error)
	assert.Equal(t, "healthy", body.Data.Discovery.Status)
}
