package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth() {
	healthChecker = newHealthChecker()
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		setup      func()
		wantStatus string
	}{
		{
			name:       "no components",
			setup:      func() {},
			wantStatus: "healthy",
		},
		{
			name: "all healthy",
			setup: func() {
				RegisterComponent("eventstore", true, "")
				RegisterComponent("poller", true, "")
			},
			wantStatus: "healthy",
		},
		{
			name: "one unhealthy",
			setup: func() {
				RegisterComponent("eventstore", true, "")
				RegisterComponent("poller", false, "backend unreachable")
			},
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			tt.setup()

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.NotEmpty(t, health.Uptime)
		})
	}
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name       string
		setup      func()
		wantStatus string
	}{
		{
			name: "critical components ready",
			setup: func() {
				RegisterComponent("eventstore", true, "")
				RegisterComponent("gateway", true, "")
			},
			wantStatus: "ready",
		},
		{
			name: "gateway missing",
			setup: func() {
				RegisterComponent("eventstore", true, "")
			},
			wantStatus: "not_ready",
		},
		{
			name: "eventstore unhealthy",
			setup: func() {
				RegisterComponent("eventstore", false, "allocation failed")
				RegisterComponent("gateway", true, "")
			},
			wantStatus: "not_ready",
		},
		{
			name: "non-critical component ignored",
			setup: func() {
				RegisterComponent("eventstore", true, "")
				RegisterComponent("gateway", true, "")
				RegisterComponent("poller", false, "timeout")
			},
			wantStatus: "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			tt.setup()
			assert.Equal(t, tt.wantStatus, GetReadiness().Status)
		})
	}
}

func TestMarkFatal(t *testing.T) {
	resetHealth()
	RegisterComponent("eventstore", true, "")
	RegisterComponent("gateway", true, "")

	assert.Empty(t, Fatal())

	MarkFatal("eventstore", "buffer allocation failed")

	assert.Equal(t, "eventstore: buffer allocation failed", Fatal())
	assert.Equal(t, "unhealthy", GetHealth().Status)

	readiness := GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "eventstore: buffer allocation failed", readiness.Fatal)
}

func TestHealthHandler(t *testing.T) {
	resetHealth()
	RegisterComponent("eventstore", true, "")
	SetVersion("v1.2.3")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "v1.2.3", health.Version)
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealth()
	MarkFatal("eventstore", "out of memory")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "eventstore: out of memory", health.Fatal)
}

func TestReadyHandler(t *testing.T) {
	resetHealth()

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	RegisterComponent("eventstore", true, "")
	RegisterComponent("gateway", true, "")

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLivenessHandler(t *testing.T) {
	resetHealth()

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "alive", response["status"])
	assert.NotEmpty(t, response["uptime"])
}

func TestUpdateComponent(t *testing.T) {
	resetHealth()

	RegisterComponent("poller", true, "ok")
	UpdateComponent("poller", false, "error")

	comp := healthChecker.components["poller"]
	assert.False(t, comp.Healthy)
	assert.Equal(t, "error", comp.Message)
}
