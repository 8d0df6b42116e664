package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aevon-lab/aevon-profiler/internal/metrics"
	"github.com/stretchr/testify/require"
)

func get(s *Server, path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	s.Engine.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	return resp
}

func TestHealth(t *testing.T) {
	ok := HealthCheckFunc(func(context.Context) error { return nil })
	down := HealthCheckFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name:       "all healthy",
			checks:     map[string]HealthChecker{"database": ok, "nats": ok},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"database": "ok", "nats": "ok"},
		},
		{
			name:       "one down",
			checks:     map[string]HealthChecker{"database": ok, "nats": down},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "ok", "nats": "unreachable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := get(New(":0", "release", tt.checks, nil), "/health")

			require.Equal(t, tt.wantStatus, resp.Code)
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			require.Equal(t, tt.wantChecks, body.Checks)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.WindowClosed("avg_length")

	resp := get(New(":0", "release", nil, m.Handler()), "/metrics")

	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `profile="avg_length"`)
}

func TestMetricsRoute_Disabled(t *testing.T) {
	resp := get(New(":0", "release", nil, nil), "/metrics")
	require.Equal(t, http.StatusNotFound, resp.Code)
}
