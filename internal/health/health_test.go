package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ok(context.Context) error { return nil }

func TestServer_Endpoints(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name   string
		db     Pinger
		redis  Pinger
		path   string
		code   int
		status string
	}{
		{name: "все здорово", db: PingFunc(ok), redis: PingFunc(ok), path: "/health", code: http.StatusOK, status: "healthy"},
		{name: "база недоступна", db: down, path: "/health", code: http.StatusServiceUnavailable, status: "unhealthy"},
		{name: "redis недоступен", db: PingFunc(ok), redis: down, path: "/health", code: http.StatusServiceUnavailable, status: "unhealthy"},
		{name: "нет базы", db: nil, path: "/ready", code: http.StatusServiceUnavailable, status: "not ready"},
		{name: "готов", db: PingFunc(ok), path: "/ready", code: http.StatusOK, status: "ready"},
		{name: "жив без базы", db: nil, path: "/live", code: http.StatusOK, status: "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer("0", tt.db, zap.NewNop())
			if tt.redis != nil {
				s.AddCheck("redis", tt.redis)
			}

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
		})
	}
}

func TestServer_Components(t *testing.T) {
	s := NewServer("0", PingFunc(ok), zap.NewNop())
	s.AddStatus("worker_pool", func() any { return map[string]int{"workers": 4} })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Checks     map[string]string `json:"checks"`
		Components map[string]struct {
			Workers int `json:"workers"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, 4, body.Components["worker_pool"].Workers)
}
