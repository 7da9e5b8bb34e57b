package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kursadbilgin/notification-engine/internal/handler"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"go.uber.org/zap"
)

func TestOpsServerRoutes(t *testing.T) {
	t.Parallel()

	rt := &Runtime{
		Logger:  zap.NewNop(),
		Metrics: observability.NewMetrics(),
		Checks: map[string]handler.HealthCheck{
			"mongodb":  func(context.Context) error { return nil },
			"rabbitmq": func(context.Context) error { return errors.New("connection refused") },
		},
	}
	rt.Metrics.IncCreated()
	server := rt.OpsServer("worker-test")

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/livez", wantStatus: http.StatusOK, wantBody: `"status":"ok"`},
		{path: "/readyz", wantStatus: http.StatusServiceUnavailable, wantBody: `"rabbitmq":"down"`},
		{path: "/metrics", wantStatus: http.StatusOK, wantBody: "notifications_created_total"},
		{path: "/api/notifications", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		resp, err := server.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
		if err != nil {
			t.Fatalf("GET %s error = %v", tt.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != tt.wantStatus {
			t.Fatalf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.wantStatus)
		}
		if tt.wantBody != "" && !strings.Contains(string(body), tt.wantBody) {
			t.Fatalf("GET %s body = %s, want it to contain %s", tt.path, body, tt.wantBody)
		}
	}
}
