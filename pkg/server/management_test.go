package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/health"
	"github.com/heartline/keyset/pkg/middleware/testutil"
	"github.com/heartline/keyset/pkg/observability/metrics"
	"github.com/heartline/keyset/pkg/server/router/nethttp"
	"github.com/heartline/keyset/pkg/version"
)

type fakeAdapter struct {
	err error
}

func (a fakeAdapter) HealthCheck(context.Context) error { return a.err }

func newManagement(healthRegistry *health.Registry) *ManagementServer {
	return NewManagementServer(
		config.ManagementConfig{Port: 0, ReadTimeout: time.Second, WriteTimeout: time.Second},
		nethttp.NewRouter(),
		&testutil.MockLogger{},
		healthRegistry,
		metrics.NewRegistry(),
		version.Info{Service: "keyset", Version: "1.4.0", Commit: "abc123", BuildTime: version.Unknown},
	)
}

func TestManagementServer_Health(t *testing.T) {
	s := newManagement(health.NewRegistry())

	rec := get(t, s.Router(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestManagementServer_Ready(t *testing.T) {
	tests := []struct {
		name       string
		checker    *health.AdapterChecker
		wantStatus int
		wantHealth health.Status
	}{
		{
			name:       "all healthy",
			checker:    health.NewAdapterChecker("database:postgres", fakeAdapter{}, time.Second),
			wantStatus: http.StatusOK,
			wantHealth: health.StatusHealthy,
		},
		{
			name:       "required dependency down",
			checker:    health.NewAdapterChecker("database:postgres", fakeAdapter{err: errors.New("refused")}, time.Second),
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: health.StatusUnhealthy,
		},
		{
			name:       "optional dependency down",
			checker:    health.NewAdapterChecker("cache:redis", fakeAdapter{err: errors.New("refused")}, time.Second).Optional(),
			wantStatus: http.StatusOK,
			wantHealth: health.StatusDegraded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := health.NewRegistry()
			registry.Register(tt.checker)
			s := newManagement(registry)

			rec := get(t, s.Router(), "/ready")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var result health.AggregatedResult
			if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
				t.Fatal(err)
			}
			if result.Status != tt.wantHealth || len(result.Checks) != 1 {
				t.Errorf("result = %+v", result)
			}
		})
	}
}

func TestManagementServer_Metrics(t *testing.T) {
	s := newManagement(health.NewRegistry())
	metrics.RecordPageFetch("profiles", "keyset", 3, nil, time.Millisecond)

	rec := get(t, s.Router(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected runtime collectors in the exposition")
	}
}

func TestManagementServer_VersionAndOpenAPI(t *testing.T) {
	s := newManagement(health.NewRegistry())

	rec := get(t, s.Router(), "/version")
	var info version.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "1.4.0" || info.Commit != "abc123" {
		t.Errorf("version = %+v", info)
	}

	rec = get(t, s.Router(), "/openapi.yaml")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/yaml" {
		t.Fatalf("status = %d, content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "/v1/{collection}") {
		t.Error("expected the listing API description")
	}
}
