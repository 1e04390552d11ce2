package server

import (
	"net/http"
	"time"

	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/health"
	"github.com/heartline/keyset/pkg/middleware/logging"
	"github.com/heartline/keyset/pkg/middleware/openapivalidation"
	"github.com/heartline/keyset/pkg/middleware/recovery"
	"github.com/heartline/keyset/pkg/middleware/requestid"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/metrics"
	"github.com/heartline/keyset/pkg/server/router"
	"github.com/heartline/keyset/pkg/version"
)

// ManagementServer serves operational endpoints on their own port:
//
//	GET /health        liveness, always 200
//	GET /ready         dependency checks, 503 when a required one fails
//	GET /metrics       Prometheus exposition
//	GET /version       build metadata
//	GET /openapi.yaml  the listing API description
type ManagementServer struct {
	*Server
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	version         version.Info
}

// NewManagementServer applies a light middleware stack to r and registers
// the management endpoints.
func NewManagementServer(
	cfg config.ManagementConfig,
	r router.Router,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	info version.Info,
) *ManagementServer {
	// Probes hit these endpoints every few seconds.
	r.Use(
		requestid.RequestID(),
		logging.WithConfig(log, logging.Config{
			Enabled: true,
			PathPolicies: []logging.PathPolicy{
				{Prefix: "/health", Mode: logging.ModeOff},
				{Prefix: "/ready", Mode: logging.ModeMinimal},
				{Prefix: "/metrics", Mode: logging.ModeOff},
			},
		}),
		recovery.Recovery(log),
	)

	s := &ManagementServer{
		Server: NewServer(Config{
			Port:         cfg.Port,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}, r, log),
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		version:         info,
	}

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/version", s.handleVersion)
	r.GET("/openapi.yaml", s.handleOpenAPI)
	return s
}

func (s *ManagementServer) handleHealth(c router.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": health.StatusHealthy,
	})
}

func (s *ManagementServer) handleReady(c router.Context) error {
	result := s.healthRegistry.Check(c.Request().Context())
	if !result.IsHealthy() {
		return c.JSON(http.StatusServiceUnavailable, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *ManagementServer) handleMetrics(c router.Context) error {
	s.metricsRegistry.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *ManagementServer) handleVersion(c router.Context) error {
	return c.JSON(http.StatusOK, s.version)
}

func (s *ManagementServer) handleOpenAPI(c router.Context) error {
	w := c.Response()
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(openapivalidation.Document)
	return err
}
