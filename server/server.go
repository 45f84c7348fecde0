// ABOUTME: This file implements the operational HTTP server for health, metrics and pipeline introspection
// ABOUTME: All endpoints are read-only except the manual cycle trigger
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	appmiddleware "news-collector/middleware"

	"news-collector/canonical"
	"news-collector/config"
	"news-collector/dlq"
	"news-collector/domain"
	"news-collector/metrics"
	"news-collector/orchestrator"
	"news-collector/ratelimit"
	"news-collector/repository"
)

// BreakerInspector exposes per-host circuit breaker states.
type BreakerInspector interface {
	BreakerStates() map[string]string
}

// DLQInspector exposes dead letter queue statistics.
type DLQInspector interface {
	GetStats() (dlq.Stats, error)
}

// Dependencies holds everything the ops server reads from.
type Dependencies struct {
	Logger        *slog.Logger
	Collector     *metrics.Collector
	Orchestrator  *orchestrator.Orchestrator
	Canonicalizer *canonical.Canonicalizer
	Limiter       *ratelimit.DomainRateLimiter
	Breakers      BreakerInspector
	Queue         DLQInspector
	Articles      repository.ArticleRepository

	// TriggerCycle starts a collection cycle out of schedule. Returns
	// orchestrator.ErrCycleRunning when one is already active.
	TriggerCycle func() error
}

// Server is the operational HTTP server.
type Server struct {
	echo   *echo.Echo
	cfg    config.ServerConfig
	deps   Dependencies
	logger *slog.Logger
}

// New builds the echo server with all ops routes registered.
func New(cfg config.ServerConfig, metricsPath string, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.HTTPErrorHandler = appmiddleware.ErrorHandler(logger)

	e.Use(appmiddleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/health" || path == metricsPath
		},
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.InfoContext(c.Request().Context(), "HTTP request completed",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"error", v.Error)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	s := &Server{echo: e, cfg: cfg, deps: deps, logger: logger}

	e.GET("/health", s.handleHealth)
	if metricsPath != "" {
		e.GET(metricsPath, s.handlePrometheus)
	}

	api := e.Group("/api/v1")
	api.GET("/metrics", s.handleMetricsJSON)
	api.GET("/cycles/latest", s.handleLatestCycle)
	api.POST("/cycles/run", s.handleTriggerCycle)
	api.GET("/dlq/stats", s.handleDLQStats)
	api.GET("/cache/canonical", s.handleCanonicalCache)
	api.GET("/ratelimit", s.handleRateLimit)
	api.GET("/breakers", s.handleBreakers)

	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("starting ops server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	payload := map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	if s.deps.Articles != nil {
		count, err := s.deps.Articles.Count(c.Request().Context())
		if err != nil {
			s.logger.Error("health check: article count failed", "error", err)
			payload["status"] = "degraded"
		} else {
			payload["articles"] = count
		}
	}

	return c.JSON(http.StatusOK, payload)
}

func (s *Server) handlePrometheus(c echo.Context) error {
	return c.String(http.StatusOK, s.deps.Collector.ExportPrometheus())
}

func (s *Server) handleMetricsJSON(c echo.Context) error {
	data, err := s.deps.Collector.ExportJSON()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "metrics export failed")
	}
	return c.JSONBlob(http.StatusOK, data)
}

func (s *Server) handleLatestCycle(c echo.Context) error {
	report := s.deps.Orchestrator.LastReport()
	if report == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no cycle completed yet")
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleTriggerCycle(c echo.Context) error {
	if s.deps.TriggerCycle == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "manual cycles disabled")
	}

	if err := s.deps.TriggerCycle(); err != nil {
		if errors.Is(err, orchestrator.ErrCycleRunning) {
			return echo.NewHTTPError(http.StatusConflict, "cycle already running")
		}
		if errors.Is(err, domain.ErrNoSources) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "no sources configured")
		}
		s.logger.Error("manual cycle trigger failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cycle failed to start")
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleDLQStats(c echo.Context) error {
	stats, err := s.deps.Queue.GetStats()
	if err != nil {
		s.logger.Error("DLQ stats failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "dead letter stats unavailable")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCanonicalCache(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Canonicalizer.CacheInfo())
}

func (s *Server) handleRateLimit(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Limiter.Stats())
}

func (s *Server) handleBreakers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Breakers.BreakerStates())
}
