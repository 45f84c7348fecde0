package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-collector/canonical"
	"news-collector/config"
	"news-collector/dedup"
	"news-collector/dlq"
	"news-collector/domain"
	"news-collector/metrics"
	"news-collector/orchestrator"
	"news-collector/ratelimit"
	"news-collector/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors in tests
	}))
}

type stubBreakers struct{ states map[string]string }

func (s *stubBreakers) BreakerStates() map[string]string { return s.states }

type stubDLQ struct {
	stats dlq.Stats
	err   error
}

func (s *stubDLQ) GetStats() (dlq.Stats, error) { return s.stats, s.err }

type noopFetcher struct{}

func (noopFetcher) Fetch(ctx context.Context, source *domain.Source) domain.FetchOutcome {
	return domain.FetchOutcome{Status: domain.FetchNotModified}
}

func newTestServer(t *testing.T, trigger func() error) (*Server, *metrics.Collector) {
	t.Helper()

	logger := testLogger()
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			DefaultDelay:     time.Millisecond,
			FailureThreshold: 3,
			SuppressCooldown: time.Hour,
		},
		Collection: config.CollectionConfig{MaxConcurrentSources: 2, MinTitleLength: 5},
		Metrics:    config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	collector := metrics.NewCollector(cfg.Metrics, logger)
	queue := &stubDLQ{stats: dlq.Stats{TotalRecords: 3}}

	orch := orchestrator.New(
		cfg,
		noopFetcher{},
		canonical.New(8),
		dedup.NewEngine(dedup.Config{}, logger),
		repository.NewMemoryArticleRepository(),
		repository.NewMemorySourceStateRepository(),
		dlq.NewFileDLQ(config.DLQConfig{BasePath: t.TempDir()}, logger),
		collector,
		logger,
	)

	deps := Dependencies{
		Logger:        logger,
		Collector:     collector,
		Orchestrator:  orch,
		Canonicalizer: canonical.New(8),
		Limiter:       ratelimit.NewDomainRateLimiter(cfg.RateLimit, logger),
		Breakers:      &stubBreakers{states: map[string]string{"example.com": "closed"}},
		Queue:         queue,
		Articles:      repository.NewMemoryArticleRepository(),
		TriggerCycle:  trigger,
	}

	return New(config.ServerConfig{
		Port:            0,
		ShutdownTimeout: time.Second,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
	}, cfg.Metrics.Path, deps), collector
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doRequest(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "healthy", payload["status"])
	assert.Equal(t, float64(0), payload["articles"])
}

func TestMetricsEndpoints(t *testing.T) {
	s, collector := newTestServer(t, nil)
	collector.RecordFetch("example.com", 50*time.Millisecond, domain.FetchFresh)

	rec := doRequest(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `newscollector_fetches_total{domain="example.com"} 1`)

	rec = doRequest(s, http.MethodGet, "/api/v1/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var export metrics.ExportData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	assert.Equal(t, "news-collector", export.ServiceName)
}

func TestLatestCycleNotFoundBeforeFirstRun(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/cycles/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerCycle(t *testing.T) {
	triggered := false
	s, _ := newTestServer(t, func() error {
		triggered = true
		return nil
	})

	rec := doRequest(s, http.MethodPost, "/api/v1/cycles/run")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, triggered)
}

func TestTriggerCycleConflict(t *testing.T) {
	s, _ := newTestServer(t, func() error {
		return orchestrator.ErrCycleRunning
	})

	rec := doRequest(s, http.MethodPost, "/api/v1/cycles/run")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerCycleDisabled(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doRequest(s, http.MethodPost, "/api/v1/cycles/run")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestDLQStatsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/dlq/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats dlq.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalRecords)
}

func TestIntrospectionEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/cache/canonical")
	require.Equal(t, http.StatusOK, rec.Code)

	var info canonical.CacheInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 8, info.Capacity)

	rec = doRequest(s, http.MethodGet, "/api/v1/breakers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "closed")

	rec = doRequest(s, http.MethodGet, "/api/v1/ratelimit")
	require.Equal(t, http.StatusOK, rec.Code)
}
