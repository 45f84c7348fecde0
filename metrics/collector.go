// ABOUTME: This file implements metrics collection for fetch performance and cycle outcomes
// ABOUTME: Provides per-domain aggregation with JSON and Prometheus export
package metrics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"news-collector/config"
	"news-collector/domain"
)

// DomainMetrics tracks fetch performance for a specific feed domain.
type DomainMetrics struct {
	Domain            string        `json:"domain"`
	TotalRequests     int64         `json:"total_requests"`
	SuccessCount      int64         `json:"success_count"`
	FailureCount      int64         `json:"failure_count"`
	NotModifiedCount  int64         `json:"not_modified_count"`
	SuccessRate       float64       `json:"success_rate"`
	AvgResponseTime   time.Duration `json:"avg_response_time_ms"`
	MinResponseTime   time.Duration `json:"min_response_time_ms"`
	MaxResponseTime   time.Duration `json:"max_response_time_ms"`
	LastRequestTime   time.Time     `json:"last_request_time"`
	FirstRequestTime  time.Time     `json:"first_request_time"`
	TotalResponseTime time.Duration `json:"-"`
}

// CycleMetrics accumulates collection-cycle outcomes across the process
// lifetime.
type CycleMetrics struct {
	CyclesCompleted int64     `json:"cycles_completed"`
	ArticlesFound   int64     `json:"articles_found"`
	ArticlesSaved   int64     `json:"articles_saved"`
	Duplicates      int64     `json:"duplicates"`
	DeadLettered    int64     `json:"dead_lettered"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
}

// AggregateMetrics provides system-wide fetch statistics.
type AggregateMetrics struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessCount    int64         `json:"success_count"`
	FailureCount    int64         `json:"failure_count"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time_ms"`
	ActiveDomains   int           `json:"active_domains"`
	CollectionTime  time.Time     `json:"collection_time"`
}

// ExportData contains all metrics for export.
type ExportData struct {
	Aggregate     *AggregateMetrics         `json:"aggregate"`
	Cycles        CycleMetrics              `json:"cycles"`
	DomainMetrics map[string]*DomainMetrics `json:"domains"`
	ExportTime    time.Time                 `json:"export_time"`
	ServiceName   string                    `json:"service_name"`
}

// Collector manages metric collection and aggregation.
type Collector struct {
	enabled bool
	logger  *slog.Logger

	mu      sync.RWMutex
	metrics map[string]*DomainMetrics
	cycles  CycleMetrics
}

// NewCollector creates a metrics collector.
func NewCollector(cfg config.MetricsConfig, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		enabled: cfg.Enabled,
		logger:  logger,
		metrics: make(map[string]*DomainMetrics),
	}
}

// RecordFetch records one fetch outcome for a domain.
func (c *Collector) RecordFetch(dom string, responseTime time.Duration, status domain.FetchStatus) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	m, exists := c.metrics[dom]
	if !exists {
		m = &DomainMetrics{
			Domain:           dom,
			FirstRequestTime: now,
			MinResponseTime:  responseTime,
			MaxResponseTime:  responseTime,
		}
		c.metrics[dom] = m
	}

	m.TotalRequests++
	m.LastRequestTime = now
	m.TotalResponseTime += responseTime

	switch status {
	case domain.FetchFresh:
		m.SuccessCount++
	case domain.FetchNotModified:
		m.SuccessCount++
		m.NotModifiedCount++
	case domain.FetchFailed:
		m.FailureCount++
	case domain.FetchPolicyBlocked:
		// Neither success nor host failure.
	}

	if responseTime < m.MinResponseTime {
		m.MinResponseTime = responseTime
	}
	if responseTime > m.MaxResponseTime {
		m.MaxResponseTime = responseTime
	}

	if m.TotalRequests > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalRequests)
		m.AvgResponseTime = time.Duration(m.TotalResponseTime.Nanoseconds() / m.TotalRequests)
	}
}

// RecordCycle folds one finished cycle report into the counters.
func (c *Collector) RecordCycle(report *domain.CycleReport) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cycles.CyclesCompleted++
	c.cycles.ArticlesFound += int64(report.ArticlesFound)
	c.cycles.ArticlesSaved += int64(report.ArticlesSaved)
	c.cycles.Duplicates += int64(report.Duplicates)
	c.cycles.DeadLettered += int64(report.DeadLettered)
	c.cycles.LastCycleAt = report.StartedAt.Add(report.Duration)
}

// GetDomainMetrics returns metrics for a specific domain, or nil.
func (c *Collector) GetDomainMetrics(dom string) *DomainMetrics {
	if !c.enabled {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	m, exists := c.metrics[dom]
	if !exists {
		return nil
	}
	copied := *m
	return &copied
}

// GetAggregateMetrics returns system-wide aggregate metrics.
func (c *Collector) GetAggregateMetrics() *AggregateMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aggregateLocked()
}

func (c *Collector) aggregateLocked() *AggregateMetrics {
	aggregate := &AggregateMetrics{
		CollectionTime: time.Now(),
		ActiveDomains:  len(c.metrics),
	}

	var totalResponseTime time.Duration
	for _, m := range c.metrics {
		aggregate.TotalRequests += m.TotalRequests
		aggregate.SuccessCount += m.SuccessCount
		aggregate.FailureCount += m.FailureCount
		totalResponseTime += m.TotalResponseTime
	}

	if aggregate.TotalRequests > 0 {
		aggregate.SuccessRate = float64(aggregate.SuccessCount) / float64(aggregate.TotalRequests)
		aggregate.AvgResponseTime = time.Duration(totalResponseTime.Nanoseconds() / aggregate.TotalRequests)
	}
	return aggregate
}

// ExportJSON exports all metrics in JSON format.
func (c *Collector) ExportJSON() ([]byte, error) {
	if !c.enabled {
		return []byte("{}"), nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	exportData := &ExportData{
		Aggregate:     c.aggregateLocked(),
		Cycles:        c.cycles,
		DomainMetrics: make(map[string]*DomainMetrics, len(c.metrics)),
		ExportTime:    time.Now(),
		ServiceName:   "news-collector",
	}

	for dom, m := range c.metrics {
		copied := *m
		exportData.DomainMetrics[dom] = &copied
	}

	return json.MarshalIndent(exportData, "", "  ")
}

// ExportPrometheus exports metrics in Prometheus text format.
func (c *Collector) ExportPrometheus() string {
	if !c.enabled {
		return ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var builder strings.Builder

	builder.WriteString("# HELP newscollector_fetches_total Total number of feed fetches\n")
	builder.WriteString("# TYPE newscollector_fetches_total counter\n")
	builder.WriteString("# HELP newscollector_fetches_success_total Total number of successful fetches\n")
	builder.WriteString("# TYPE newscollector_fetches_success_total counter\n")
	builder.WriteString("# HELP newscollector_fetches_failure_total Total number of failed fetches\n")
	builder.WriteString("# TYPE newscollector_fetches_failure_total counter\n")
	builder.WriteString("# HELP newscollector_fetch_response_time_seconds Average fetch response time in seconds\n")
	builder.WriteString("# TYPE newscollector_fetch_response_time_seconds gauge\n")
	builder.WriteString("# HELP newscollector_fetch_success_rate Ratio of successful fetches\n")
	builder.WriteString("# TYPE newscollector_fetch_success_rate gauge\n")

	domains := make([]string, 0, len(c.metrics))
	for dom := range c.metrics {
		domains = append(domains, dom)
	}
	sort.Strings(domains)

	for _, dom := range domains {
		m := c.metrics[dom]
		builder.WriteString(fmt.Sprintf("newscollector_fetches_total{domain=%q} %d\n", dom, m.TotalRequests))
		builder.WriteString(fmt.Sprintf("newscollector_fetches_success_total{domain=%q} %d\n", dom, m.SuccessCount))
		builder.WriteString(fmt.Sprintf("newscollector_fetches_failure_total{domain=%q} %d\n", dom, m.FailureCount))
		builder.WriteString(fmt.Sprintf("newscollector_fetch_response_time_seconds{domain=%q} %.6f\n", dom, m.AvgResponseTime.Seconds()))
		builder.WriteString(fmt.Sprintf("newscollector_fetch_success_rate{domain=%q} %.4f\n", dom, m.SuccessRate))
	}

	builder.WriteString("# HELP newscollector_cycles_completed_total Collection cycles completed\n")
	builder.WriteString("# TYPE newscollector_cycles_completed_total counter\n")
	builder.WriteString(fmt.Sprintf("newscollector_cycles_completed_total %d\n", c.cycles.CyclesCompleted))
	builder.WriteString("# HELP newscollector_articles_saved_total Articles saved across all cycles\n")
	builder.WriteString("# TYPE newscollector_articles_saved_total counter\n")
	builder.WriteString(fmt.Sprintf("newscollector_articles_saved_total %d\n", c.cycles.ArticlesSaved))
	builder.WriteString("# HELP newscollector_duplicates_total Duplicate articles detected across all cycles\n")
	builder.WriteString("# TYPE newscollector_duplicates_total counter\n")
	builder.WriteString(fmt.Sprintf("newscollector_duplicates_total %d\n", c.cycles.Duplicates))
	builder.WriteString("# HELP newscollector_dead_lettered_total Payloads routed to the dead letter queue\n")
	builder.WriteString("# TYPE newscollector_dead_lettered_total counter\n")
	builder.WriteString(fmt.Sprintf("newscollector_dead_lettered_total %d\n", c.cycles.DeadLettered))

	return builder.String()
}

// Reset clears all collected metrics.
func (c *Collector) Reset() {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics = make(map[string]*DomainMetrics)
	c.cycles = CycleMetrics{}
	c.logger.Info("metrics reset completed")
}

// Cleanup removes domain metrics unused for a day.
func (c *Collector) Cleanup() {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	cleanupThreshold := 24 * time.Hour
	removed := 0

	for dom, m := range c.metrics {
		if now.Sub(m.LastRequestTime) > cleanupThreshold {
			delete(c.metrics, dom)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Info("metrics cleanup completed",
			"removed_domains", removed,
			"remaining_domains", len(c.metrics))
	}
}
