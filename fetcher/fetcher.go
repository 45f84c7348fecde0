// ABOUTME: This file implements conditional feed fetching with ETag/Last-Modified validators
// ABOUTME: Combines robots policy, per-domain rate limiting, retries and circuit breaking
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"news-collector/config"
	"news-collector/domain"
	"news-collector/ratelimit"
	"news-collector/retry"
	"news-collector/robots"
)

// maxBodyBytes caps how much of a feed body is read. Feeds beyond this are
// truncated mid-parse and surface as malformed.
const maxBodyBytes = 10 << 20

// Fetcher downloads feeds politely: robots.txt first, then the domain rate
// limiter, then a conditional GET guarded by a per-host circuit breaker and
// a bounded retry loop. Safe for concurrent use across sources.
type Fetcher struct {
	client      *http.Client
	httpCfg     config.HTTPConfig
	maxArticles int
	limiter     *ratelimit.DomainRateLimiter
	robots      *robots.Agent
	retrier     *retry.Retrier
	logger      *slog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// New builds a Fetcher from configuration.
func New(cfg *config.Config, limiter *ratelimit.DomainRateLimiter, robotsAgent *robots.Agent, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.HTTP.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.HTTP.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.HTTP.TLSHandshakeTimeout,
	}

	retrier := retry.NewRetrier(retry.RetryConfig{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		JitterFactor:  cfg.Retry.JitterFactor,
	}, IsRetryable, logger)

	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.HTTP.Timeout,
			Transport: transport,
		},
		httpCfg:     cfg.HTTP,
		maxArticles: cfg.Collection.MaxArticlesPerSource,
		limiter:     limiter,
		robots:      robotsAgent,
		retrier:     retrier,
		logger:      logger,
		breakers:    make(map[string]*CircuitBreaker),
	}
}

type fetchResult struct {
	notModified  bool
	body         []byte
	etag         string
	lastModified string
}

// Fetch performs one conditional fetch of the source's feed. The outcome is
// always populated; Err is set for the failed and policy-blocked statuses.
func (f *Fetcher) Fetch(ctx context.Context, source *domain.Source) domain.FetchOutcome {
	start := time.Now()

	feedURL, err := url.Parse(source.FeedURL)
	if err != nil || !feedURL.IsAbs() || feedURL.Hostname() == "" {
		return domain.FetchOutcome{
			Status:  domain.FetchFailed,
			Latency: time.Since(start),
			Err:     fmt.Errorf("%w: %s", domain.ErrInvalidURL, source.FeedURL),
		}
	}

	allowed, crawlDelay := f.robots.Check(ctx, feedURL)
	if !allowed {
		// Not a host failure: no backoff penalty, no breaker involvement.
		return domain.FetchOutcome{
			Status:  domain.FetchPolicyBlocked,
			Latency: time.Since(start),
			Err:     fmt.Errorf("%w: %s", domain.ErrPolicyBlocked, source.FeedURL),
		}
	}

	dom := source.Domain()
	sourceMin := time.Duration(source.MinDelaySeconds * float64(time.Second))
	if err := f.limiter.Wait(ctx, dom, crawlDelay, sourceMin); err != nil {
		return domain.FetchOutcome{
			Status:  domain.FetchFailed,
			Latency: time.Since(start),
			Err:     err,
		}
	}

	breaker := f.breaker(feedURL.Host)

	var result fetchResult
	err = f.retrier.Do(ctx, func() error {
		return breaker.Call(func() error {
			var reqErr error
			result, reqErr = f.doRequest(ctx, source)
			return reqErr
		})
	})

	latency := time.Since(start)

	if err != nil {
		failures := f.limiter.RecordFailure(dom)
		f.logger.Warn("feed fetch failed",
			"source_id", source.ID,
			"domain", dom,
			"consecutive_failures", failures,
			"latency_ms", latency.Milliseconds(),
			"error", err)
		return domain.FetchOutcome{
			Status:  domain.FetchFailed,
			Latency: latency,
			Err:     err,
		}
	}

	f.limiter.RecordSuccess(dom)

	if result.notModified {
		f.logger.Debug("feed not modified",
			"source_id", source.ID,
			"latency_ms", latency.Milliseconds())
		return domain.FetchOutcome{
			Status:       domain.FetchNotModified,
			Latency:      latency,
			ETag:         source.ETag,
			LastModified: source.LastModified,
		}
	}

	entries, skipped, parseErr := parseFeed(result.body, source, start.UTC(), f.maxArticles, f.logger)
	if parseErr != nil {
		return domain.FetchOutcome{
			Status:  domain.FetchFailed,
			Bytes:   int64(len(result.body)),
			Latency: time.Since(start),
			Err:     parseErr,
		}
	}

	f.logger.Info("feed fetched",
		"source_id", source.ID,
		"entries", len(entries),
		"skipped", skipped,
		"bytes", len(result.body),
		"latency_ms", latency.Milliseconds())

	return domain.FetchOutcome{
		Status:         domain.FetchFresh,
		Entries:        entries,
		Bytes:          int64(len(result.body)),
		Latency:        time.Since(start),
		ETag:           result.etag,
		LastModified:   result.lastModified,
		SkippedEntries: skipped,
	}
}

func (f *Fetcher) doRequest(ctx context.Context, source *domain.Source) (fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.FeedURL, nil)
	if err != nil {
		return fetchResult{}, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", f.httpCfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	if source.ETag != "" {
		req.Header.Set("If-None-Match", source.ETag)
	}
	if source.LastModified != "" {
		req.Header.Set("If-Modified-Since", source.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return fetchResult{notModified: true}, nil
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fetchResult{}, fmt.Errorf("read body: %w", err)
		}
		return fetchResult{
			body:         body,
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
		}, nil
	default:
		return fetchResult{}, &HTTPError{StatusCode: resp.StatusCode, URL: source.FeedURL}
	}
}

// breaker gets or creates the circuit breaker for a host.
func (f *Fetcher) breaker(host string) *CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(f.httpCfg.CircuitThreshold, f.httpCfg.CircuitTimeout)
		f.breakers[host] = cb
	}
	return cb
}

// BreakerStates reports each host's breaker state, for the ops endpoints.
func (f *Fetcher) BreakerStates() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	states := make(map[string]string, len(f.breakers))
	for host, cb := range f.breakers {
		states[host] = cb.State().String()
	}
	return states
}
