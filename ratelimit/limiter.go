// ABOUTME: This file implements per-domain politeness rate limiting with exponential backoff
// ABOUTME: Effective delay combines the global default, domain overrides, robots crawl-delay and per-source minimums
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"news-collector/config"
)

// DomainStats is a read-only snapshot of one domain's limiter state.
type DomainStats struct {
	Domain              string        `json:"domain"`
	LastRequest         time.Time     `json:"last_request"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CurrentBackoff      time.Duration `json:"current_backoff"`
	TotalWaits          int64         `json:"total_waits"`
}

type domainState struct {
	mu          sync.Mutex
	lastRequest time.Time
	failures    int
	totalWaits  int64

	// bucket is a burst guard at the default delay rate. The slot reservation
	// in Wait handles the dynamic (override/crawl-delay/backoff) spacing.
	bucket *rate.Limiter
}

// DomainRateLimiter spaces requests per domain. Concurrent fetches of sources
// on the same domain serialize through the domain's state; distinct domains
// never block each other.
type DomainRateLimiter struct {
	cfg    config.RateLimitConfig
	logger *slog.Logger

	mu      sync.RWMutex
	domains map[string]*domainState

	// jitter is swappable for deterministic tests.
	jitter func(max time.Duration) time.Duration
}

// NewDomainRateLimiter creates a limiter from the rate limit configuration.
func NewDomainRateLimiter(cfg config.RateLimitConfig, logger *slog.Logger) *DomainRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	return &DomainRateLimiter{
		cfg:     cfg,
		logger:  logger,
		domains: make(map[string]*domainState),
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// EffectiveDelay returns the politeness delay for a domain: the maximum of
// the global default, any configured domain override, the robots crawl-delay
// and the per-source minimum.
func (d *DomainRateLimiter) EffectiveDelay(domain string, crawlDelay, sourceMin time.Duration) time.Duration {
	delay := d.cfg.DefaultDelay

	if override, ok := d.domainOverride(domain); ok && override > delay {
		delay = override
	}
	if crawlDelay > delay {
		delay = crawlDelay
	}
	if sourceMin > delay {
		delay = sourceMin
	}
	return delay
}

// domainOverride looks up a configured override for the domain, tolerating a
// leading "www." mismatch in either direction.
func (d *DomainRateLimiter) domainOverride(domain string) (time.Duration, bool) {
	candidates := []string{domain}
	if stripped := strings.TrimPrefix(domain, "www."); stripped != domain {
		candidates = append(candidates, stripped)
	} else {
		candidates = append(candidates, "www."+domain)
	}

	for _, candidate := range candidates {
		if override, ok := d.cfg.DomainOverrides[candidate]; ok {
			return override, true
		}
	}
	return 0, false
}

// Wait blocks until the domain may be contacted again, honoring the effective
// delay plus any accumulated failure backoff. Each caller reserves its slot
// up front, so concurrent fetches against one domain queue behind each other
// while distinct domains proceed independently.
func (d *DomainRateLimiter) Wait(ctx context.Context, domain string, crawlDelay, sourceMin time.Duration) error {
	state := d.state(domain)

	state.mu.Lock()
	delay := d.EffectiveDelay(domain, crawlDelay, sourceMin)
	if state.failures > 0 {
		delay += d.BackoffDelay(state.failures - 1)
	}

	now := time.Now()
	target := now
	if !state.lastRequest.IsZero() {
		if next := state.lastRequest.Add(delay); next.After(now) {
			target = next
		}
	}
	state.lastRequest = target
	state.totalWaits++
	state.mu.Unlock()

	waitTime := time.Until(target)
	if waitTime > 0 {
		d.logger.Debug("rate limit wait",
			"domain", domain,
			"wait", waitTime,
			"effective_delay", delay)

		timer := time.NewTimer(waitTime)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("rate limit wait cancelled for %s: %w", domain, ctx.Err())
		}
	}

	if err := state.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled for %s: %w", domain, err)
	}
	return nil
}

// BackoffDelay returns the delay before retry attempt n (zero-based):
// min(backoffMax, backoffBase * 2^n) plus random jitter.
func (d *DomainRateLimiter) BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoff := d.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= d.cfg.BackoffMax {
			backoff = d.cfg.BackoffMax
			break
		}
	}
	if backoff > d.cfg.BackoffMax {
		backoff = d.cfg.BackoffMax
	}

	return backoff + d.jitter(d.cfg.JitterMax)
}

// RecordFailure increments the domain's consecutive failure count and returns
// the new count.
func (d *DomainRateLimiter) RecordFailure(domain string) int {
	state := d.state(domain)

	state.mu.Lock()
	defer state.mu.Unlock()

	state.failures++
	if state.failures >= d.cfg.FailureThreshold {
		d.logger.Warn("domain failure threshold reached",
			"domain", domain,
			"consecutive_failures", state.failures,
			"threshold", d.cfg.FailureThreshold)
	}
	return state.failures
}

// RecordSuccess resets the domain's consecutive failure count.
func (d *DomainRateLimiter) RecordSuccess(domain string) {
	state := d.state(domain)

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.failures > 0 {
		d.logger.Debug("domain recovered", "domain", domain, "cleared_failures", state.failures)
	}
	state.failures = 0
}

// Failures returns the domain's current consecutive failure count.
func (d *DomainRateLimiter) Failures(domain string) int {
	state := d.state(domain)

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.failures
}

// Stats returns a snapshot of every tracked domain, for the ops endpoints.
func (d *DomainRateLimiter) Stats() []DomainStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]DomainStats, 0, len(d.domains))
	for domain, state := range d.domains {
		state.mu.Lock()
		stats := DomainStats{
			Domain:              domain,
			LastRequest:         state.lastRequest,
			ConsecutiveFailures: state.failures,
			TotalWaits:          state.totalWaits,
		}
		if state.failures > 0 {
			stats.CurrentBackoff = d.BackoffDelay(state.failures - 1)
		}
		state.mu.Unlock()
		result = append(result, stats)
	}
	return result
}

// state gets or creates the per-domain state.
func (d *DomainRateLimiter) state(domain string) *domainState {
	d.mu.RLock()
	state, exists := d.domains[domain]
	d.mu.RUnlock()

	if exists {
		return state
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring write lock
	if state, exists := d.domains[domain]; exists {
		return state
	}

	limit := rate.Inf
	if d.cfg.DefaultDelay > 0 {
		limit = rate.Every(d.cfg.DefaultDelay)
	}
	state = &domainState{bucket: rate.NewLimiter(limit, 1)}
	d.domains[domain] = state
	return state
}
