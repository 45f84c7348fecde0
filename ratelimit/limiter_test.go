package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-collector/config"
)

func testLimiter(cfg config.RateLimitConfig) *DomainRateLimiter {
	d := NewDomainRateLimiter(cfg, nil)
	d.jitter = func(time.Duration) time.Duration { return 0 }
	return d
}

func TestEffectiveDelay(t *testing.T) {
	cfg := config.RateLimitConfig{
		DefaultDelay: 1 * time.Second,
		DomainOverrides: map[string]time.Duration{
			"arxiv.org": 20 * time.Second,
		},
	}
	d := testLimiter(cfg)

	tests := map[string]struct {
		domain     string
		crawlDelay time.Duration
		sourceMin  time.Duration
		want       time.Duration
	}{
		"default wins": {
			domain: "example.com",
			want:   1 * time.Second,
		},
		"domain override wins": {
			domain: "arxiv.org",
			want:   20 * time.Second,
		},
		"override matches www variant": {
			domain: "www.arxiv.org",
			want:   20 * time.Second,
		},
		"crawl delay wins": {
			domain:     "example.com",
			crawlDelay: 5 * time.Second,
			want:       5 * time.Second,
		},
		"source minimum wins": {
			domain:    "example.com",
			sourceMin: 3 * time.Second,
			want:      3 * time.Second,
		},
		"override beats smaller crawl delay": {
			domain:     "arxiv.org",
			crawlDelay: 5 * time.Second,
			want:       20 * time.Second,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := d.EffectiveDelay(tc.domain, tc.crawlDelay, tc.sourceMin)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBackoffDelayMonotonicAndCapped(t *testing.T) {
	d := testLimiter(config.RateLimitConfig{
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  10 * time.Second,
	})

	assert.Equal(t, 500*time.Millisecond, d.BackoffDelay(0))
	assert.Equal(t, 1*time.Second, d.BackoffDelay(1))
	assert.Equal(t, 2*time.Second, d.BackoffDelay(2))
	assert.Equal(t, 4*time.Second, d.BackoffDelay(3))
	assert.Equal(t, 8*time.Second, d.BackoffDelay(4))
	assert.Equal(t, 10*time.Second, d.BackoffDelay(5))
	assert.Equal(t, 10*time.Second, d.BackoffDelay(20))

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		current := d.BackoffDelay(attempt)
		assert.GreaterOrEqual(t, current, prev, "attempt %d", attempt)
		prev = current
	}
}

func TestBackoffJitterBounded(t *testing.T) {
	d := NewDomainRateLimiter(config.RateLimitConfig{
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  10 * time.Second,
		JitterMax:   300 * time.Millisecond,
	}, nil)

	for i := 0; i < 50; i++ {
		got := d.BackoffDelay(0)
		assert.GreaterOrEqual(t, got, 500*time.Millisecond)
		assert.Less(t, got, 800*time.Millisecond)
	}
}

func TestWaitSpacesSameDomain(t *testing.T) {
	d := testLimiter(config.RateLimitConfig{DefaultDelay: 50 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, d.Wait(ctx, "example.com", 0, 0))
	require.NoError(t, d.Wait(ctx, "example.com", 0, 0))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestWaitIndependentDomains(t *testing.T) {
	d := testLimiter(config.RateLimitConfig{DefaultDelay: 200 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, d.Wait(ctx, "a.com", 0, 0))

	// A different domain must not inherit a.com's wait.
	start := time.Now()
	require.NoError(t, d.Wait(ctx, "b.com", 0, 0))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitCancelled(t *testing.T) {
	d := testLimiter(config.RateLimitConfig{DefaultDelay: 5 * time.Second})

	require.NoError(t, d.Wait(context.Background(), "example.com", 0, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Wait(ctx, "example.com", 0, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFailureTracking(t *testing.T) {
	d := testLimiter(config.RateLimitConfig{
		DefaultDelay:     time.Millisecond,
		BackoffBase:      500 * time.Millisecond,
		BackoffMax:       10 * time.Second,
		FailureThreshold: 3,
	})

	assert.Equal(t, 0, d.Failures("example.com"))
	assert.Equal(t, 1, d.RecordFailure("example.com"))
	assert.Equal(t, 2, d.RecordFailure("example.com"))
	assert.Equal(t, 3, d.RecordFailure("example.com"))

	// Failures on one domain never leak into another.
	assert.Equal(t, 0, d.Failures("other.com"))

	d.RecordSuccess("example.com")
	assert.Equal(t, 0, d.Failures("example.com"))
}

func TestStats(t *testing.T) {
	d := testLimiter(config.RateLimitConfig{
		DefaultDelay: time.Millisecond,
		BackoffBase:  500 * time.Millisecond,
		BackoffMax:   10 * time.Second,
	})

	require.NoError(t, d.Wait(context.Background(), "example.com", 0, 0))
	d.RecordFailure("example.com")

	stats := d.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "example.com", stats[0].Domain)
	assert.Equal(t, 1, stats[0].ConsecutiveFailures)
	assert.Equal(t, 500*time.Millisecond, stats[0].CurrentBackoff)
	assert.Equal(t, int64(1), stats[0].TotalWaits)
}
