package config

import (
	"fmt"
)

func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.HTTP.Timeout <= 0 {
		return fmt.Errorf("HTTP timeout must be positive: %v", config.HTTP.Timeout)
	}

	if config.HTTP.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	if config.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive: %d", config.Retry.MaxAttempts)
	}

	if config.Retry.BackoffFactor <= 1.0 {
		return fmt.Errorf("backoff factor must be greater than 1.0: %f", config.Retry.BackoffFactor)
	}

	if config.RateLimit.DefaultDelay <= 0 {
		return fmt.Errorf("rate limit default delay must be positive: %v", config.RateLimit.DefaultDelay)
	}

	if config.RateLimit.BackoffBase <= 0 {
		return fmt.Errorf("rate limit backoff base must be positive: %v", config.RateLimit.BackoffBase)
	}

	if config.RateLimit.BackoffMax < config.RateLimit.BackoffBase {
		return fmt.Errorf("rate limit backoff max %v must not be below base %v",
			config.RateLimit.BackoffMax, config.RateLimit.BackoffBase)
	}

	if config.RateLimit.JitterMax < 0 {
		return fmt.Errorf("rate limit jitter max must be non-negative: %v", config.RateLimit.JitterMax)
	}

	if config.RateLimit.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive: %d", config.RateLimit.FailureThreshold)
	}

	if config.Robots.CacheTTL <= 0 {
		return fmt.Errorf("robots cache TTL must be positive: %v", config.Robots.CacheTTL)
	}

	if config.Canonical.CacheSize < 0 {
		return fmt.Errorf("canonical cache size must be non-negative: %d", config.Canonical.CacheSize)
	}

	if config.Dedup.SimhashThreshold <= 0 || config.Dedup.SimhashThreshold >= 64 {
		return fmt.Errorf("simhash threshold must be in (0, 64): %d", config.Dedup.SimhashThreshold)
	}

	if config.Dedup.CandidateWindow <= 0 {
		return fmt.Errorf("dedup candidate window must be positive: %d", config.Dedup.CandidateWindow)
	}

	if config.Dedup.TitleOverlapFloor < 0 || config.Dedup.TitleOverlapFloor > 1 {
		return fmt.Errorf("title overlap floor must be in [0, 1]: %f", config.Dedup.TitleOverlapFloor)
	}

	if config.Collection.Interval <= 0 {
		return fmt.Errorf("collection interval must be positive: %v", config.Collection.Interval)
	}

	if config.Collection.MaxConcurrentSources <= 0 {
		return fmt.Errorf("max concurrent sources must be positive: %d", config.Collection.MaxConcurrentSources)
	}

	if config.Collection.MaxArticlesPerSource <= 0 {
		return fmt.Errorf("max articles per source must be positive: %d", config.Collection.MaxArticlesPerSource)
	}

	if config.DLQ.BasePath == "" {
		return fmt.Errorf("DLQ base path cannot be empty")
	}

	if config.Database.Enabled {
		if config.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty when database is enabled")
		}
		if config.Database.Port <= 0 || config.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", config.Database.Port)
		}
	}

	return nil
}
