package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadConfig builds the configuration from defaults and overrides provided via
// environment variables.
func LoadConfig() (*Config, error) {
	config := defaultConfig()

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9300,
			ShutdownTimeout: 30 * time.Second,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:             30 * time.Second,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			UserAgent:           "SciFeedBot/1.0 (+https://scifeed.example.com/bot)",
			CircuitThreshold:    5,
			CircuitTimeout:      60 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BaseDelay:     500 * time.Millisecond,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 2.0,
			JitterFactor:  0.1,
		},
		RateLimit: RateLimitConfig{
			DefaultDelay: time.Second,
			DomainOverrides: map[string]time.Duration{
				"export.arxiv.org": 20 * time.Second,
				"arxiv.org":        20 * time.Second,
			},
			BackoffBase:      500 * time.Millisecond,
			BackoffMax:       10 * time.Second,
			JitterMax:        300 * time.Millisecond,
			FailureThreshold: 3,
			SuppressCooldown: 6 * time.Hour,
		},
		Robots: RobotsConfig{
			Respect:  true,
			CacheTTL: time.Hour,
		},
		Canonical: CanonicalConfig{
			CacheSize: 2048,
		},
		Dedup: DedupConfig{
			SimhashThreshold:  10,
			CandidateWindow:   500,
			TitleOverlapFloor: 0.1,
		},
		Collection: CollectionConfig{
			SourcesFile:          "sources.yaml",
			Interval:             30 * time.Minute,
			MaxConcurrentSources: 8,
			MaxArticlesPerSource: 50,
			MinTitleLength:       10,
		},
		DLQ: DLQConfig{
			BasePath:      "data/dlq",
			Retention:     720 * time.Hour,
			EnableCleanup: true,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "scifeed",
			User:     "collector",
			SSLMode:  "prefer",
			MaxConns: 4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func loadFromEnv(config *Config) error {
	if err := loadServerConfig(&config.Server); err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}

	if err := loadHTTPConfig(&config.HTTP); err != nil {
		return fmt.Errorf("failed to load HTTP config: %w", err)
	}

	if err := loadRetryConfig(&config.Retry); err != nil {
		return fmt.Errorf("failed to load retry config: %w", err)
	}

	if err := loadRateLimitConfig(&config.RateLimit); err != nil {
		return fmt.Errorf("failed to load rate limit config: %w", err)
	}

	if err := loadRobotsConfig(&config.Robots); err != nil {
		return fmt.Errorf("failed to load robots config: %w", err)
	}

	if err := loadCanonicalConfig(&config.Canonical); err != nil {
		return fmt.Errorf("failed to load canonical config: %w", err)
	}

	if err := loadDedupConfig(&config.Dedup); err != nil {
		return fmt.Errorf("failed to load dedup config: %w", err)
	}

	if err := loadCollectionConfig(&config.Collection); err != nil {
		return fmt.Errorf("failed to load collection config: %w", err)
	}

	if err := loadDLQConfig(&config.DLQ); err != nil {
		return fmt.Errorf("failed to load DLQ config: %w", err)
	}

	if err := loadDatabaseConfig(&config.Database); err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}

	if err := loadMetricsConfig(&config.Metrics); err != nil {
		return fmt.Errorf("failed to load metrics config: %w", err)
	}

	return nil
}

func loadServerConfig(cfg *ServerConfig) error {
	var err error

	if cfg.Port, err = parseIntEnv("SERVER_PORT", cfg.Port); err != nil {
		return err
	}

	if cfg.ShutdownTimeout, err = parseDurationEnv("SERVER_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return err
	}

	if cfg.ReadTimeout, err = parseDurationEnv("SERVER_READ_TIMEOUT", cfg.ReadTimeout); err != nil {
		return err
	}

	if cfg.WriteTimeout, err = parseDurationEnv("SERVER_WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return err
	}

	return nil
}

func loadHTTPConfig(cfg *HTTPConfig) error {
	var err error

	if cfg.Timeout, err = parseDurationEnv("HTTP_TIMEOUT", cfg.Timeout); err != nil {
		return err
	}

	if cfg.MaxIdleConns, err = parseIntEnv("HTTP_MAX_IDLE_CONNS", cfg.MaxIdleConns); err != nil {
		return err
	}

	if cfg.MaxIdleConnsPerHost, err = parseIntEnv("HTTP_MAX_IDLE_CONNS_PER_HOST", cfg.MaxIdleConnsPerHost); err != nil {
		return err
	}

	if cfg.IdleConnTimeout, err = parseDurationEnv("HTTP_IDLE_CONN_TIMEOUT", cfg.IdleConnTimeout); err != nil {
		return err
	}

	if cfg.TLSHandshakeTimeout, err = parseDurationEnv("HTTP_TLS_HANDSHAKE_TIMEOUT", cfg.TLSHandshakeTimeout); err != nil {
		return err
	}

	if ua := os.Getenv("HTTP_USER_AGENT"); ua != "" {
		cfg.UserAgent = ua
	}

	if cfg.CircuitThreshold, err = parseIntEnv("HTTP_CIRCUIT_THRESHOLD", cfg.CircuitThreshold); err != nil {
		return err
	}

	if cfg.CircuitTimeout, err = parseDurationEnv("HTTP_CIRCUIT_TIMEOUT", cfg.CircuitTimeout); err != nil {
		return err
	}

	return nil
}

func loadRetryConfig(cfg *RetryConfig) error {
	var err error

	if cfg.MaxAttempts, err = parseIntEnv("RETRY_MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return err
	}

	if cfg.BaseDelay, err = parseDurationEnv("RETRY_BASE_DELAY", cfg.BaseDelay); err != nil {
		return err
	}

	if cfg.MaxDelay, err = parseDurationEnv("RETRY_MAX_DELAY", cfg.MaxDelay); err != nil {
		return err
	}

	if cfg.BackoffFactor, err = parseFloatEnv("RETRY_BACKOFF_FACTOR", cfg.BackoffFactor); err != nil {
		return err
	}

	if cfg.JitterFactor, err = parseFloatEnv("RETRY_JITTER_FACTOR", cfg.JitterFactor); err != nil {
		return err
	}

	return nil
}

func loadRateLimitConfig(cfg *RateLimitConfig) error {
	var err error

	if cfg.DefaultDelay, err = parseDurationEnv("RATE_LIMIT_DEFAULT_DELAY", cfg.DefaultDelay); err != nil {
		return err
	}

	if overrides := os.Getenv("RATE_LIMIT_DOMAIN_OVERRIDES"); overrides != "" {
		parsed, parseErr := parseDomainOverrides(overrides)
		if parseErr != nil {
			return parseErr
		}
		cfg.DomainOverrides = parsed
	}

	if cfg.BackoffBase, err = parseDurationEnv("RATE_LIMIT_BACKOFF_BASE", cfg.BackoffBase); err != nil {
		return err
	}

	if cfg.BackoffMax, err = parseDurationEnv("RATE_LIMIT_BACKOFF_MAX", cfg.BackoffMax); err != nil {
		return err
	}

	if cfg.JitterMax, err = parseDurationEnv("RATE_LIMIT_JITTER_MAX", cfg.JitterMax); err != nil {
		return err
	}

	if cfg.FailureThreshold, err = parseIntEnv("RATE_LIMIT_FAILURE_THRESHOLD", cfg.FailureThreshold); err != nil {
		return err
	}

	if cfg.SuppressCooldown, err = parseDurationEnv("RATE_LIMIT_SUPPRESS_COOLDOWN", cfg.SuppressCooldown); err != nil {
		return err
	}

	return nil
}

func loadRobotsConfig(cfg *RobotsConfig) error {
	var err error

	if cfg.Respect, err = parseBoolEnv("ROBOTS_RESPECT", cfg.Respect); err != nil {
		return err
	}

	if cfg.CacheTTL, err = parseDurationEnv("ROBOTS_CACHE_TTL", cfg.CacheTTL); err != nil {
		return err
	}

	return nil
}

func loadCanonicalConfig(cfg *CanonicalConfig) error {
	var err error

	if cfg.CacheSize, err = parseIntEnv("CANONICAL_CACHE_SIZE", cfg.CacheSize); err != nil {
		return err
	}

	return nil
}

func loadDedupConfig(cfg *DedupConfig) error {
	var err error

	if cfg.SimhashThreshold, err = parseIntEnv("DEDUP_SIMHASH_THRESHOLD", cfg.SimhashThreshold); err != nil {
		return err
	}

	if cfg.CandidateWindow, err = parseIntEnv("DEDUP_CANDIDATE_WINDOW", cfg.CandidateWindow); err != nil {
		return err
	}

	if cfg.TitleOverlapFloor, err = parseFloatEnv("DEDUP_TITLE_OVERLAP_FLOOR", cfg.TitleOverlapFloor); err != nil {
		return err
	}

	return nil
}

func loadCollectionConfig(cfg *CollectionConfig) error {
	var err error

	if file := os.Getenv("COLLECTION_SOURCES_FILE"); file != "" {
		cfg.SourcesFile = file
	}

	if cfg.Interval, err = parseDurationEnv("COLLECTION_INTERVAL", cfg.Interval); err != nil {
		return err
	}

	if cfg.MaxConcurrentSources, err = parseIntEnv("COLLECTION_MAX_CONCURRENT_SOURCES", cfg.MaxConcurrentSources); err != nil {
		return err
	}

	if cfg.MaxArticlesPerSource, err = parseIntEnv("COLLECTION_MAX_ARTICLES_PER_SOURCE", cfg.MaxArticlesPerSource); err != nil {
		return err
	}

	if cfg.MinTitleLength, err = parseIntEnv("COLLECTION_MIN_TITLE_LENGTH", cfg.MinTitleLength); err != nil {
		return err
	}

	if cfg.DryRun, err = parseBoolEnv("COLLECTION_DRY_RUN", cfg.DryRun); err != nil {
		return err
	}

	if cfg.RunOnce, err = parseBoolEnv("COLLECTION_RUN_ONCE", cfg.RunOnce); err != nil {
		return err
	}

	return nil
}

func loadDLQConfig(cfg *DLQConfig) error {
	var err error

	if path := os.Getenv("DLQ_BASE_PATH"); path != "" {
		cfg.BasePath = path
	}

	if cfg.Retention, err = parseDurationEnv("DLQ_RETENTION", cfg.Retention); err != nil {
		return err
	}

	if cfg.EnableCleanup, err = parseBoolEnv("DLQ_ENABLE_CLEANUP", cfg.EnableCleanup); err != nil {
		return err
	}

	return nil
}

func loadDatabaseConfig(cfg *DatabaseConfig) error {
	var err error

	if cfg.Enabled, err = parseBoolEnv("DB_ENABLED", cfg.Enabled); err != nil {
		return err
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}

	if cfg.Port, err = parseIntEnv("DB_PORT", cfg.Port); err != nil {
		return err
	}

	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}

	if sslMode := os.Getenv("DB_SSL_MODE"); sslMode != "" {
		cfg.SSLMode = sslMode
	}

	if cfg.MaxConns, err = parseIntEnv("DB_MAX_CONNS", cfg.MaxConns); err != nil {
		return err
	}

	return nil
}

func loadMetricsConfig(cfg *MetricsConfig) error {
	var err error

	if cfg.Enabled, err = parseBoolEnv("METRICS_ENABLED", cfg.Enabled); err != nil {
		return err
	}

	if path := os.Getenv("METRICS_PATH"); path != "" {
		cfg.Path = path
	}

	return nil
}

// parseDomainOverrides parses "domain=duration,domain=duration" pairs.
func parseDomainOverrides(value string) (map[string]time.Duration, error) {
	overrides := make(map[string]time.Duration)

	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, raw, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid RATE_LIMIT_DOMAIN_OVERRIDES entry: %s", pair)
		}

		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_DOMAIN_OVERRIDES duration for %s: %s", key, raw)
		}

		overrides[strings.ToLower(strings.TrimSpace(key))] = d
	}

	return overrides, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", key, value)
		}
		return d, nil
	}
	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", key, value)
		}
		return i, nil
	}
	return defaultValue, nil
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %s", key, value)
		}
		return b, nil
	}
	return defaultValue, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", key, value)
		}
		return f, nil
	}
	return defaultValue, nil
}
