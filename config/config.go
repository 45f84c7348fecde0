// ABOUTME: This file implements configuration management with environment variable support
// ABOUTME: Provides validation, defaults, and typed sections for the collection pipeline
package config

import (
	"time"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	HTTP       HTTPConfig       `json:"http"`
	Retry      RetryConfig      `json:"retry"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Robots     RobotsConfig     `json:"robots"`
	Canonical  CanonicalConfig  `json:"canonical"`
	Dedup      DedupConfig      `json:"dedup"`
	Collection CollectionConfig `json:"collection"`
	DLQ        DLQConfig        `json:"dlq"`
	Database   DatabaseConfig   `json:"database"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type ServerConfig struct {
	Port            int           `json:"port" env:"SERVER_PORT" default:"9300"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"SERVER_WRITE_TIMEOUT" default:"30s"`
}

type HTTPConfig struct {
	Timeout             time.Duration `json:"timeout" env:"HTTP_TIMEOUT" default:"30s"`
	MaxIdleConns        int           `json:"max_idle_conns" env:"HTTP_MAX_IDLE_CONNS" default:"10"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host" env:"HTTP_MAX_IDLE_CONNS_PER_HOST" default:"2"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout" env:"HTTP_IDLE_CONN_TIMEOUT" default:"90s"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout" env:"HTTP_TLS_HANDSHAKE_TIMEOUT" default:"10s"`
	UserAgent           string        `json:"user_agent" env:"HTTP_USER_AGENT" default:"SciFeedBot/1.0 (+https://scifeed.example.com/bot)"`
	// Circuit breaker guarding repeatedly failing hosts.
	CircuitThreshold int           `json:"circuit_threshold" env:"HTTP_CIRCUIT_THRESHOLD" default:"5"`
	CircuitTimeout   time.Duration `json:"circuit_timeout" env:"HTTP_CIRCUIT_TIMEOUT" default:"60s"`
}

type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" env:"RETRY_MAX_ATTEMPTS" default:"3"`
	BaseDelay     time.Duration `json:"base_delay" env:"RETRY_BASE_DELAY" default:"500ms"`
	MaxDelay      time.Duration `json:"max_delay" env:"RETRY_MAX_DELAY" default:"10s"`
	BackoffFactor float64       `json:"backoff_factor" env:"RETRY_BACKOFF_FACTOR" default:"2.0"`
	JitterFactor  float64       `json:"jitter_factor" env:"RETRY_JITTER_FACTOR" default:"0.1"`
}

type RateLimitConfig struct {
	// DefaultDelay is the base delay enforced between requests to one domain.
	DefaultDelay time.Duration `json:"default_delay" env:"RATE_LIMIT_DEFAULT_DELAY" default:"1s"`
	// DomainOverrides raises the floor for specific domains (seconds).
	DomainOverrides map[string]time.Duration `json:"domain_overrides" env:"RATE_LIMIT_DOMAIN_OVERRIDES"`
	BackoffBase     time.Duration            `json:"backoff_base" env:"RATE_LIMIT_BACKOFF_BASE" default:"500ms"`
	BackoffMax      time.Duration            `json:"backoff_max" env:"RATE_LIMIT_BACKOFF_MAX" default:"10s"`
	JitterMax       time.Duration            `json:"jitter_max" env:"RATE_LIMIT_JITTER_MAX" default:"300ms"`
	// FailureThreshold is the consecutive-failure count that suppresses a source.
	FailureThreshold int           `json:"failure_threshold" env:"RATE_LIMIT_FAILURE_THRESHOLD" default:"3"`
	SuppressCooldown time.Duration `json:"suppress_cooldown" env:"RATE_LIMIT_SUPPRESS_COOLDOWN" default:"6h"`
}

type RobotsConfig struct {
	Respect  bool          `json:"respect" env:"ROBOTS_RESPECT" default:"true"`
	CacheTTL time.Duration `json:"cache_ttl" env:"ROBOTS_CACHE_TTL" default:"1h"`
}

type CanonicalConfig struct {
	// CacheSize is the LRU capacity for memoized canonicalization; 0 disables.
	CacheSize int `json:"cache_size" env:"CANONICAL_CACHE_SIZE" default:"2048"`
}

type DedupConfig struct {
	// SimhashThreshold is the maximum Hamming distance treated as a duplicate
	// (inclusive).
	SimhashThreshold int `json:"simhash_threshold" env:"DEDUP_SIMHASH_THRESHOLD" default:"10"`
	// CandidateWindow bounds how many recent clusters are compared per article.
	CandidateWindow int `json:"candidate_window" env:"DEDUP_CANDIDATE_WINDOW" default:"500"`
	// TitleOverlapFloor flags merges whose title token overlap falls below it.
	TitleOverlapFloor float64 `json:"title_overlap_floor" env:"DEDUP_TITLE_OVERLAP_FLOOR" default:"0.1"`
}

type CollectionConfig struct {
	SourcesFile          string        `json:"sources_file" env:"COLLECTION_SOURCES_FILE" default:"sources.yaml"`
	Interval             time.Duration `json:"interval" env:"COLLECTION_INTERVAL" default:"30m"`
	MaxConcurrentSources int           `json:"max_concurrent_sources" env:"COLLECTION_MAX_CONCURRENT_SOURCES" default:"8"`
	MaxArticlesPerSource int           `json:"max_articles_per_source" env:"COLLECTION_MAX_ARTICLES_PER_SOURCE" default:"50"`
	MinTitleLength       int           `json:"min_title_length" env:"COLLECTION_MIN_TITLE_LENGTH" default:"10"`
	DryRun               bool          `json:"dry_run" env:"COLLECTION_DRY_RUN" default:"false"`
	// RunOnce runs a single cycle and exits instead of starting the scheduler.
	RunOnce bool `json:"run_once" env:"COLLECTION_RUN_ONCE" default:"false"`
}

type DLQConfig struct {
	BasePath      string        `json:"base_path" env:"DLQ_BASE_PATH" default:"data/dlq"`
	Retention     time.Duration `json:"retention" env:"DLQ_RETENTION" default:"720h"`
	EnableCleanup bool          `json:"enable_cleanup" env:"DLQ_ENABLE_CLEANUP" default:"true"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled" env:"DB_ENABLED" default:"false"`
	Host     string `json:"host" env:"DB_HOST" default:"localhost"`
	Port     int    `json:"port" env:"DB_PORT" default:"5432"`
	Name     string `json:"name" env:"DB_NAME" default:"scifeed"`
	User     string `json:"user" env:"DB_USER" default:"collector"`
	Password string `json:"password" env:"DB_PASSWORD"`
	SSLMode  string `json:"ssl_mode" env:"DB_SSL_MODE" default:"prefer"`
	MaxConns int    `json:"max_conns" env:"DB_MAX_CONNS" default:"4"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"METRICS_ENABLED" default:"true"`
	Path    string `json:"path" env:"METRICS_PATH" default:"/metrics"`
}
