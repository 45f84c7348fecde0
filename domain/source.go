package domain

import (
	"net/url"
	"strings"
	"time"
)

// Source represents a configured feed origin. The orchestrator is the sole
// writer of Source mutations during a cycle.
type Source struct {
	ID              string        `db:"id" yaml:"id"`
	Name            string        `db:"name" yaml:"name"`
	FeedURL         string        `db:"feed_url" yaml:"url"`
	Category        string        `db:"category" yaml:"category"`
	MinDelaySeconds float64 `db:"min_delay_seconds" yaml:"min_delay_seconds"`
	Active          bool    `db:"active" yaml:"active"`
	MaxArticles     int     `db:"-" yaml:"max_articles"`

	// Incremental-fetch state persisted across runs.
	ETag         string `db:"etag"`
	LastModified string `db:"last_modified"`

	// Health bookkeeping.
	ConsecutiveFailures    int       `db:"consecutive_failures"`
	Suppressed             bool      `db:"suppressed"`
	SuppressedUntil        time.Time `db:"suppressed_until"`
	LastChecked            time.Time `db:"last_checked"`
	LastSuccessfulCheck    time.Time `db:"last_successful_check"`
	LastArticleFound       time.Time `db:"last_article_found"`
	TotalArticlesCollected int       `db:"total_articles_collected"`
	LastError              string    `db:"last_error"`
}

// Domain returns the lowercased hostname of the feed URL, or "unknown" when
// the URL cannot be parsed.
func (s *Source) Domain() string {
	parsed, err := url.Parse(s.FeedURL)
	if err != nil {
		return "unknown"
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "unknown"
	}
	return host
}

// SuppressedAt reports whether the source is suppressed as of now.
func (s *Source) SuppressedAt(now time.Time) bool {
	if !s.Suppressed {
		return false
	}
	if !s.SuppressedUntil.IsZero() && now.After(s.SuppressedUntil) {
		return false
	}
	return true
}

// SourceState is the per-source, per-cycle state machine.
type SourceState string

const (
	StatePending       SourceState = "PENDING"
	StateFetching      SourceState = "FETCHING"
	StateNotModified   SourceState = "NOT_MODIFIED"
	StateFetched       SourceState = "FETCHED"
	StatePolicyBlocked SourceState = "POLICY_BLOCKED"
	StateFailed        SourceState = "FAILED"
	StateParsing       SourceState = "PARSING"
	StateDeduping      SourceState = "DEDUPING"
	StateDone          SourceState = "DONE"
)

// FetchStatus classifies the outcome of one fetch attempt.
type FetchStatus int

const (
	// FetchFresh means a 200 response with a body to parse.
	FetchFresh FetchStatus = iota
	// FetchNotModified means a 304 response; zero entries, still a success.
	FetchNotModified
	// FetchPolicyBlocked means robots.txt disallowed the path; not a failure.
	FetchPolicyBlocked
	// FetchFailed means the request failed after exhausting retries.
	FetchFailed
)

func (s FetchStatus) String() string {
	switch s {
	case FetchFresh:
		return "fresh"
	case FetchNotModified:
		return "not_modified"
	case FetchPolicyBlocked:
		return "policy_blocked"
	case FetchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FetchOutcome is the per-source, per-cycle fetch result. It drives Source
// mutation and metrics and is not persisted beyond the cycle.
type FetchOutcome struct {
	Status         FetchStatus
	Entries        []RawEntry
	Bytes          int64
	Latency        time.Duration
	ETag           string
	LastModified   string
	SkippedEntries int
	Err            error
}
