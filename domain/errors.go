// ABOUTME: Domain-level sentinel errors for the collector
// ABOUTME: These errors are used with errors.Is() for error type checking
package domain

import "errors"

// Fetch errors
var (
	// ErrPolicyBlocked indicates robots.txt disallows the target path.
	// Not a failure: the source is skipped this cycle with no backoff penalty.
	ErrPolicyBlocked = errors.New("blocked by robots.txt policy")

	// ErrFeedUnavailable indicates the feed could not be retrieved after
	// exhausting retries.
	ErrFeedUnavailable = errors.New("feed unavailable")

	// ErrFeedMalformed indicates the feed body could not be parsed at all.
	ErrFeedMalformed = errors.New("feed malformed")
)

// Canonicalization errors
var (
	// ErrInvalidURL indicates the raw URL cannot be interpreted; the entry
	// is routed to the dead-letter sink.
	ErrInvalidURL = errors.New("invalid URL")
)

// Validation errors
var (
	// ErrTitleTooShort indicates the entry title is below the minimum length.
	ErrTitleTooShort = errors.New("title too short")

	// ErrMissingURL indicates the entry has no usable link.
	ErrMissingURL = errors.New("entry missing URL")
)

// Configuration errors (fatal at startup)
var (
	// ErrNoSources indicates no sources were configured.
	ErrNoSources = errors.New("no sources configured")
)
