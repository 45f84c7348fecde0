package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"news-collector/domain"
)

// HTTPError carries the status code of a non-success response so callers can
// distinguish transient from permanent failures.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.StatusCode, e.URL)
}

// IsRetryable classifies an error as transient (retry with backoff) or
// permanent (give up immediately).
//
// Transient: HTTP 429, HTTP 5xx, timeouts, connection-level failures.
// Permanent: other HTTP 4xx, policy blocks, malformed feeds, invalid URLs,
// an open circuit breaker and context cancellation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, domain.ErrPolicyBlocked) ||
		errors.Is(err, domain.ErrFeedMalformed) ||
		errors.Is(err, domain.ErrInvalidURL) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 || httpErr.StatusCode >= 500 {
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Remaining transport-level failures (DNS, refused connections, resets)
	// surface as *url.Error and are worth another attempt.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
