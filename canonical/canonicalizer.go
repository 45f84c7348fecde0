// Package canonical maps surface-form URLs to one deterministic canonical
// string so duplicate articles shared through trackers, AMP mirrors or mobile
// hosts collapse into a single identity.
package canonical

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"news-collector/domain"
)

var trackingParamPrefixes = []string{
	"utm_",
	"icid",
}

var trackingParams = map[string]struct{}{
	"fbclid":   {},
	"gclid":    {},
	"yclid":    {},
	"mc_cid":   {},
	"mc_eid":   {},
	"mkt_tok":  {},
	"amp":      {},
	"amp_js_v": {},
	"amp_gsa":  {},
	"sscid":    {},
	"igshid":   {},
	"spm":      {},
	"ref":      {},
}

// Ordered longest-first so "mobile." never matches as "m.".
var mobileHostPrefixes = []string{
	"mobile.",
	"www.",
	"amp.",
	"m.",
}

var ampPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/amp/?$`),
	regexp.MustCompile(`(?i)\.amp$`),
}

// Canonicalizer applies the canonicalization rule set, memoized in an LRU
// cache. Capacity 0 disables caching. Safe for concurrent use.
type Canonicalizer struct {
	cache *lruCache
}

// New creates a Canonicalizer with the given cache capacity.
func New(cacheSize int) *Canonicalizer {
	var cache *lruCache
	if cacheSize > 0 {
		cache = newLRUCache(cacheSize)
	}
	return &Canonicalizer{cache: cache}
}

// Canonicalize returns the canonical form of rawURL. The function is a pure
// function of its input: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func (c *Canonicalizer) Canonicalize(rawURL string) (string, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(rawURL); ok {
			return cached, nil
		}
	}

	canonical, err := canonicalize(rawURL)
	if err != nil {
		return "", err
	}

	if c.cache != nil {
		c.cache.Put(rawURL, canonical)
	}
	return canonical, nil
}

// CacheInfo returns hit/miss counters for the memoization cache.
func (c *Canonicalizer) CacheInfo() CacheInfo {
	if c.cache == nil {
		return CacheInfo{}
	}
	return c.cache.Info()
}

func canonicalize(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty URL", domain.ErrInvalidURL)
	}

	// Scheme-less URLs like "example.com/foo" parse with an empty host;
	// prepend a scheme so the host lands in the right place.
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidURL, rawURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "http", "https", "":
		// http is upgraded below; everything else is rejected.
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidURL, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host in %s", domain.ErrInvalidURL, rawURL)
	}

	// Default ports are dropped; any explicit non-default port is preserved.
	port := parsed.Port()
	if port != "" && port != "80" && port != "443" {
		host = host + ":" + port
	}

	host = cleanHost(host)

	canonicalPath := normalizePath(parsed.EscapedPath())
	for _, pattern := range ampPathPatterns {
		canonicalPath = pattern.ReplaceAllString(canonicalPath, "/")
	}
	if canonicalPath == "" {
		canonicalPath = "/"
	}
	if canonicalPath != "/" {
		canonicalPath = strings.TrimSuffix(canonicalPath, "/")
	}

	query := filterQuery(parsed.Query())

	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(host)
	b.WriteString(canonicalPath)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String(), nil
}

func cleanHost(host string) string {
	// Prefixes stack ("m.www.example.com"), so keep stripping until none match.
	for {
		stripped := false
		for _, prefix := range mobileHostPrefixes {
			if strings.HasPrefix(host, prefix) && len(host) > len(prefix) {
				host = host[len(prefix):]
				stripped = true
				break
			}
		}
		if !stripped {
			return host
		}
	}
}

func normalizePath(escaped string) string {
	if escaped == "" {
		return "/"
	}

	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		decoded = escaped
	}

	// Collapse duplicate slashes before cleaning dot segments.
	for strings.Contains(decoded, "//") {
		decoded = strings.ReplaceAll(decoded, "//", "/")
	}

	hadTrailing := strings.HasSuffix(decoded, "/")
	cleaned := path.Clean(decoded)
	if cleaned == "." {
		cleaned = "/"
	}
	if hadTrailing && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}

	// Re-encode segment by segment so reserved characters stay escaped.
	segments := strings.Split(cleaned, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func filterQuery(values url.Values) string {
	type pair struct {
		key   string
		value string
	}

	var pairs []pair
	seen := make(map[pair]struct{})

	for key, vs := range values {
		keyLower := strings.ToLower(key)
		if keyLower == "" {
			continue
		}
		if hasTrackingPrefix(keyLower) {
			continue
		}
		if _, tracked := trackingParams[keyLower]; tracked {
			continue
		}
		for _, value := range vs {
			if value == "" {
				continue
			}
			p := pair{key: keyLower, value: value}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			pairs = append(pairs, p)
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.key+"="+url.QueryEscape(p.value))
	}
	return strings.Join(parts, "&")
}

func hasTrackingPrefix(key string) bool {
	for _, prefix := range trackingParamPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
