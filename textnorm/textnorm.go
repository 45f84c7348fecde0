// Package textnorm normalizes article text ahead of hashing and fingerprinting.
// Normalization is deterministic: the same input always yields the same output,
// with markup stripped and whitespace collapsed but letter case preserved.
package textnorm

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*read more\s*$`),
	regexp.MustCompile(`(?i)^\s*continue reading\s*$`),
	regexp.MustCompile(`(?i)^\s*the post .* appeared first on .*`),
}

// NormalizeText unescapes HTML entities, strips control characters and
// collapses all whitespace runs into single spaces.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.Join(strings.Fields(text), " ")
}

// CleanHTML strips markup from an HTML fragment and returns normalized text.
// Boilerplate-only fragments ("read more" links and similar) reduce to "".
func CleanHTML(fragment string) string {
	if fragment == "" {
		return ""
	}
	// StrictPolicy drops every element and attribute, leaving text content.
	stripped := stripPolicy.Sanitize(fragment)
	normalized := NormalizeText(stripped)
	if isBoilerplate(normalized) {
		return ""
	}
	return normalized
}

// NormalizeArticleText returns the normalized title, the cleaned summary, and
// the combined dedupe basis text.
func NormalizeArticleText(title, summary string) (string, string, string) {
	normalizedTitle := NormalizeText(title)
	normalizedSummary := CleanHTML(summary)
	combined := strings.TrimSpace(normalizedTitle + " " + normalizedSummary)
	return normalizedTitle, normalizedSummary, combined
}

func isBoilerplate(text string) bool {
	for _, pattern := range boilerplatePatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}
