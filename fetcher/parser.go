package fetcher

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"

	"news-collector/domain"
)

// parseFeed turns a fetched feed body into raw entries. Individual bad items
// are skipped and counted rather than failing the whole feed; a body that is
// not a feed at all returns ErrFeedMalformed.
func parseFeed(body []byte, source *domain.Source, fetchedAt time.Time, maxArticles int, logger *slog.Logger) ([]domain.RawEntry, int, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrFeedMalformed, err)
	}

	if source.MaxArticles > 0 && source.MaxArticles < maxArticles {
		maxArticles = source.MaxArticles
	}

	entries := make([]domain.RawEntry, 0, len(feed.Items))
	skipped := 0

	for _, item := range feed.Items {
		if maxArticles > 0 && len(entries) >= maxArticles {
			break
		}

		link := strings.TrimSpace(item.Link)
		if link == "" {
			skipped++
			logger.Debug("feed item skipped",
				"source_id", source.ID,
				"reason", "missing link",
				"title", item.Title)
			continue
		}

		published, confidence := entryTimestamp(item, fetchedAt)

		entries = append(entries, domain.RawEntry{
			URL:            link,
			Title:          strings.TrimSpace(item.Title),
			Summary:        pickSummary(item),
			Authors:        entryAuthors(item),
			Published:      published,
			DateConfidence: confidence,
			SourceID:       source.ID,
		})
	}

	return entries, skipped, nil
}

// entryTimestamp resolves an item's published time. Preference order: the
// parsed published date, the parsed updated date, a lenient re-parse of the
// raw date string, and finally the fetch time marked as defaulted. Timestamps
// from the future are distrusted and defaulted too.
func entryTimestamp(item *gofeed.Item, fetchedAt time.Time) (time.Time, domain.DateConfidence) {
	var ts time.Time

	switch {
	case item.PublishedParsed != nil:
		ts = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		ts = *item.UpdatedParsed
	case item.Published != "":
		parsed, err := dateparse.ParseAny(item.Published)
		if err != nil {
			return fetchedAt, domain.DateDefaulted
		}
		ts = parsed
	default:
		return fetchedAt, domain.DateDefaulted
	}

	ts = ts.UTC()
	if ts.After(fetchedAt.Add(24 * time.Hour)) {
		return fetchedAt, domain.DateDefaulted
	}
	return ts, domain.DateParsed
}

func pickSummary(item *gofeed.Item) string {
	if item.Description != "" {
		return item.Description
	}
	return item.Content
}

func entryAuthors(item *gofeed.Item) []string {
	if len(item.Authors) == 0 {
		return nil
	}

	names := make([]string, 0, len(item.Authors))
	for _, author := range item.Authors {
		if author == nil || author.Name == "" {
			continue
		}
		names = append(names, author.Name)
	}
	if len(names) == 0 {
		return nil
	}
	return names
}
