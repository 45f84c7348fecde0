// Package repository persists collected articles and per-source fetch state.
// A Postgres implementation backs normal operation; an in-memory one serves
// dry runs and tests.
package repository

import (
	"context"

	"news-collector/domain"
)

// ArticleRepository stores canonical articles. Saving is idempotent on the
// canonical URL: a second save of the same URL is a no-op.
type ArticleRepository interface {
	Save(ctx context.Context, article *domain.CanonicalArticle) (bool, error)
	Exists(ctx context.Context, canonicalURL string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// SourceStateRepository persists per-source incremental-fetch validators and
// health counters across runs.
type SourceStateRepository interface {
	Load(ctx context.Context, sourceID string) (*domain.Source, error)
	Save(ctx context.Context, source *domain.Source) error
}
