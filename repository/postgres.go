package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"news-collector/config"
	"news-collector/domain"
)

// Querier is the subset of pgxpool.Pool the repositories use. pgxmock
// satisfies it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool opens a pgx connection pool and verifies connectivity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode, cfg.MaxConns)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	url                    TEXT PRIMARY KEY,
	title                  TEXT NOT NULL,
	summary                TEXT NOT NULL DEFAULT '',
	content_hash           TEXT NOT NULL,
	simhash                BIGINT NOT NULL,
	source_id              TEXT NOT NULL,
	published_date         TIMESTAMPTZ NOT NULL,
	collected_date         TIMESTAMPTZ NOT NULL,
	cluster_id             TEXT NOT NULL DEFAULT '',
	duplication_confidence DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_articles_content_hash ON articles (content_hash);
CREATE INDEX IF NOT EXISTS idx_articles_cluster_id ON articles (cluster_id);
CREATE INDEX IF NOT EXISTS idx_articles_source_id ON articles (source_id);

CREATE TABLE IF NOT EXISTS source_state (
	id                       TEXT PRIMARY KEY,
	etag                     TEXT NOT NULL DEFAULT '',
	last_modified            TEXT NOT NULL DEFAULT '',
	consecutive_failures     INTEGER NOT NULL DEFAULT 0,
	suppressed               BOOLEAN NOT NULL DEFAULT FALSE,
	suppressed_until         TIMESTAMPTZ,
	last_checked             TIMESTAMPTZ,
	last_successful_check    TIMESTAMPTZ,
	last_article_found       TIMESTAMPTZ,
	total_articles_collected INTEGER NOT NULL DEFAULT 0,
	last_error               TEXT NOT NULL DEFAULT ''
);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db Querier) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PostgresArticleRepository stores articles in Postgres.
type PostgresArticleRepository struct {
	db     Querier
	logger *slog.Logger
}

func NewPostgresArticleRepository(db Querier, logger *slog.Logger) *PostgresArticleRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresArticleRepository{db: db, logger: logger}
}

// Save inserts the article, ignoring conflicts on the canonical URL. Returns
// true when a row was actually written.
func (r *PostgresArticleRepository) Save(ctx context.Context, article *domain.CanonicalArticle) (bool, error) {
	if r.db == nil {
		return false, errors.New("save article: database connection is nil")
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO articles (
			url, title, summary, content_hash, simhash, source_id,
			published_date, collected_date, cluster_id, duplication_confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (url) DO NOTHING`,
		article.CanonicalURL,
		article.Title,
		article.Summary,
		article.ContentHash,
		int64(article.Simhash),
		article.SourceID,
		article.Published,
		article.Fetched,
		article.ClusterID,
		article.Confidence,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to save article", "url", article.CanonicalURL, "error", err)
		return false, fmt.Errorf("save article: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresArticleRepository) Exists(ctx context.Context, canonicalURL string) (bool, error) {
	if r.db == nil {
		return false, errors.New("check article existence: database connection is nil")
	}

	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM articles WHERE url = $1)`, canonicalURL,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check article existence: %w", err)
	}
	return exists, nil
}

func (r *PostgresArticleRepository) Count(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, errors.New("count articles: database connection is nil")
	}

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return count, nil
}

// PostgresSourceStateRepository stores per-source fetch state in Postgres.
type PostgresSourceStateRepository struct {
	db     Querier
	logger *slog.Logger
}

func NewPostgresSourceStateRepository(db Querier, logger *slog.Logger) *PostgresSourceStateRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSourceStateRepository{db: db, logger: logger}
}

// Load returns the persisted state for a source, or nil when the source has
// never been saved.
func (r *PostgresSourceStateRepository) Load(ctx context.Context, sourceID string) (*domain.Source, error) {
	if r.db == nil {
		return nil, errors.New("load source state: database connection is nil")
	}

	var (
		source              = domain.Source{ID: sourceID}
		suppressedUntil     *time.Time
		lastChecked         *time.Time
		lastSuccessfulCheck *time.Time
		lastArticleFound    *time.Time
	)

	err := r.db.QueryRow(ctx, `
		SELECT etag, last_modified, consecutive_failures, suppressed,
			suppressed_until, last_checked, last_successful_check,
			last_article_found, total_articles_collected, last_error
		FROM source_state WHERE id = $1`, sourceID,
	).Scan(
		&source.ETag,
		&source.LastModified,
		&source.ConsecutiveFailures,
		&source.Suppressed,
		&suppressedUntil,
		&lastChecked,
		&lastSuccessfulCheck,
		&lastArticleFound,
		&source.TotalArticlesCollected,
		&source.LastError,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load source state: %w", err)
	}

	if suppressedUntil != nil {
		source.SuppressedUntil = *suppressedUntil
	}
	if lastChecked != nil {
		source.LastChecked = *lastChecked
	}
	if lastSuccessfulCheck != nil {
		source.LastSuccessfulCheck = *lastSuccessfulCheck
	}
	if lastArticleFound != nil {
		source.LastArticleFound = *lastArticleFound
	}
	return &source, nil
}

// Save upserts the source's fetch state.
func (r *PostgresSourceStateRepository) Save(ctx context.Context, source *domain.Source) error {
	if r.db == nil {
		return errors.New("save source state: database connection is nil")
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO source_state (
			id, etag, last_modified, consecutive_failures, suppressed,
			suppressed_until, last_checked, last_successful_check,
			last_article_found, total_articles_collected, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified,
			consecutive_failures = EXCLUDED.consecutive_failures,
			suppressed = EXCLUDED.suppressed,
			suppressed_until = EXCLUDED.suppressed_until,
			last_checked = EXCLUDED.last_checked,
			last_successful_check = EXCLUDED.last_successful_check,
			last_article_found = EXCLUDED.last_article_found,
			total_articles_collected = EXCLUDED.total_articles_collected,
			last_error = EXCLUDED.last_error`,
		source.ID,
		source.ETag,
		source.LastModified,
		source.ConsecutiveFailures,
		source.Suppressed,
		nullTime(source.SuppressedUntil),
		nullTime(source.LastChecked),
		nullTime(source.LastSuccessfulCheck),
		nullTime(source.LastArticleFound),
		source.TotalArticlesCollected,
		source.LastError,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to save source state", "source_id", source.ID, "error", err)
		return fmt.Errorf("save source state: %w", err)
	}
	return nil
}

// nullTime maps a zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
