package domain

import (
	"time"
)

// RawEntry is one feed item as parsed, before canonicalization. Ephemeral:
// produced by the feed parser and consumed immediately by the pipeline.
type RawEntry struct {
	URL            string
	Title          string
	Summary        string
	Authors        []string
	Published      time.Time
	DateConfidence DateConfidence
	SourceID       string
}

// DateConfidence marks how trustworthy a published timestamp is.
type DateConfidence string

const (
	// DateParsed means the timestamp came from the feed itself.
	DateParsed DateConfidence = "parsed"
	// DateDefaulted means the timestamp was defaulted to fetch time.
	DateDefaulted DateConfidence = "defaulted"
)

// CanonicalArticle is the post-canonicalization, pre-dedupe representation.
type CanonicalArticle struct {
	CanonicalURL   string         `db:"url"`
	OriginalURL    string         `db:"-"`
	Title          string         `db:"title"`
	Summary        string         `db:"summary"`
	NormalizedText string         `db:"-"`
	ContentHash    string         `db:"content_hash"`
	Simhash        uint64         `db:"simhash"`
	SourceID       string         `db:"source_id"`
	Published      time.Time      `db:"published_date"`
	DateConfidence DateConfidence `db:"-"`
	Fetched        time.Time      `db:"collected_date"`

	// Set by the dedup engine. ClusterID is empty for unclustered articles.
	ClusterID  string  `db:"cluster_id"`
	Confidence float64 `db:"duplication_confidence"`
	Duplicate  bool    `db:"-"`
}

// DedupCluster groups articles considered the same story. Member order is
// discovery order. Clusters are only ever grown, never deleted.
type DedupCluster struct {
	ID          string
	Members     []string
	Centroid    uint64
	Title       string
	ContentHash string
	CreatedSeq  int
	Created     time.Time
	LastTouched time.Time
}

// SourceResult summarizes one source's turn within a cycle.
type SourceResult struct {
	SourceID      string        `json:"source_id"`
	State         SourceState   `json:"state"`
	Status        FetchStatus   `json:"status"`
	ArticlesFound int           `json:"articles_found"`
	ArticlesSaved int           `json:"articles_saved"`
	Duplicates    int           `json:"duplicates"`
	Failed        int           `json:"failed"`
	Bytes         int64         `json:"bytes"`
	Latency       time.Duration `json:"latency"`
	Err           string        `json:"error,omitempty"`
}

// CycleReport aggregates one full collection cycle.
type CycleReport struct {
	StartedAt         time.Time               `json:"started_at"`
	Duration          time.Duration           `json:"duration"`
	SourcesProcessed  int                     `json:"sources_processed"`
	SourcesSucceeded  int                     `json:"sources_succeeded"`
	SourcesFailed     int                     `json:"sources_failed"`
	SourcesSuppressed int                     `json:"sources_suppressed"`
	SourcesBlocked    int                     `json:"sources_blocked"`
	ArticlesFound     int                     `json:"articles_found"`
	ArticlesSaved     int                     `json:"articles_saved"`
	ArticlesFailed    int                     `json:"articles_failed"`
	Duplicates        int                     `json:"duplicates"`
	DeadLettered      int                     `json:"dead_lettered"`
	Results           map[string]SourceResult `json:"results"`
	DryRun            bool                    `json:"dry_run"`
}
