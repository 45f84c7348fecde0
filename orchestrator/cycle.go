// ABOUTME: This file implements the collection cycle orchestrator driving fetch, parse, canonicalize and dedupe
// ABOUTME: Fetches run concurrently per source while dedupe stays sequential in canonical order for reproducibility
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"news-collector/canonical"
	"news-collector/config"
	"news-collector/dedup"
	"news-collector/dlq"
	"news-collector/domain"
	"news-collector/fetcher"
	"news-collector/metrics"
	"news-collector/repository"
	"news-collector/textnorm"
)

// FeedFetcher is the fetch dependency of the orchestrator.
type FeedFetcher interface {
	Fetch(ctx context.Context, source *domain.Source) domain.FetchOutcome
}

// DeadLetters is the dead letter sink dependency.
type DeadLetters interface {
	Publish(ctx context.Context, record dlq.Record) error
}

// Orchestrator runs collection cycles: every active source is fetched,
// parsed, canonicalized and deduped, and per-source state is persisted for
// the next run. The dedup engine lives across cycles so clusters accumulate
// for the process lifetime.
type Orchestrator struct {
	cfg           *config.Config
	logger        *slog.Logger
	fetcher       FeedFetcher
	canonicalizer *canonical.Canonicalizer
	engine        *dedup.Engine
	articles      repository.ArticleRepository
	states        repository.SourceStateRepository
	queue         DeadLetters
	collector     *metrics.Collector

	mu         sync.Mutex
	running    bool
	lastReport *domain.CycleReport
}

// New creates a cycle orchestrator.
func New(
	cfg *config.Config,
	feedFetcher FeedFetcher,
	canonicalizer *canonical.Canonicalizer,
	engine *dedup.Engine,
	articles repository.ArticleRepository,
	states repository.SourceStateRepository,
	queue DeadLetters,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:           cfg,
		logger:        logger,
		fetcher:       feedFetcher,
		canonicalizer: canonicalizer,
		engine:        engine,
		articles:      articles,
		states:        states,
		queue:         queue,
		collector:     collector,
	}
}

// ErrCycleRunning is returned when a cycle is requested while one is active.
var ErrCycleRunning = errors.New("collection cycle already running")

// LastReport returns the report of the most recently completed cycle, or nil.
func (o *Orchestrator) LastReport() *domain.CycleReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lastReport == nil {
		return nil
	}
	copied := *o.lastReport
	return &copied
}

// RunCycle processes all sources once. Fetches run with bounded concurrency;
// entry processing and dedupe run sequentially over sources sorted by id, so
// two runs over identical inputs produce identical cluster groupings.
func (o *Orchestrator) RunCycle(ctx context.Context, sources []domain.Source) (*domain.CycleReport, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrCycleRunning
	}
	o.running = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	started := time.Now().UTC()
	report := &domain.CycleReport{
		StartedAt: started,
		Results:   make(map[string]domain.SourceResult),
		DryRun:    o.cfg.Collection.DryRun,
	}

	if len(sources) == 0 {
		report.Duration = time.Since(started)
		return report, domain.ErrNoSources
	}

	runnable := o.prepare(ctx, sources, report, started)

	o.logger.Info("collection cycle started",
		"sources", len(sources),
		"runnable", len(runnable),
		"suppressed", report.SourcesSuppressed,
		"dry_run", report.DryRun)

	outcomes := fanOut(ctx, o.cfg.Collection.MaxConcurrentSources, runnable,
		func(ctx context.Context, source *domain.Source) (domain.FetchOutcome, error) {
			return o.fetcher.Fetch(ctx, source), nil
		})

	// Post-fetch work is single-threaded in source-id order: dedupe results
	// depend on processing order.
	for i, source := range runnable {
		outcome := outcomes[i].Value
		if outcomes[i].Err != nil {
			outcome = domain.FetchOutcome{
				Status: domain.FetchFailed,
				Err:    outcomes[i].Err,
			}
		}
		result := o.processSource(ctx, source, outcome, started, report)
		report.Results[source.ID] = result

		report.ArticlesFound += result.ArticlesFound
		report.ArticlesSaved += result.ArticlesSaved
		report.ArticlesFailed += result.Failed
		report.Duplicates += result.Duplicates

		switch result.Status {
		case domain.FetchFresh, domain.FetchNotModified:
			report.SourcesSucceeded++
		case domain.FetchPolicyBlocked:
			report.SourcesBlocked++
		case domain.FetchFailed:
			report.SourcesFailed++
		}

		if !report.DryRun {
			if err := o.states.Save(ctx, source); err != nil {
				o.logger.Error("failed to persist source state",
					"source_id", source.ID, "error", err)
			}
		}
	}

	report.SourcesProcessed = len(runnable)
	report.Duration = time.Since(started)

	o.collector.RecordCycle(report)

	o.mu.Lock()
	o.lastReport = report
	o.mu.Unlock()

	o.logger.Info("collection cycle finished",
		"duration_ms", report.Duration.Milliseconds(),
		"succeeded", report.SourcesSucceeded,
		"failed", report.SourcesFailed,
		"blocked", report.SourcesBlocked,
		"articles_found", report.ArticlesFound,
		"articles_saved", report.ArticlesSaved,
		"articles_failed", report.ArticlesFailed,
		"duplicates", report.Duplicates,
		"dead_lettered", report.DeadLettered)

	return report, nil
}

// prepare merges persisted state into the configured sources, drops inactive
// and suppressed ones, and fixes the processing order.
func (o *Orchestrator) prepare(ctx context.Context, sources []domain.Source, report *domain.CycleReport, now time.Time) []*domain.Source {
	runnable := make([]*domain.Source, 0, len(sources))

	for i := range sources {
		source := sources[i]
		if !source.Active {
			continue
		}

		if state, err := o.states.Load(ctx, source.ID); err != nil {
			o.logger.Error("failed to load source state", "source_id", source.ID, "error", err)
		} else if state != nil {
			source.ETag = state.ETag
			source.LastModified = state.LastModified
			source.ConsecutiveFailures = state.ConsecutiveFailures
			source.Suppressed = state.Suppressed
			source.SuppressedUntil = state.SuppressedUntil
			source.LastChecked = state.LastChecked
			source.LastSuccessfulCheck = state.LastSuccessfulCheck
			source.LastArticleFound = state.LastArticleFound
			source.TotalArticlesCollected = state.TotalArticlesCollected
			source.LastError = state.LastError
		}

		if source.SuppressedAt(now) {
			report.SourcesSuppressed++
			report.Results[source.ID] = domain.SourceResult{
				SourceID: source.ID,
				State:    domain.StatePending,
				Err:      "suppressed until " + source.SuppressedUntil.Format(time.RFC3339),
			}
			o.logger.Warn("source suppressed, skipping",
				"source_id", source.ID,
				"until", source.SuppressedUntil)
			continue
		}
		if source.Suppressed {
			// Cooldown expired: give the source another chance.
			source.Suppressed = false
			source.SuppressedUntil = time.Time{}
			source.ConsecutiveFailures = 0
		}

		runnable = append(runnable, &source)
	}

	sort.Slice(runnable, func(i, j int) bool {
		return runnable[i].ID < runnable[j].ID
	})
	return runnable
}

// processSource applies one fetch outcome: entries flow through
// normalization, canonicalization and dedupe; the source's validators and
// health counters are updated in place.
func (o *Orchestrator) processSource(ctx context.Context, source *domain.Source, outcome domain.FetchOutcome, fetchedAt time.Time, report *domain.CycleReport) domain.SourceResult {
	result := domain.SourceResult{
		SourceID:      source.ID,
		Status:        outcome.Status,
		ArticlesFound: len(outcome.Entries),
		Bytes:         outcome.Bytes,
		Latency:       outcome.Latency,
	}

	o.collector.RecordFetch(source.Domain(), outcome.Latency, outcome.Status)
	source.LastChecked = fetchedAt

	switch outcome.Status {
	case domain.FetchPolicyBlocked:
		result.State = domain.StatePolicyBlocked
		message := domain.ErrPolicyBlocked.Error()
		if outcome.Err != nil {
			message = outcome.Err.Error()
		}
		result.Err = message
		// Robots denial is not a host failure; no suppression pressure.
		source.LastError = message
		o.deadLetter(ctx, dlq.Record{
			SourceID:  source.ID,
			Stage:     dlq.StageFetch,
			ErrorKind: "robots_disallowed",
			Error:     message,
			Payload:   map[string]string{"feed_url": source.FeedURL},
		}, report)
		return result

	case domain.FetchFailed:
		result.State = domain.StateFailed
		if outcome.Err != nil {
			result.Err = outcome.Err.Error()
			source.LastError = outcome.Err.Error()
		}
		source.ConsecutiveFailures++
		if source.ConsecutiveFailures >= o.cfg.RateLimit.FailureThreshold {
			source.Suppressed = true
			source.SuppressedUntil = fetchedAt.Add(o.cfg.RateLimit.SuppressCooldown)
			o.logger.Warn("source suppressed after repeated failures",
				"source_id", source.ID,
				"consecutive_failures", source.ConsecutiveFailures,
				"until", source.SuppressedUntil)
		}
		o.deadLetter(ctx, dlq.Record{
			SourceID:  source.ID,
			Stage:     o.failureStage(outcome.Err),
			ErrorKind: o.errorKind(outcome.Err),
			Error:     result.Err,
			Payload:   map[string]string{"feed_url": source.FeedURL},
		}, report)
		return result

	case domain.FetchNotModified:
		result.State = domain.StateDone
		source.ConsecutiveFailures = 0
		source.LastError = ""
		source.LastSuccessfulCheck = fetchedAt
		return result
	}

	// Fresh body: run the entries through the pipeline.
	result.State = domain.StateDeduping
	source.ConsecutiveFailures = 0
	source.LastError = ""
	source.LastSuccessfulCheck = fetchedAt
	// A response without validators keeps the stored ones.
	if outcome.ETag != "" {
		source.ETag = outcome.ETag
	}
	if outcome.LastModified != "" {
		source.LastModified = outcome.LastModified
	}

	for _, entry := range outcome.Entries {
		saved, duplicate, err := o.processEntry(ctx, entry, fetchedAt, report)
		if err != nil {
			result.Failed++
			continue
		}
		if duplicate {
			result.Duplicates++
		}
		if saved {
			result.ArticlesSaved++
		}
	}

	if result.ArticlesSaved > 0 {
		source.LastArticleFound = fetchedAt
		source.TotalArticlesCollected += result.ArticlesSaved
	}

	result.State = domain.StateDone
	return result
}

// processEntry runs one raw entry through normalize, canonicalize, dedupe and
// persist. Returns whether a new article row was written and whether the
// article was judged a duplicate.
func (o *Orchestrator) processEntry(ctx context.Context, entry domain.RawEntry, fetchedAt time.Time, report *domain.CycleReport) (bool, bool, error) {
	title, summary, combined := textnorm.NormalizeArticleText(entry.Title, entry.Summary)

	if len([]rune(title)) < o.cfg.Collection.MinTitleLength {
		err := fmt.Errorf("%w: %q", domain.ErrTitleTooShort, title)
		o.logger.Debug("entry rejected",
			"source_id", entry.SourceID,
			"url", entry.URL,
			"reason", err)
		o.deadLetter(ctx, dlq.Record{
			SourceID:  entry.SourceID,
			Stage:     dlq.StageParse,
			ErrorKind: "malformed_entry",
			Error:     err.Error(),
			Payload:   entry,
		}, report)
		return false, false, err
	}

	canonicalURL, err := o.canonicalizer.Canonicalize(entry.URL)
	if err != nil {
		o.logger.Warn("entry rejected: uncanonicalizable URL",
			"source_id", entry.SourceID,
			"url", entry.URL,
			"error", err)
		o.deadLetter(ctx, dlq.Record{
			SourceID:  entry.SourceID,
			Stage:     dlq.StageCanonicalize,
			ErrorKind: "invalid_url",
			Error:     err.Error(),
			Payload:   entry,
		}, report)
		return false, false, err
	}

	article := &domain.CanonicalArticle{
		CanonicalURL:   canonicalURL,
		OriginalURL:    entry.URL,
		Title:          title,
		Summary:        summary,
		NormalizedText: combined,
		ContentHash:    dedup.ContentHash(combined),
		Simhash:        dedup.Simhash64(combined),
		SourceID:       entry.SourceID,
		Published:      entry.Published,
		DateConfidence: entry.DateConfidence,
		Fetched:        fetchedAt,
	}

	decision := o.engine.Assign(article)

	if o.cfg.Collection.DryRun {
		return false, article.Duplicate, nil
	}

	saved, err := o.articles.Save(ctx, article)
	if err != nil {
		o.logger.Error("failed to save article",
			"url", article.CanonicalURL,
			"source_id", article.SourceID,
			"error", err)
		o.deadLetter(ctx, dlq.Record{
			SourceID:  article.SourceID,
			Stage:     dlq.StagePersist,
			ErrorKind: "persist_error",
			Error:     err.Error(),
			Payload:   article,
		}, report)
		return false, article.Duplicate, err
	}

	if saved {
		o.logger.Debug("article saved",
			"url", article.CanonicalURL,
			"cluster_id", decision.ClusterID,
			"duplicate", article.Duplicate,
			"confidence", article.Confidence)
	}
	return saved, article.Duplicate, nil
}

func (o *Orchestrator) deadLetter(ctx context.Context, record dlq.Record, report *domain.CycleReport) {
	if err := o.queue.Publish(ctx, record); err != nil {
		// Publishing failures must never abort a cycle.
		o.logger.Error("dead letter publish failed", "source_id", record.SourceID, "error", err)
		return
	}
	report.DeadLettered++
}

func (o *Orchestrator) failureStage(err error) dlq.Stage {
	if errors.Is(err, domain.ErrFeedMalformed) {
		return dlq.StageParse
	}
	return dlq.StageFetch
}

func (o *Orchestrator) errorKind(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, domain.ErrFeedMalformed):
		return "parse_error"
	case errors.Is(err, domain.ErrInvalidURL):
		return "invalid_url"
	case isTransientExhausted(err):
		return "transient_exhausted"
	case fetcher.IsRetryable(err):
		return "transient"
	default:
		return "permanent"
	}
}

// isTransientExhausted detects a retry loop that gave up on a transient
// error: the wrapped cause is retryable even though the loop result is not
// retried further.
func isTransientExhausted(err error) bool {
	var httpErr *fetcher.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	return false
}
