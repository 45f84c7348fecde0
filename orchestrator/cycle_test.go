// ABOUTME: This file tests the collection cycle orchestrator end to end with stub fetchers
// ABOUTME: Covers dedupe flow, suppression, robots denial, dry run and dead letter routing
package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-collector/canonical"
	"news-collector/config"
	"news-collector/dedup"
	"news-collector/dlq"
	"news-collector/domain"
	"news-collector/fetcher"
	"news-collector/metrics"
	"news-collector/repository"
)

type stubFetcher struct {
	mu       sync.Mutex
	outcomes map[string]domain.FetchOutcome
	calls    []string
	entered  chan struct{}
	block    chan struct{}
}

func (s *stubFetcher) Fetch(ctx context.Context, source *domain.Source) domain.FetchOutcome {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.calls = append(s.calls, source.ID)
	s.mu.Unlock()
	return s.outcomes[source.ID]
}

func (s *stubFetcher) callCount(sourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range s.calls {
		if id == sourceID {
			count++
		}
	}
	return count
}

type recordingDLQ struct {
	mu      sync.Mutex
	records []dlq.Record
}

func (r *recordingDLQ) Publish(ctx context.Context, record dlq.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *recordingDLQ) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.records))
	for _, record := range r.records {
		kinds = append(kinds, record.ErrorKind)
	}
	return kinds
}

type testHarness struct {
	orchestrator *Orchestrator
	fetcher      *stubFetcher
	articles     *repository.MemoryArticleRepository
	states       *repository.MemorySourceStateRepository
	queue        *recordingDLQ
}

func testConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{
			FailureThreshold: 2,
			SuppressCooldown: time.Hour,
		},
		Dedup: config.DedupConfig{
			SimhashThreshold:  10,
			CandidateWindow:   500,
			TitleOverlapFloor: 0.1,
		},
		Collection: config.CollectionConfig{
			MaxConcurrentSources: 4,
			MinTitleLength:       10,
		},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func newHarness(cfg *config.Config, outcomes map[string]domain.FetchOutcome) *testHarness {
	logger := testLogger()
	stub := &stubFetcher{outcomes: outcomes}
	articles := repository.NewMemoryArticleRepository()
	states := repository.NewMemorySourceStateRepository()
	queue := &recordingDLQ{}

	engine := dedup.NewEngine(dedup.Config{
		Threshold:         cfg.Dedup.SimhashThreshold,
		CandidateWindow:   cfg.Dedup.CandidateWindow,
		TitleOverlapFloor: cfg.Dedup.TitleOverlapFloor,
	}, logger)

	orch := New(
		cfg,
		stub,
		canonical.New(64),
		engine,
		articles,
		states,
		queue,
		metrics.NewCollector(cfg.Metrics, logger),
		logger,
	)

	return &testHarness{
		orchestrator: orch,
		fetcher:      stub,
		articles:     articles,
		states:       states,
		queue:        queue,
	}
}

func activeSource(id, feedURL string) domain.Source {
	return domain.Source{
		ID:      id,
		Name:    id,
		FeedURL: feedURL,
		Active:  true,
	}
}

func entry(sourceID, url, title, summary string) domain.RawEntry {
	return domain.RawEntry{
		URL:            url,
		Title:          title,
		Summary:        summary,
		Published:      time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		DateConfidence: domain.DateParsed,
		SourceID:       sourceID,
	}
}

func TestRunCycleFreshSources(t *testing.T) {
	h := newHarness(testConfig(), map[string]domain.FetchOutcome{
		"alpha": {
			Status: domain.FetchFresh,
			ETag:   `"v1"`,
			Entries: []domain.RawEntry{
				entry("alpha", "https://alpha.example.com/battery?utm_source=rss",
					"New Battery Chemistry Doubles Energy Density",
					"Researchers describe a new cathode material."),
				entry("alpha", "https://alpha.example.com/telescope",
					"Space Telescope Spots Most Distant Galaxy Yet",
					"The observation pushes the detection record further back."),
			},
		},
	})

	report, err := h.orchestrator.RunCycle(context.Background(), []domain.Source{
		activeSource("alpha", "https://alpha.example.com/feed.xml"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.SourcesProcessed)
	assert.Equal(t, 1, report.SourcesSucceeded)
	assert.Equal(t, 2, report.ArticlesFound)
	assert.Equal(t, 2, report.ArticlesSaved)
	assert.Zero(t, report.Duplicates)
	assert.False(t, report.DryRun)

	count, err := h.articles.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Tracking parameters are stripped during canonicalization.
	_, ok := h.articles.Get("https://alpha.example.com/battery")
	assert.True(t, ok)

	state, err := h.states.Load(context.Background(), "alpha")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, `"v1"`, state.ETag)
	assert.Zero(t, state.ConsecutiveFailures)
	assert.False(t, state.LastSuccessfulCheck.IsZero())
	assert.Equal(t, 2, state.TotalArticlesCollected)
}

func TestRunCycleDetectsCrossSourceDuplicates(t *testing.T) {
	shared := entry("beta", "https://beta.example.com/mirror/battery",
		"New Battery Chemistry Doubles Energy Density",
		"Researchers describe a new cathode material.")

	h := newHarness(testConfig(), map[string]domain.FetchOutcome{
		"alpha": {
			Status: domain.FetchFresh,
			Entries: []domain.RawEntry{
				entry("alpha", "https://alpha.example.com/battery",
					"New Battery Chemistry Doubles Energy Density",
					"Researchers describe a new cathode material."),
			},
		},
		"beta": {Status: domain.FetchFresh, Entries: []domain.RawEntry{shared}},
	})

	report, err := h.orchestrator.RunCycle(context.Background(), []domain.Source{
		activeSource("alpha", "https://alpha.example.com/feed.xml"),
		activeSource("beta", "https://beta.example.com/feed.xml"),
	})
	require.NoError(t, err)

	// Distinct canonical URLs, identical text: both rows saved, the second
	// marked a duplicate of the first.
	assert.Equal(t, 2, report.ArticlesSaved)
	assert.Equal(t, 1, report.Duplicates)

	mirror, ok := h.articles.Get("https://beta.example.com/mirror/battery")
	require.True(t, ok)
	assert.True(t, mirror.Duplicate)
	assert.Equal(t, 1.0, mirror.Confidence)

	original, ok := h.articles.Get("https://alpha.example.com/battery")
	require.True(t, ok)
	assert.Equal(t, original.ClusterID, mirror.ClusterID)
}

func TestRunCycleNotModified(t *testing.T) {
	h := newHarness(testConfig(), map[string]domain.FetchOutcome{
		"alpha": {Status: domain.FetchNotModified},
	})

	source := activeSource("alpha", "https://alpha.example.com/feed.xml")
	require.NoError(t, h.states.Save(context.Background(), &domain.Source{
		ID:                  "alpha",
		ETag:                `"v1"`,
		ConsecutiveFailures: 1,
	}))

	report, err := h.orchestrator.RunCycle(context.Background(), []domain.Source{source})
	require.NoError(t, err)

	assert.Equal(t, 1, report.SourcesSucceeded)
	assert.Zero(t, report.ArticlesFound)

	state, err := h.states.Load(context.Background(), "alpha")
	require.NoError(t, err)
	require.NotNil(t, state)
	// Validators survive a 304 and the failure streak resets.
	assert.Equal(t, `"v1"`, state.ETag)
	assert.Zero(t, state.ConsecutiveFailures)
}

func TestRunCycleKeepsValidatorsOnBareResponse(t *testing.T) {
	h := newHarness(testConfig(), map[string]domain.FetchOutcome{
		"alpha": {
			Status: domain.FetchFresh,
			Entries: []domain.RawEntry{
				entry("alpha", "https://alpha.example.com/battery",
					"New Battery Chemistry Doubles Energy Density", ""),
			},
		},
	})

	require.NoError(t, h.states.Save(context.Background(), &domain.Source{
		ID:           "alpha",
		ETag:         `"v1"`,
		LastModified: "Mon, 24 Aug 2026 09:00:00 GMT",
	}))

	report, err := h.orchestrator.RunCycle(context.Background(), []domain.Source{
		activeSource("alpha", "https://alpha.example.com/feed.xml"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ArticlesSaved)

	// A 200 without validator headers must not erase the stored ones.
	state, err := h.states.Load(context.Background(), "alpha")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, `"v1"`, state.ETag)
	assert.Equal(t, "Mon, 24 Aug 2026 09:00:00 GMT", state.LastModified)
}

func TestRunCycleSuppressesFailingSource(t *testing.T) {
	h := newHarness(testConfig(), map[string]domain.FetchOutcome{
		"flaky": {
			Status: domain.FetchFailed,
			Err:    &fetcher.HTTPError{StatusCode: 503, URL: "https://flaky.example.com/feed.xml"},
		},
	})

	sources := []domain.Source{activeSource("flaky", "https://flaky.example.com/feed.xml")}

	report, err := h.orchestrator.RunCycle(context.Background(), sources)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SourcesFailed)

	state, err := h.states.Load(context.Background(), "flaky")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.ConsecutiveFailures)
	assert.False(t, state.Suppressed)

	// Second consecutive failure crosses the threshold.
	report, err = h.orchestrator.RunCycle(context.Background(), sources)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SourcesFailed)

	state, err = h.states.Load(context.Background(), "flaky")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Suppressed)
	assert.False(t, state.SuppressedUntil.IsZero())

	// While suppressed the source is not fetched at all.
	report, err = h.orchestrator.RunCycle(context.Background(), sources)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SourcesSuppressed)
	assert.Zero(t, report.SourcesProcessed)
	assert.Equal(t, 2, h.fetcher.callCount("flaky"))

	assert.Equal(t, []string{"transient_exhausted", "transient_exhausted"}, h.queue.kinds())
}

func TestRunCyclePolicyBlocked(t *testing.T) {
	h := newHarness(testConfig(), map[string]domain.FetchOutcome{
		"strict": {Status: domain.FetchPolicyBlocked, Err: domain.ErrPolicyBlocked},
	})

	report, err := h.orchestrator.RunCycle(context.Background(), []domain.Source{
		activeSource("strict", "https://strict.example.com/feed.xml"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.SourcesBlocked)
	assert.Zero(t, report.SourcesFailed)
	assert.Equal(t, 1, report.DeadLettered)
	assert.Equal(t, []string{"robots_disallowed"}, h.queue.kinds())

	// Robots denial carries no suppression pressure.
	state, err := h.states.Load(context.Background(), "strict")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Zero(t, state.ConsecutiveFailures)
	assert.False(t, state.Suppressed)
}

func TestRunCycleRejectsShortTitles(t *testing.T) {
	h := newHarness(testConfig(), map[string]domain.FetchOutcome{
		"alpha": {
			Status: domain.FetchFresh,
			Entries: []domain.RawEntry{
				entry("alpha", "https://alpha.example.com/short", "Brief", ""),
				entry("alpha", "https://alpha.example.com/ok",
					"A Perfectly Reasonable Headline Length", "Some summary text."),
			},
		},
	})

	report, err := h.orchestrator.RunCycle(context.Background(), []domain.Source{
		activeSource("alpha", "https://alpha.example.com/feed.xml"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.ArticlesFound)
	assert.Equal(t, 1, report.ArticlesSaved)
	assert.Equal(t, 1, report.ArticlesFailed)
	assert.Equal(t, 1, report.Results["alpha"].Failed)
	assert.Equal(t, []string{"malformed_entry"}, h.queue.kinds())
}

func TestRunCycleDryRun(t *testing.T) {
	cfg := testConfig()
	cfg.Collection.DryRun = true

	h := newHarness(cfg, map[string]domain.FetchOutcome{
		"alpha": {
			Status: domain.FetchFresh,
			Entries: []domain.RawEntry{
				entry("alpha", "https://alpha.example.com/battery",
					"New Battery Chemistry Doubles Energy Density", ""),
			},
		},
	})

	report, err := h.orchestrator.RunCycle(context.Background(), []domain.Source{
		activeSource("alpha", "https://alpha.example.com/feed.xml"),
	})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.ArticlesFound)
	assert.Zero(t, report.ArticlesSaved)

	count, err := h.articles.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	// Source state is not persisted either.
	state, err := h.states.Load(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestRunCycleSkipsInactiveSources(t *testing.T) {
	h := newHarness(testConfig(), map[string]domain.FetchOutcome{
		"active": {Status: domain.FetchNotModified},
	})

	inactive := activeSource("inactive", "https://inactive.example.com/feed.xml")
	inactive.Active = false

	report, err := h.orchestrator.RunCycle(context.Background(), []domain.Source{
		activeSource("active", "https://active.example.com/feed.xml"),
		inactive,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.SourcesProcessed)
	assert.Zero(t, h.fetcher.callCount("inactive"))
}

func TestRunCycleNoSources(t *testing.T) {
	h := newHarness(testConfig(), nil)

	_, err := h.orchestrator.RunCycle(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNoSources)
}

func TestRunCycleRejectsConcurrentRuns(t *testing.T) {
	h := newHarness(testConfig(), map[string]domain.FetchOutcome{
		"alpha": {Status: domain.FetchNotModified},
	})
	h.fetcher.entered = make(chan struct{}, 1)
	h.fetcher.block = make(chan struct{})

	sources := []domain.Source{activeSource("alpha", "https://alpha.example.com/feed.xml")}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := h.orchestrator.RunCycle(context.Background(), sources)
		assert.NoError(t, err)
	}()

	// Wait for the first cycle to reach the blocked fetch.
	<-h.fetcher.entered

	_, err := h.orchestrator.RunCycle(context.Background(), sources)
	assert.ErrorIs(t, err, ErrCycleRunning)

	close(h.fetcher.block)
	<-done

	report := h.orchestrator.LastReport()
	require.NotNil(t, report)
	assert.Equal(t, 1, report.SourcesSucceeded)
}
