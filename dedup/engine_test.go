package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-collector/domain"
)

func testEngine(cfg Config) *Engine {
	return NewEngine(cfg, nil)
}

func article(url, title, text string, simhash uint64) *domain.CanonicalArticle {
	return &domain.CanonicalArticle{
		CanonicalURL:   url,
		Title:          title,
		NormalizedText: text,
		ContentHash:    ContentHash(text),
		Simhash:        simhash,
		Published:      time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func TestAssignNewCluster(t *testing.T) {
	e := testEngine(Config{Threshold: 10, CandidateWindow: 500})

	a := article("https://x.com/a", "First Story", "first story body", 0)
	decision := e.Assign(a)

	assert.True(t, decision.NewCluster)
	assert.NotEmpty(t, decision.ClusterID)
	assert.Equal(t, decision.ClusterID, a.ClusterID)
	assert.False(t, a.Duplicate)
	assert.Equal(t, 1, e.ClusterCount())
}

func TestAssignExactDuplicate(t *testing.T) {
	e := testEngine(Config{Threshold: 10, CandidateWindow: 500})

	a := article("https://x.com/a", "Story", "identical body text", 0x1234)
	first := e.Assign(a)
	require.True(t, first.NewCluster)

	// Same content hash, wildly different fingerprint: the exact-hash path
	// must win without any fingerprint comparison.
	b := article("https://y.com/b", "Story", "identical body text", ^uint64(0))
	second := e.Assign(b)

	assert.True(t, second.ExactMatch)
	assert.Equal(t, first.ClusterID, second.ClusterID)
	assert.Equal(t, 0, second.Distance)
	assert.Equal(t, 1.0, second.Confidence)
	assert.True(t, b.Duplicate)
	assert.Equal(t, 1, e.ClusterCount())
}

func TestAssignThresholdInclusive(t *testing.T) {
	e := testEngine(Config{Threshold: 10, CandidateWindow: 500})

	anchor := article("https://x.com/a", "Anchor", "anchor body", 0)
	first := e.Assign(anchor)

	// Exactly 10 differing bits: at the threshold, still a duplicate.
	at := article("https://x.com/b", "Anchor", "anchor body at threshold", 0x3FF)
	atDecision := e.Assign(at)

	assert.False(t, atDecision.NewCluster)
	assert.Equal(t, first.ClusterID, atDecision.ClusterID)
	assert.Equal(t, 10, atDecision.Distance)
	assert.InDelta(t, 1.0-10.0/64.0, atDecision.Confidence, 1e-9)
	assert.True(t, at.Duplicate)
}

func TestAssignThresholdExceeded(t *testing.T) {
	e := testEngine(Config{Threshold: 10, CandidateWindow: 500})

	anchor := article("https://x.com/a", "Anchor", "anchor body", 0)
	first := e.Assign(anchor)

	// Eleven differing bits: one past the threshold, a new cluster.
	over := article("https://x.com/b", "Anchor", "anchor body over threshold", 0x7FF)
	overDecision := e.Assign(over)

	assert.True(t, overDecision.NewCluster)
	assert.NotEqual(t, first.ClusterID, overDecision.ClusterID)
	assert.False(t, over.Duplicate)
	assert.Equal(t, 2, e.ClusterCount())
}

func TestAssignTieBreaksToEarliestCluster(t *testing.T) {
	e := testEngine(Config{Threshold: 10, CandidateWindow: 500})

	// Two clusters 12 bits apart, then an article 6 bits from each. Both
	// qualify; the earlier cluster wins and absorbs the later one.
	a := e.Assign(article("https://x.com/a", "Quantum Chip Result", "body a", 0))
	b := e.Assign(article("https://x.com/b", "Quantum Chip Result", "body b", 0xFFF))
	require.NotEqual(t, a.ClusterID, b.ClusterID)

	mid := article("https://x.com/c", "Quantum Chip Result", "body c", 0x03F)
	decision := e.Assign(mid)

	assert.Equal(t, a.ClusterID, decision.ClusterID)
	assert.Equal(t, 6, decision.Distance)
	assert.Equal(t, 1, e.ClusterCount())

	clusters := e.Clusters()
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Members, 3)
}

func TestAssignTitleDivergenceAnomaly(t *testing.T) {
	e := testEngine(Config{Threshold: 10, CandidateWindow: 500, TitleOverlapFloor: 0.5})

	first := e.Assign(article("https://x.com/a", "mars rover finds organic molecules", "shared body", 0))
	near := article("https://y.com/b", "completely unrelated headline here", "shared body variant", 0x3)
	decision := e.Assign(near)

	// The merge still applies; the divergence is only flagged.
	assert.Equal(t, first.ClusterID, decision.ClusterID)
	assert.True(t, decision.Anomaly)
}

func TestAssignMalformedUnclustered(t *testing.T) {
	e := testEngine(Config{Threshold: 10, CandidateWindow: 500})

	a := &domain.CanonicalArticle{
		CanonicalURL:   "https://x.com/empty",
		NormalizedText: "",
	}
	decision := e.Assign(a)

	assert.True(t, decision.Unclustered)
	assert.Empty(t, a.ClusterID)
	assert.Zero(t, e.ClusterCount())
}

func TestRevalidationSplitsOutliers(t *testing.T) {
	e := testEngine(Config{Threshold: 10, CandidateWindow: 500})

	// Cluster P at fingerprint 0 and cluster Q at 12 bits away.
	p := e.Assign(article("https://x.com/p", "Story P", "body p", 0))
	q := e.Assign(article("https://x.com/q", "Story Q", "body q", 0xFFF))
	require.NotEqual(t, p.ClusterID, q.ClusterID)

	// Exact duplicate of Q carrying a far-away fingerprint joins Q by hash.
	far := article("https://y.com/q2", "Story Q", "body q", ^uint64(0))
	exact := e.Assign(far)
	require.True(t, exact.ExactMatch)

	// A bridge article qualifies against both clusters, so Q merges into P.
	// Revalidation then ejects the far member (64 bits from P's anchor).
	bridge := e.Assign(article("https://x.com/c", "Story P", "body bridge", 0x03F))

	assert.Equal(t, p.ClusterID, bridge.ClusterID)
	assert.Equal(t, 2, e.ClusterCount())

	clusters := e.Clusters()
	require.Len(t, clusters, 2)
	assert.Contains(t, clusters[1].Members, "https://y.com/q2")
}

func TestCandidateWindowBounds(t *testing.T) {
	e := testEngine(Config{Threshold: 10, CandidateWindow: 1})

	// Cluster A at fingerprint 0; cluster B shares no band with it, so the
	// band index cannot surface A for the next article.
	a := e.Assign(article("https://x.com/a", "Old Story", "body a", 0))
	e.Assign(article("https://x.com/b", "Other Story", "body b", 0xF00FF00FF00FF00F))

	// Near A on distance, but A has aged out of the 1-cluster window.
	stale := article("https://x.com/c", "Old Story", "body c", 0x3)
	decision := e.Assign(stale)

	assert.True(t, decision.NewCluster)
	assert.NotEqual(t, a.ClusterID, decision.ClusterID)
}

func TestAssignDeterministicOrder(t *testing.T) {
	run := func() []string {
		e := testEngine(Config{Threshold: 10, CandidateWindow: 500})
		fingerprints := []uint64{0, 0x3FF, 0xFFF, 0x7FF, 0x0001000100010001}

		var ids []string
		for i, fp := range fingerprints {
			a := article(
				fmt.Sprintf("https://x.com/%d", i),
				"Recurring Story",
				fmt.Sprintf("body %d", i),
				fp,
			)
			e.Assign(a)
			ids = append(ids, a.ClusterID)
		}
		return ids
	}

	first := run()
	second := run()

	// Cluster ids are random uuids, so compare the grouping structure.
	require.Len(t, first, len(second))
	for i := range first {
		for j := range first {
			assert.Equal(t,
				first[i] == first[j],
				second[i] == second[j],
				"grouping of articles %d and %d differs between runs", i, j)
		}
	}
}

func TestNearDuplicateRealText(t *testing.T) {
	e := testEngine(Config{Threshold: 10, CandidateWindow: 500})

	// Syndicated copies of the same story often reorder or reflow sentences.
	// The fingerprint depends only on the token multiset, so these two texts
	// land at distance zero through the fingerprint path, not the exact-hash
	// path, because their content hashes differ.
	base := "scientists at the observatory announced the discovery of a new exoplanet orbiting a nearby red dwarf star"
	reordered := "orbiting a nearby red dwarf star scientists at the observatory announced the discovery of a new exoplanet"
	require.NotEqual(t, ContentHash(base), ContentHash(reordered))

	a := article("https://x.com/a", "New Exoplanet Discovered", base, Simhash64(base))
	b := article("https://y.com/b", "New Exoplanet Discovered", reordered, Simhash64(reordered))

	first := e.Assign(a)
	second := e.Assign(b)

	assert.False(t, second.ExactMatch)
	assert.Equal(t, first.ClusterID, second.ClusterID)
	assert.Equal(t, 0, second.Distance)
	assert.True(t, b.Duplicate)
}
