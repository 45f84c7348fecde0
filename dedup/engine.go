package dedup

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"news-collector/domain"
)

// Config tunes the matching policy.
type Config struct {
	// Threshold is the maximum Hamming distance treated as a duplicate
	// (inclusive).
	Threshold int
	// CandidateWindow bounds how many recently touched clusters are compared
	// per article.
	CandidateWindow int
	// TitleOverlapFloor flags merges whose title token overlap falls below it.
	TitleOverlapFloor float64
}

// Decision describes the outcome of assigning one article to a cluster.
type Decision struct {
	ClusterID  string
	Distance   int
	Confidence float64
	ExactMatch bool
	NewCluster bool
	// Anomaly is set when the merge qualified on fingerprint distance but the
	// titles diverge sharply; the merge still applies, flagged for review.
	Anomaly bool
	// Unclustered is set for malformed articles skipped from clustering.
	Unclustered bool
}

type member struct {
	articleID   string
	fingerprint uint64
	title       string
	contentHash string
}

type cluster struct {
	id       string
	members  []member
	centroid uint64
	title    string
	seq      int
	created  time.Time
	touched  int
}

// Engine owns the cluster index for a run. It is the sole writer of cluster
// state; Assign must be called in a fixed article order for reproducible
// results.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	clusters map[string]*cluster
	byHash   map[string]string
	index    *bandIndex
	seq      int
	touchSeq int
}

// NewEngine creates a dedup engine with the given policy.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.CandidateWindow <= 0 {
		cfg.CandidateWindow = 500
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		clusters: make(map[string]*cluster),
		byHash:   make(map[string]string),
		index:    newBandIndex(),
	}
}

// Assign computes the cluster membership for one article and records the
// article's ClusterID, Confidence and Duplicate fields. Malformed articles
// (no normalized text) pass through unclustered.
func (e *Engine) Assign(article *domain.CanonicalArticle) Decision {
	if article.NormalizedText == "" {
		e.logger.Warn("article skipped from clustering",
			"url", article.CanonicalURL,
			"source_id", article.SourceID,
			"reason", "empty normalized text")
		article.ClusterID = ""
		article.Confidence = 0
		return Decision{Unclustered: true}
	}

	m := member{
		articleID:   article.CanonicalURL,
		fingerprint: article.Simhash,
		title:       article.Title,
		contentHash: article.ContentHash,
	}

	// Exact duplicates short-circuit: identical content hash attaches to the
	// existing cluster at distance 0 without fingerprint comparison.
	if clusterID, ok := e.byHash[article.ContentHash]; ok {
		target := e.clusters[clusterID]
		e.appendMember(target, m)

		article.ClusterID = clusterID
		article.Confidence = 1.0
		article.Duplicate = true
		return Decision{ClusterID: clusterID, Distance: 0, Confidence: 1.0, ExactMatch: true}
	}

	hits := e.qualifyingHits(article.Simhash)
	if len(hits) == 0 {
		created := e.newCluster(m)
		article.ClusterID = created.id
		article.Confidence = 0
		return Decision{ClusterID: created.id, NewCluster: true}
	}

	best := hits[0]
	target := best.cluster

	anomaly := false
	overlap := titleTokenOverlap(target.title, article.Title)
	if overlap < e.cfg.TitleOverlapFloor {
		anomaly = true
		e.logger.Warn("dedup anomaly: merging despite title divergence",
			"cluster_id", target.id,
			"cluster_title", target.title,
			"article_title", article.Title,
			"distance", best.distance,
			"title_overlap", overlap)
	}

	e.appendMember(target, m)

	// Qualifying sibling clusters collapse into the target.
	for _, hit := range hits[1:] {
		e.mergeClusters(target, hit.cluster)
	}

	e.revalidate(target)

	confidence := Confidence(best.distance)
	article.ClusterID = target.id
	article.Confidence = confidence
	article.Duplicate = true

	return Decision{
		ClusterID:  target.id,
		Distance:   best.distance,
		Confidence: confidence,
		Anomaly:    anomaly,
	}
}

// Clusters returns snapshots of all clusters in creation order.
func (e *Engine) Clusters() []domain.DedupCluster {
	result := make([]domain.DedupCluster, 0, len(e.clusters))
	for _, c := range e.clusters {
		snapshot := domain.DedupCluster{
			ID:          c.id,
			Centroid:    c.centroid,
			Title:       c.title,
			ContentHash: c.members[0].contentHash,
			CreatedSeq:  c.seq,
			Created:     c.created,
		}
		for _, m := range c.members {
			snapshot.Members = append(snapshot.Members, m.articleID)
		}
		result = append(result, snapshot)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedSeq < result[j].CreatedSeq
	})
	return result
}

// ClusterCount returns how many clusters exist.
func (e *Engine) ClusterCount() int {
	return len(e.clusters)
}

type hit struct {
	cluster  *cluster
	distance int
}

// qualifyingHits returns the clusters within the distance threshold, ordered
// by (distance, creation order) for deterministic tie-breaking. Candidates
// come from the band index bounded to the most recently touched window, with
// a recency fallback when no band matches.
func (e *Engine) qualifyingHits(fingerprint uint64) []hit {
	candidateIDs := e.index.Candidates(fingerprint)
	candidates := e.windowed(candidateIDs)
	if len(candidates) == 0 {
		candidates = e.recentClusters()
	}

	var hits []hit
	for _, c := range candidates {
		distance := HammingDistance(fingerprint, c.centroid)
		if distance <= e.cfg.Threshold {
			hits = append(hits, hit{cluster: c, distance: distance})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance != hits[j].distance {
			return hits[i].distance < hits[j].distance
		}
		return hits[i].cluster.seq < hits[j].cluster.seq
	})
	return hits
}

// windowed filters candidate ids down to the most recently touched
// CandidateWindow clusters.
func (e *Engine) windowed(ids []string) []*cluster {
	floor := e.touchSeq - e.cfg.CandidateWindow

	var result []*cluster
	for _, id := range ids {
		c, ok := e.clusters[id]
		if !ok {
			continue
		}
		if c.touched <= floor {
			continue
		}
		result = append(result, c)
	}
	return result
}

// recentClusters returns up to CandidateWindow most recently touched clusters.
func (e *Engine) recentClusters() []*cluster {
	all := make([]*cluster, 0, len(e.clusters))
	for _, c := range e.clusters {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].touched > all[j].touched
	})
	if len(all) > e.cfg.CandidateWindow {
		all = all[:e.cfg.CandidateWindow]
	}
	return all
}

func (e *Engine) newCluster(m member) *cluster {
	e.seq++
	e.touchSeq++

	c := &cluster{
		id:       uuid.NewString(),
		members:  []member{m},
		centroid: m.fingerprint,
		title:    m.title,
		seq:      e.seq,
		created:  time.Now().UTC(),
		touched:  e.touchSeq,
	}

	e.clusters[c.id] = c
	e.byHash[m.contentHash] = c.id
	e.index.Insert(c.centroid, c.id)
	return c
}

func (e *Engine) appendMember(c *cluster, m member) {
	c.members = append(c.members, m)
	e.touchSeq++
	c.touched = e.touchSeq
	if _, exists := e.byHash[m.contentHash]; !exists {
		e.byHash[m.contentHash] = c.id
	}
}

// mergeClusters folds source into target, rehoming members, hashes and the
// band index entry.
func (e *Engine) mergeClusters(target, source *cluster) {
	for _, m := range source.members {
		target.members = append(target.members, m)
		e.byHash[m.contentHash] = target.id
	}

	e.index.Remove(source.centroid, source.id)
	delete(e.clusters, source.id)

	e.touchSeq++
	target.touched = e.touchSeq
}

// revalidate splits members whose fingerprints drifted past twice the
// threshold from the cluster anchor into fresh singleton clusters, guarding
// against transitive over-merges.
func (e *Engine) revalidate(c *cluster) {
	if len(c.members) <= 1 {
		return
	}

	anchor := c.centroid
	kept := c.members[:1]
	var outliers []member

	for _, m := range c.members[1:] {
		if HammingDistance(m.fingerprint, anchor) > e.cfg.Threshold*2 {
			outliers = append(outliers, m)
			continue
		}
		kept = append(kept, m)
	}

	if len(outliers) == 0 {
		return
	}

	c.members = kept
	for _, m := range outliers {
		split := e.newCluster(m)
		e.logger.Warn("cluster member split during revalidation",
			"cluster_id", c.id,
			"new_cluster_id", split.id,
			"article_id", m.articleID)
	}
}

// titleTokenOverlap computes the Jaccard overlap between the lowercased token
// sets of two titles.
func titleTokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range strings.Fields(strings.ToLower(text)) {
		set[token] = struct{}{}
	}
	return set
}
