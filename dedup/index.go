package dedup

import (
	"sort"
	"sync"
)

// bandCount partitions the 64-bit fingerprint into four 16-bit bands. Two
// fingerprints within the default distance threshold share at least one band
// with high probability, which keeps candidate search far below full pairwise
// comparison.
const (
	bandCount = 4
	bandBits  = SimhashBits / bandCount
	bandMask  = (1 << bandBits) - 1
)

type bandKey struct {
	position int
	value    uint16
}

// bandIndex maps band values to the clusters whose centroids carry them.
// Lookups and insertions for distinct band buckets do not serialize each
// other beyond the short map-level critical section.
type bandIndex struct {
	mu      sync.RWMutex
	buckets map[bandKey][]string
}

func newBandIndex() *bandIndex {
	return &bandIndex{
		buckets: make(map[bandKey][]string),
	}
}

func bandsOf(fingerprint uint64) [bandCount]uint16 {
	var result [bandCount]uint16
	for i := 0; i < bandCount; i++ {
		result[i] = uint16((fingerprint >> (uint(i) * bandBits)) & bandMask)
	}
	return result
}

// Insert registers a cluster under every band of its centroid fingerprint.
func (idx *bandIndex) Insert(fingerprint uint64, clusterID string) {
	bands := bandsOf(fingerprint)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for position, value := range bands {
		key := bandKey{position: position, value: value}
		idx.buckets[key] = append(idx.buckets[key], clusterID)
	}
}

// Candidates returns the cluster ids sharing at least one band with the
// fingerprint, deduplicated, in deterministic order.
func (idx *bandIndex) Candidates(fingerprint uint64) []string {
	bands := bandsOf(fingerprint)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for position, value := range bands {
		for _, id := range idx.buckets[bandKey{position: position, value: value}] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)
	return ids
}

// Remove drops a cluster from every band bucket of the given fingerprint.
// Used when a centroid is re-registered after cluster revalidation.
func (idx *bandIndex) Remove(fingerprint uint64, clusterID string) {
	bands := bandsOf(fingerprint)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for position, value := range bands {
		key := bandKey{position: position, value: value}
		bucket := idx.buckets[key]
		for i, id := range bucket {
			if id == clusterID {
				idx.buckets[key] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(idx.buckets[key]) == 0 {
			delete(idx.buckets, key)
		}
	}
}
