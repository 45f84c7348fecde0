package repository

import (
	"context"
	"sync"

	"news-collector/domain"
)

// MemoryArticleRepository is a map-backed ArticleRepository for dry runs and
// tests.
type MemoryArticleRepository struct {
	mu       sync.RWMutex
	articles map[string]domain.CanonicalArticle
}

func NewMemoryArticleRepository() *MemoryArticleRepository {
	return &MemoryArticleRepository{
		articles: make(map[string]domain.CanonicalArticle),
	}
}

// Save stores the article keyed by canonical URL. Returns false when the URL
// was already stored.
func (r *MemoryArticleRepository) Save(_ context.Context, article *domain.CanonicalArticle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.articles[article.CanonicalURL]; exists {
		return false, nil
	}
	r.articles[article.CanonicalURL] = *article
	return true, nil
}

func (r *MemoryArticleRepository) Exists(_ context.Context, canonicalURL string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.articles[canonicalURL]
	return exists, nil
}

func (r *MemoryArticleRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.articles)), nil
}

// Get returns a stored article by canonical URL, for test assertions.
func (r *MemoryArticleRepository) Get(canonicalURL string) (domain.CanonicalArticle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	article, ok := r.articles[canonicalURL]
	return article, ok
}

// MemorySourceStateRepository is a map-backed SourceStateRepository.
type MemorySourceStateRepository struct {
	mu     sync.RWMutex
	states map[string]domain.Source
}

func NewMemorySourceStateRepository() *MemorySourceStateRepository {
	return &MemorySourceStateRepository{
		states: make(map[string]domain.Source),
	}
}

// Load returns the stored state for a source, or nil when none exists yet.
func (r *MemorySourceStateRepository) Load(_ context.Context, sourceID string) (*domain.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[sourceID]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

func (r *MemorySourceStateRepository) Save(_ context.Context, source *domain.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[source.ID] = *source
	return nil
}
