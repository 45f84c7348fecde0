package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"news-collector/domain"
)

// SourcesFile is the on-disk layout of the curated source list.
type SourcesFile struct {
	Sources []SourceEntry `yaml:"sources"`
}

// SourceEntry is one configured feed in the sources file.
type SourceEntry struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	URL             string  `yaml:"url"`
	Category        string  `yaml:"category"`
	MinDelaySeconds float64 `yaml:"min_delay_seconds"`
	MaxArticles     int     `yaml:"max_articles"`
	Active          *bool   `yaml:"active"`
}

// LoadSources reads the curated source list from a YAML file. An empty or
// missing source list is a fatal configuration error.
func LoadSources(path string) ([]domain.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file %s: %w", path, err)
	}

	return ParseSources(data)
}

// ParseSources parses the YAML source list.
func ParseSources(data []byte) ([]domain.Source, error) {
	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	if len(file.Sources) == 0 {
		return nil, domain.ErrNoSources
	}

	seen := make(map[string]struct{}, len(file.Sources))
	sources := make([]domain.Source, 0, len(file.Sources))

	for i, entry := range file.Sources {
		if entry.ID == "" {
			return nil, fmt.Errorf("source at index %d has no id", i)
		}
		if entry.URL == "" {
			return nil, fmt.Errorf("source %s has no url", entry.ID)
		}
		if _, dup := seen[entry.ID]; dup {
			return nil, fmt.Errorf("duplicate source id: %s", entry.ID)
		}
		seen[entry.ID] = struct{}{}

		active := true
		if entry.Active != nil {
			active = *entry.Active
		}

		sources = append(sources, domain.Source{
			ID:              entry.ID,
			Name:            entry.Name,
			FeedURL:         entry.URL,
			Category:        entry.Category,
			MinDelaySeconds: entry.MinDelaySeconds,
			MaxArticles:     entry.MaxArticles,
			Active:          active,
		})
	}

	return sources, nil
}
