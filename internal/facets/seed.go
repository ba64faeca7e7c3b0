package facets

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gleaner/internal/store"
	"gleaner/internal/textutil"
)

// SeedEntry is one global catalog entry in the seed file.
type SeedEntry struct {
	Kind     string   `yaml:"kind"`
	Label    string   `yaml:"label"`
	Synonyms []string `yaml:"synonyms"`
}

type seedFile struct {
	Facets []SeedEntry `yaml:"facets"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) ([]SeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facet seed: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse facet seed %s: %w", path, err)
	}
	for i, entry := range file.Facets {
		if NormalizeKind(entry.Kind) == "" || SanitizeLabel(entry.Label) == "" {
			return nil, fmt.Errorf("facet seed %s: entry %d needs kind and label", path, i+1)
		}
	}
	return file.Facets, nil
}

// ApplySeed inserts seed entries as global catalog rows and returns the
// number of entries written. Existing entries are left as they are.
func ApplySeed(ctx context.Context, catalog Catalog, entries []SeedEntry) (int, error) {
	written := 0
	for _, entry := range entries {
		label := SanitizeLabel(entry.Label)
		synonyms := make([]string, 0, len(entry.Synonyms))
		for _, syn := range entry.Synonyms {
			if s := SanitizeLabel(syn); s != "" {
				synonyms = append(synonyms, s)
			}
		}
		if _, err := catalog.InsertFacet(ctx, store.FacetEntry{
			KindSlug:        NormalizeKind(entry.Kind),
			Label:           label,
			NormalizedLabel: textutil.NormalizeLabel(label),
			Synonyms:        synonyms,
		}); err != nil {
			return written, fmt.Errorf("seed facet %s/%s: %w", entry.Kind, label, err)
		}
		written++
	}
	return written, nil
}
