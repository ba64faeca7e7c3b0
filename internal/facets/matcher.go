package facets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gleaner/internal/logging"
	"gleaner/internal/store"
	"gleaner/internal/textutil"
)

// ErrEmptyMention is returned for mentions with no usable kind or label.
var ErrEmptyMention = errors.New("facet mention has no kind or label")

// Catalog is the persistence the matcher needs.
type Catalog interface {
	ListFacetCatalog(ctx context.Context, accountID string) ([]store.FacetEntry, error)
	InsertFacet(ctx context.Context, entry store.FacetEntry) (store.FacetEntry, error)
}

// Stats counts how mentions were resolved during one run.
type Stats struct {
	Matched   int
	Overrides int
	Created   int
}

// Matcher resolves mentions for a single extraction run. It is not safe for
// concurrent use.
type Matcher struct {
	catalog   Catalog
	accountID string
	index     *Index
	overrides map[string]store.FacetEntry
	stats     Stats
	logger    *slog.Logger
}

// NewMatcher snapshots the account's catalog.
func NewMatcher(ctx context.Context, catalog Catalog, accountID string, logger *slog.Logger) (*Matcher, error) {
	entries, err := catalog.ListFacetCatalog(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load facet catalog: %w", err)
	}
	m := &Matcher{
		catalog:   catalog,
		accountID: accountID,
		index:     BuildIndex(entries),
		overrides: make(map[string]store.FacetEntry),
		logger:    logging.NewComponentLogger(logger, "facets"),
	}
	m.logger.Debug("facet catalog loaded", logging.Int("entries", len(entries)), logging.Int("aliases", m.index.Size()))
	return m, nil
}

// Entries returns the catalog entries visible to this run, used to ground
// the extraction prompt.
func (m *Matcher) Entries() []store.FacetEntry {
	seen := make(map[string]struct{})
	var out []store.FacetEntry
	for _, keys := range m.index.byKind {
		for _, entry := range keys {
			if _, ok := seen[entry.ID]; ok {
				continue
			}
			seen[entry.ID] = struct{}{}
			out = append(out, entry)
		}
	}
	return out
}

// Stats reports resolution counts so far.
func (m *Matcher) Stats() Stats {
	return m.stats
}

// Resolve returns the account-scoped catalog entry for a mention, creating
// it when needed.
func (m *Matcher) Resolve(ctx context.Context, kind, label string) (store.FacetEntry, error) {
	kind = NormalizeKind(kind)
	label = SanitizeLabel(label)
	if kind == "" || label == "" {
		return store.FacetEntry{}, ErrEmptyMention
	}

	if entry, ok := m.index.Lookup(kind, label); ok {
		if entry.AccountID == m.accountID {
			m.stats.Matched++
			return entry, nil
		}
		return m.override(ctx, entry)
	}

	normalized := textutil.NormalizeLabel(label)
	created, err := m.catalog.InsertFacet(ctx, store.FacetEntry{
		AccountID:       m.accountID,
		KindSlug:        kind,
		Label:           normalized,
		NormalizedLabel: normalized,
		Synonyms:        []string{normalized},
	})
	if err != nil {
		return store.FacetEntry{}, fmt.Errorf("create facet %s/%s: %w", kind, normalized, err)
	}
	m.index.add(created, true)
	m.stats.Created++
	m.logger.Debug("facet created", logging.String("kind", kind), logging.String("label", normalized))
	return created, nil
}

func (m *Matcher) override(ctx context.Context, global store.FacetEntry) (store.FacetEntry, error) {
	if existing, ok := m.overrides[global.ID]; ok {
		m.stats.Matched++
		return existing, nil
	}
	entry, err := m.catalog.InsertFacet(ctx, store.FacetEntry{
		AccountID:       m.accountID,
		KindSlug:        NormalizeKind(global.KindSlug),
		Label:           global.Label,
		NormalizedLabel: global.NormalizedLabel,
		Synonyms:        append([]string(nil), global.Synonyms...),
		GlobalID:        global.ID,
	})
	if err != nil {
		return store.FacetEntry{}, fmt.Errorf("create account override for %s: %w", global.ID, err)
	}
	m.overrides[global.ID] = entry
	m.index.add(entry, true)
	m.stats.Overrides++
	return entry, nil
}
