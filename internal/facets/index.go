package facets

import (
	"strings"

	"gleaner/internal/store"
	"gleaner/internal/textutil"
)

// Index maps kind slug -> normalized label or synonym -> catalog entry.
type Index struct {
	byKind map[string]map[string]store.FacetEntry
}

// BuildIndex indexes catalog entries. Account entries shadow global entries
// that share a key.
func BuildIndex(entries []store.FacetEntry) *Index {
	ix := &Index{byKind: make(map[string]map[string]store.FacetEntry)}
	for _, entry := range entries {
		if entry.AccountID == "" {
			ix.add(entry, false)
		}
	}
	for _, entry := range entries {
		if entry.AccountID != "" {
			ix.add(entry, true)
		}
	}
	return ix
}

func (ix *Index) add(entry store.FacetEntry, override bool) {
	kind := NormalizeKind(entry.KindSlug)
	if kind == "" {
		return
	}
	keys, ok := ix.byKind[kind]
	if !ok {
		keys = make(map[string]store.FacetEntry)
		ix.byKind[kind] = keys
	}
	aliases := append([]string{entry.NormalizedLabel, entry.Label}, entry.Synonyms...)
	for _, alias := range aliases {
		key := textutil.NormalizeLabel(alias)
		if key == "" {
			continue
		}
		if _, exists := keys[key]; exists && !override {
			continue
		}
		keys[key] = entry
	}
}

// Lookup finds the entry for a kind and raw label.
func (ix *Index) Lookup(kind, label string) (store.FacetEntry, bool) {
	if ix == nil {
		return store.FacetEntry{}, false
	}
	keys, ok := ix.byKind[NormalizeKind(kind)]
	if !ok {
		return store.FacetEntry{}, false
	}
	entry, ok := keys[textutil.NormalizeLabel(label)]
	return entry, ok
}

// Size returns the number of indexed aliases.
func (ix *Index) Size() int {
	if ix == nil {
		return 0
	}
	total := 0
	for _, keys := range ix.byKind {
		total += len(keys)
	}
	return total
}

// NormalizeKind lowercases a kind slug and joins its words with underscores.
func NormalizeKind(kind string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(kind)), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// SanitizeLabel cleans a model-provided label or quote: typographic quotes are
// folded, control characters removed, whitespace collapsed, and wrapping
// quotes and trailing periods stripped.
func SanitizeLabel(raw string) string {
	s := textutil.CollapseWhitespace(textutil.StripControl(textutil.FoldQuotes(raw)))
	s = strings.TrimLeft(s, `"'`)
	s = strings.TrimRight(s, `."'`)
	return strings.TrimSpace(s)
}
