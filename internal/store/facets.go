package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ListFacetCatalog returns global entries plus the account's own entries.
func (s *Store) ListFacetCatalog(ctx context.Context, accountID string) ([]FacetEntry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT id, account_id, kind_slug, label, normalized_label,
		synonyms_json, global_id FROM facet_catalog WHERE account_id = '' OR account_id = ?
		ORDER BY account_id ASC, created_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list facet catalog: %w", err)
	}
	defer rows.Close()
	var out []FacetEntry
	for rows.Next() {
		var (
			entry    FacetEntry
			synonyms sql.NullString
			globalID sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.KindSlug, &entry.Label, &entry.NormalizedLabel, &synonyms, &globalID); err != nil {
			return nil, err
		}
		entry.Synonyms = decodeStrings(synonyms)
		entry.GlobalID = globalID.String
		out = append(out, entry)
	}
	return out, rows.Err()
}

// InsertFacet adds a catalog entry. When an entry with the same account,
// kind, and normalized label exists, that entry is returned instead.
func (s *Store) InsertFacet(ctx context.Context, entry FacetEntry) (FacetEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	synonyms, err := encodeJSON(entry.Synonyms)
	if err != nil {
		return FacetEntry{}, err
	}
	res, err := s.execWithRetry(ctx, `INSERT INTO facet_catalog (
		id, account_id, kind_slug, label, normalized_label, synonyms_json, global_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(account_id, kind_slug, normalized_label) DO NOTHING`,
		entry.ID, entry.AccountID, entry.KindSlug, entry.Label, entry.NormalizedLabel, synonyms,
		nullableString(entry.GlobalID), s.timestamp())
	if err != nil {
		return FacetEntry{}, fmt.Errorf("insert facet: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return entry, nil
	}
	var (
		existing  FacetEntry
		synRaw    sql.NullString
		globalRaw sql.NullString
	)
	err = s.db.QueryRowContext(ensureContext(ctx), `SELECT id, account_id, kind_slug, label, normalized_label, synonyms_json, global_id
		FROM facet_catalog WHERE account_id = ? AND kind_slug = ? AND normalized_label = ?`,
		entry.AccountID, entry.KindSlug, entry.NormalizedLabel).Scan(
		&existing.ID, &existing.AccountID, &existing.KindSlug, &existing.Label, &existing.NormalizedLabel, &synRaw, &globalRaw)
	if err != nil {
		return FacetEntry{}, fmt.Errorf("load existing facet: %w", err)
	}
	existing.Synonyms = decodeStrings(synRaw)
	existing.GlobalID = globalRaw.String
	return existing, nil
}

// UpsertPersonFacet records that a person exhibited a facet in an interview.
func (s *Store) UpsertPersonFacet(ctx context.Context, personID, facetID, interviewID string) error {
	_, err := s.execWithRetry(ctx, `INSERT INTO person_facets (person_id, facet_id, interview_id)
		VALUES (?, ?, ?) ON CONFLICT DO NOTHING`, personID, facetID, interviewID)
	if err != nil {
		return fmt.Errorf("upsert person facet: %w", err)
	}
	return nil
}

// ListPersonFacets returns facet ids recorded for a person.
func (s *Store) ListPersonFacets(ctx context.Context, personID string) ([]string, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT DISTINCT facet_id FROM person_facets WHERE person_id = ? ORDER BY facet_id`, personID)
	if err != nil {
		return nil, fmt.Errorf("list person facets: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
