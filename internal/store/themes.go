package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// ListThemes returns a project's themes ordered by creation.
func (s *Store) ListThemes(ctx context.Context, projectID string) ([]Theme, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT id, project_id, name, statement, inclusion_criteria,
		synonyms_json, embedding_json, updated_at FROM themes WHERE project_id = ? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()
	var out []Theme
	for rows.Next() {
		var (
			th         Theme
			statement  sql.NullString
			criteria   sql.NullString
			synonyms   sql.NullString
			embedding  sql.NullString
			updatedRaw string
		)
		if err := rows.Scan(&th.ID, &th.ProjectID, &th.Name, &statement, &criteria, &synonyms, &embedding, &updatedRaw); err != nil {
			return nil, err
		}
		th.Statement = statement.String
		th.InclusionCriteria = criteria.String
		th.Synonyms = decodeStrings(synonyms)
		if embedding.Valid && embedding.String != "" {
			_ = json.Unmarshal([]byte(embedding.String), &th.Embedding)
		}
		if t, err := parseTimeString(updatedRaw); err == nil {
			th.UpdatedAt = t
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// InsertTheme creates a theme. A theme with the same project and name is
// returned unchanged instead of creating a second row.
func (s *Store) InsertTheme(ctx context.Context, th Theme) (Theme, bool, error) {
	if th.ID == "" {
		th.ID = uuid.NewString()
	}
	synonyms, err := encodeJSON(th.Synonyms)
	if err != nil {
		return Theme{}, false, err
	}
	embedding, err := encodeJSON(th.Embedding)
	if err != nil {
		return Theme{}, false, err
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx, `INSERT INTO themes (
		id, project_id, name, statement, inclusion_criteria, synonyms_json, embedding_json, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(project_id, name) DO NOTHING`,
		th.ID, th.ProjectID, th.Name, nullableString(th.Statement), nullableString(th.InclusionCriteria),
		synonyms, embedding, now, now)
	if err != nil {
		return Theme{}, false, fmt.Errorf("insert theme: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return th, true, nil
	}
	themes, err := s.ListThemes(ctx, th.ProjectID)
	if err != nil {
		return Theme{}, false, err
	}
	for _, existing := range themes {
		if existing.Name == th.Name {
			return existing, false, nil
		}
	}
	return Theme{}, false, fmt.Errorf("theme %q: %w", th.Name, ErrNotFound)
}

// UpdateThemeStatement replaces a theme's statement and inclusion criteria.
func (s *Store) UpdateThemeStatement(ctx context.Context, id, statement, criteria string) error {
	_, err := s.execWithRetry(ctx, `UPDATE themes SET statement = COALESCE(?, statement),
		inclusion_criteria = COALESCE(?, inclusion_criteria), updated_at = ? WHERE id = ?`,
		nullableString(statement), nullableString(criteria), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update theme statement: %w", err)
	}
	return nil
}

// AddThemeSynonym appends a synonym when it is not already recorded.
func (s *Store) AddThemeSynonym(ctx context.Context, id, synonym string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw sql.NullString
		if err := tx.QueryRowContext(ctx, `SELECT synonyms_json FROM themes WHERE id = ?`, id).Scan(&raw); err != nil {
			return fmt.Errorf("load theme synonyms: %w", err)
		}
		synonyms := decodeStrings(raw)
		if slices.Contains(synonyms, synonym) {
			return nil
		}
		synonyms = append(synonyms, synonym)
		encoded, err := json.Marshal(synonyms)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE themes SET synonyms_json = ?, updated_at = ? WHERE id = ?`,
			string(encoded), s.timestamp(), id)
		return err
	})
}

// UpsertThemeEvidence links evidence to a theme, keeping the latest confidence.
func (s *Store) UpsertThemeEvidence(ctx context.Context, links []ThemeEvidence) error {
	if len(links) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, link := range links {
			if _, err := tx.ExecContext(ctx, `INSERT INTO theme_evidence (theme_id, evidence_id, confidence)
				VALUES (?, ?, ?) ON CONFLICT(theme_id, evidence_id) DO UPDATE SET confidence = excluded.confidence`,
				link.ThemeID, link.EvidenceID, link.Confidence); err != nil {
				return fmt.Errorf("upsert theme evidence: %w", err)
			}
		}
		return nil
	})
}

// ListThemeEvidence returns the evidence links for a theme.
func (s *Store) ListThemeEvidence(ctx context.Context, themeID string) ([]ThemeEvidence, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT theme_id, evidence_id, confidence FROM theme_evidence WHERE theme_id = ? ORDER BY confidence DESC`, themeID)
	if err != nil {
		return nil, fmt.Errorf("list theme evidence: %w", err)
	}
	defer rows.Close()
	var out []ThemeEvidence
	for rows.Next() {
		var link ThemeEvidence
		if err := rows.Scan(&link.ThemeID, &link.EvidenceID, &link.Confidence); err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}
