package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EvidenceBundle is everything one extraction run persists for an interview.
type EvidenceBundle struct {
	Evidence []Evidence
	People   []EvidencePerson
	Facets   []EvidenceFacet
}

// evidenceChildTables hold rows keyed by evidence id. They are cleared
// explicitly so a replace never depends on cascade enforcement.
var evidenceChildTables = []string{"evidence_people", "evidence_facet", "theme_evidence"}

// ReplaceEvidence deletes all evidence for the interview and inserts the
// bundle in one transaction. Evidence rows without an ID get a UUID, and
// links may reference evidence by the assigned ID.
func (s *Store) ReplaceEvidence(ctx context.Context, interviewID string, bundle EvidenceBundle) ([]string, error) {
	ids := make([]string, len(bundle.Evidence))
	for i := range bundle.Evidence {
		if bundle.Evidence[i].ID == "" {
			bundle.Evidence[i].ID = uuid.NewString()
		}
		ids[i] = bundle.Evidence[i].ID
	}
	now := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range evidenceChildTables {
			query := `DELETE FROM ` + table + ` WHERE evidence_id IN (SELECT id FROM evidence WHERE interview_id = ?)`
			if _, err := tx.ExecContext(ctx, query, interviewID); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM evidence WHERE interview_id = ?`, interviewID); err != nil {
			return fmt.Errorf("delete evidence: %w", err)
		}
		for i, ev := range bundle.Evidence {
			anchors, err := encodeJSON(ev.Anchors)
			if err != nil {
				return err
			}
			if len(ev.Anchors) == 0 {
				anchors = nil
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO evidence (
				id, interview_id, project_id, position, verbatim, chunk, gist, topic, confidence,
				weight_quality, weight_relevance, independence_key, is_question, anchors_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				ev.ID, interviewID, ev.ProjectID, i, ev.Verbatim, nullableString(ev.Chunk), nullableString(ev.Gist),
				nullableString(ev.Topic), nullableString(ev.Confidence), ev.WeightQuality, ev.WeightRelevance,
				nullableString(ev.IndependenceKey), boolToInt(ev.IsQuestion), anchors, now,
			); err != nil {
				return fmt.Errorf("insert evidence %d: %w", i, err)
			}
		}
		for _, link := range bundle.People {
			role := link.Role
			if role == "" {
				role = "speaker"
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO evidence_people (evidence_id, person_id, role)
				VALUES (?, ?, ?) ON CONFLICT(evidence_id, person_id) DO UPDATE SET role = excluded.role`,
				link.EvidenceID, link.PersonID, role); err != nil {
				return fmt.Errorf("insert evidence person: %w", err)
			}
		}
		for _, facet := range bundle.Facets {
			if _, err := tx.ExecContext(ctx, `INSERT INTO evidence_facet (
				evidence_id, facet_id, person_id, kind_slug, label, confidence, quote
			) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(evidence_id, facet_id) DO NOTHING`,
				facet.EvidenceID, facet.FacetID, nullableString(facet.PersonID), facet.KindSlug,
				facet.Label, facet.Confidence, nullableString(facet.Quote)); err != nil {
				return fmt.Errorf("insert evidence facet: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListEvidence returns an interview's evidence in extraction order.
func (s *Store) ListEvidence(ctx context.Context, interviewID string) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT id, interview_id, project_id, position, verbatim,
		chunk, gist, topic, confidence, weight_quality, weight_relevance, independence_key, is_question, anchors_json
		FROM evidence WHERE interview_id = ? ORDER BY position ASC`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()
	var out []Evidence
	for rows.Next() {
		var (
			ev         Evidence
			chunk      sql.NullString
			gist       sql.NullString
			topic      sql.NullString
			confidence sql.NullString
			quality    sql.NullFloat64
			relevance  sql.NullFloat64
			indep      sql.NullString
			isQuestion int
			anchors    sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.InterviewID, &ev.ProjectID, &ev.Position, &ev.Verbatim,
			&chunk, &gist, &topic, &confidence, &quality, &relevance, &indep, &isQuestion, &anchors); err != nil {
			return nil, err
		}
		ev.Chunk = chunk.String
		ev.Gist = gist.String
		ev.Topic = topic.String
		ev.Confidence = confidence.String
		ev.WeightQuality = quality.Float64
		ev.WeightRelevance = relevance.Float64
		ev.IndependenceKey = indep.String
		ev.IsQuestion = isQuestion != 0
		if anchors.Valid && anchors.String != "" {
			_ = json.Unmarshal([]byte(anchors.String), &ev.Anchors)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListEvidencePeople returns the speaker links for an interview's evidence.
func (s *Store) ListEvidencePeople(ctx context.Context, interviewID string) ([]EvidencePerson, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT ep.evidence_id, ep.person_id, ep.role
		FROM evidence_people ep JOIN evidence e ON e.id = ep.evidence_id
		WHERE e.interview_id = ? ORDER BY e.position ASC, ep.person_id ASC`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("list evidence people: %w", err)
	}
	defer rows.Close()
	var out []EvidencePerson
	for rows.Next() {
		var link EvidencePerson
		if err := rows.Scan(&link.EvidenceID, &link.PersonID, &link.Role); err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

// ListEvidenceFacets returns facet mentions for an interview's evidence.
func (s *Store) ListEvidenceFacets(ctx context.Context, interviewID string) ([]EvidenceFacet, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT ef.evidence_id, ef.facet_id, ef.person_id, ef.kind_slug,
		ef.label, ef.confidence, ef.quote
		FROM evidence_facet ef JOIN evidence e ON e.id = ef.evidence_id
		WHERE e.interview_id = ? ORDER BY e.position ASC, ef.facet_id ASC`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("list evidence facets: %w", err)
	}
	defer rows.Close()
	var out []EvidenceFacet
	for rows.Next() {
		var (
			f          EvidenceFacet
			personID   sql.NullString
			confidence sql.NullFloat64
			quote      sql.NullString
		)
		if err := rows.Scan(&f.EvidenceID, &f.FacetID, &personID, &f.KindSlug, &f.Label, &confidence, &quote); err != nil {
			return nil, err
		}
		f.PersonID = personID.String
		f.Confidence = confidence.Float64
		f.Quote = quote.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetEvidenceFacetPerson overwrites the person on one facet mention.
func (s *Store) SetEvidenceFacetPerson(ctx context.Context, evidenceID, facetID, personID string) error {
	_, err := s.execWithRetry(ctx, `UPDATE evidence_facet SET person_id = ? WHERE evidence_id = ? AND facet_id = ?`,
		nullableString(personID), evidenceID, facetID)
	if err != nil {
		return fmt.Errorf("set evidence facet person: %w", err)
	}
	return nil
}

// HealFacetPersons re-syncs facet mention person ids from evidence_people for
// an interview and returns the number of rows changed.
func (s *Store) HealFacetPersons(ctx context.Context, interviewID string) (int, error) {
	res, err := s.execWithRetry(ctx, `UPDATE evidence_facet SET person_id = (
			SELECT ep.person_id FROM evidence_people ep
			WHERE ep.evidence_id = evidence_facet.evidence_id
			ORDER BY ep.person_id LIMIT 1)
		WHERE evidence_id IN (SELECT id FROM evidence WHERE interview_id = ?)
		AND EXISTS (SELECT 1 FROM evidence_people ep WHERE ep.evidence_id = evidence_facet.evidence_id)
		AND person_id IS NOT (
			SELECT ep.person_id FROM evidence_people ep
			WHERE ep.evidence_id = evidence_facet.evidence_id
			ORDER BY ep.person_id LIMIT 1)`, interviewID)
	if err != nil {
		return 0, fmt.Errorf("heal facet persons: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountEvidence returns the number of evidence units for an interview.
func (s *Store) CountEvidence(ctx context.Context, interviewID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM evidence WHERE interview_id = ?`, interviewID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count evidence: %w", err)
	}
	return count, nil
}
