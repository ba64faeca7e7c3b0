package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const workflowStateKey = "workflow_state"

// AnalysisRecord pairs an interview with its progress document.
type AnalysisRecord struct {
	InterviewID string
	Status      InterviewStatus
	UpdatedAt   time.Time
	Analysis    Analysis
}

// GetAnalysis returns the interview's progress document. The boolean is false
// when nothing has been written yet.
func (s *Store) GetAnalysis(ctx context.Context, interviewID string) (Analysis, bool, error) {
	raw, err := s.readDocument(ctx, nil, "analysis_json", interviewID)
	if err != nil {
		return Analysis{}, false, err
	}
	if raw == "" {
		return Analysis{}, false, nil
	}
	var analysis Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return Analysis{}, false, fmt.Errorf("decode analysis for %s: %w", interviewID, err)
	}
	return analysis, true, nil
}

// MergeAnalysis merges patch into the progress document. Keys absent from
// patch keep their stored values; the workflow_state key is merged one level
// deeper so steps only overwrite the state fields they send.
func (s *Store) MergeAnalysis(ctx context.Context, interviewID string, patch map[string]any) error {
	encoded, err := encodePatch(patch)
	if err != nil {
		return err
	}
	return s.mergeDocument(ctx, "analysis_json", interviewID, encoded, workflowStateKey)
}

// LoadWorkflowState returns the raw workflow_state object.
func (s *Store) LoadWorkflowState(ctx context.Context, interviewID string) (json.RawMessage, bool, error) {
	raw, err := s.readDocument(ctx, nil, "analysis_json", interviewID)
	if err != nil {
		return nil, false, err
	}
	if raw == "" {
		return nil, false, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("decode analysis for %s: %w", interviewID, err)
	}
	state, ok := doc[workflowStateKey]
	if !ok || len(state) == 0 || bytes.Equal(state, []byte("null")) {
		return nil, false, nil
	}
	return state, true, nil
}

// MergeWorkflowState merges a partial workflow_state object into the stored one.
func (s *Store) MergeWorkflowState(ctx context.Context, interviewID string, partial json.RawMessage) error {
	if len(partial) == 0 {
		return nil
	}
	return s.mergeDocument(ctx, "analysis_json", interviewID,
		map[string]json.RawMessage{workflowStateKey: partial}, workflowStateKey)
}

// GetProcessingMetadata returns the run bookkeeping document.
func (s *Store) GetProcessingMetadata(ctx context.Context, interviewID string) (map[string]any, error) {
	raw, err := s.readDocument(ctx, nil, "processing_metadata", interviewID)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode processing metadata for %s: %w", interviewID, err)
	}
	return out, nil
}

// MergeProcessingMetadata merges run bookkeeping (current step, idempotency
// key, last error) into the interview.
func (s *Store) MergeProcessingMetadata(ctx context.Context, interviewID string, patch map[string]any) error {
	encoded, err := encodePatch(patch)
	if err != nil {
		return err
	}
	return s.mergeDocument(ctx, "processing_metadata", interviewID, encoded, "")
}

// ListAnalysesUpdatedSince returns interviews with a progress document that
// changed at or after since, oldest first.
func (s *Store) ListAnalysesUpdatedSince(ctx context.Context, since time.Time, limit int) ([]AnalysisRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT id, status, updated_at, analysis_json FROM interviews
		WHERE analysis_json IS NOT NULL AND updated_at >= ?
		ORDER BY updated_at ASC LIMIT ?`, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		var (
			rec        AnalysisRecord
			status     string
			updatedRaw string
			raw        string
		)
		if err := rows.Scan(&rec.InterviewID, &status, &updatedRaw, &raw); err != nil {
			return nil, err
		}
		rec.Status = InterviewStatus(status)
		if t, err := parseTimeString(updatedRaw); err == nil {
			rec.UpdatedAt = t
		}
		if err := json.Unmarshal([]byte(raw), &rec.Analysis); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func encodePatch(patch map[string]any) (map[string]json.RawMessage, error) {
	encoded := make(map[string]json.RawMessage, len(patch))
	for key, value := range patch {
		if raw, ok := value.(json.RawMessage); ok {
			encoded[key] = raw
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		encoded[key] = data
	}
	return encoded, nil
}

func (s *Store) readDocument(ctx context.Context, tx *sql.Tx, column, interviewID string) (string, error) {
	query := `SELECT ` + column + ` FROM interviews WHERE id = ?`
	var raw sql.NullString
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ensureContext(ctx), query, interviewID).Scan(&raw)
	} else {
		err = s.db.QueryRowContext(ensureContext(ctx), query, interviewID).Scan(&raw)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("interview %s: %w", interviewID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", column, err)
	}
	return raw.String, nil
}

func (s *Store) mergeDocument(ctx context.Context, column, interviewID string, patch map[string]json.RawMessage, nestedKey string) error {
	if len(patch) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		raw, err := s.readDocument(ctx, tx, column, interviewID)
		if err != nil {
			return err
		}
		merged, err := mergeJSONObject(raw, patch, nestedKey)
		if err != nil {
			return fmt.Errorf("merge %s for %s: %w", column, interviewID, err)
		}
		if merged == raw {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE interviews SET `+column+` = ?, updated_at = ? WHERE id = ?`,
			merged, s.timestamp(), interviewID)
		return err
	})
}

// mergeJSONObject overlays patch onto the JSON object in raw. When nestedKey
// is set, that key's object value is itself merged rather than replaced.
func mergeJSONObject(raw string, patch map[string]json.RawMessage, nestedKey string) (string, error) {
	doc := map[string]json.RawMessage{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return "", err
		}
		if doc == nil {
			doc = map[string]json.RawMessage{}
		}
	}
	for key, value := range patch {
		if nestedKey != "" && key == nestedKey {
			nested, err := mergeJSONObject(string(doc[key]), decodeObject(value), "")
			if err != nil {
				return "", err
			}
			doc[key] = json.RawMessage(nested)
			continue
		}
		doc[key] = value
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeObject(value json.RawMessage) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(value, &out); err != nil || out == nil {
		return map[string]json.RawMessage{}
	}
	return out
}
