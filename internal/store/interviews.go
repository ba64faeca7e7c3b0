package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const interviewColumns = "id, account_id, project_id, title, status, source_path, media_path, participant_name, transcript, transcript_json, language, duration_seconds, interaction_context, context_confidence, speaker_review_needed, created_at, updated_at"

func scanInterview(scanner rowScanner) (*Interview, error) {
	var (
		iv              Interview
		status          string
		sourcePath      sql.NullString
		mediaPath       sql.NullString
		participantName sql.NullString
		transcript      sql.NullString
		transcriptJSON  sql.NullString
		language        sql.NullString
		duration        sql.NullFloat64
		interaction     sql.NullString
		confidence      sql.NullFloat64
		reviewNeeded    int
		createdRaw      string
		updatedRaw      string
	)
	if err := scanner.Scan(
		&iv.ID, &iv.AccountID, &iv.ProjectID, &iv.Title, &status,
		&sourcePath, &mediaPath, &participantName, &transcript, &transcriptJSON,
		&language, &duration, &interaction, &confidence, &reviewNeeded,
		&createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	iv.Status = InterviewStatus(status)
	iv.SourcePath = sourcePath.String
	iv.MediaPath = mediaPath.String
	iv.ParticipantName = participantName.String
	iv.Transcript = transcript.String
	iv.TranscriptJSON = transcriptJSON.String
	iv.Language = language.String
	iv.DurationSeconds = duration.Float64
	iv.InteractionContext = interaction.String
	if confidence.Valid {
		v := confidence.Float64
		iv.ContextConfidence = &v
	}
	iv.SpeakerReviewNeeded = reviewNeeded != 0
	if t, err := parseTimeString(createdRaw); err == nil {
		iv.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		iv.UpdatedAt = t
	}
	return &iv, nil
}

// CreateInterview inserts a new interview. An empty ID is filled with a UUID.
func (s *Store) CreateInterview(ctx context.Context, iv *Interview) (*Interview, error) {
	if iv == nil {
		return nil, errors.New("create interview: nil interview")
	}
	if strings.TrimSpace(iv.ID) == "" {
		iv.ID = uuid.NewString()
	}
	if iv.Status == "" {
		iv.Status = StatusUploaded
	}
	now := s.timestamp()
	_, err := s.execWithRetry(ctx, `INSERT INTO interviews (
		id, account_id, project_id, title, status, source_path, media_path, participant_name,
		transcript, transcript_json, language, duration_seconds, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iv.ID, iv.AccountID, iv.ProjectID, iv.Title, string(iv.Status),
		nullableString(iv.SourcePath), nullableString(iv.MediaPath), nullableString(iv.ParticipantName),
		nullableString(iv.Transcript), nullableString(iv.TranscriptJSON), nullableString(iv.Language),
		iv.DurationSeconds, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create interview: %w", err)
	}
	return s.GetInterview(ctx, iv.ID)
}

// GetInterview fetches an interview by ID.
func (s *Store) GetInterview(ctx context.Context, id string) (*Interview, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+interviewColumns+` FROM interviews WHERE id = ?`, id)
	iv, err := scanInterview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get interview: %w", err)
	}
	return iv, nil
}

// ListInterviews returns the most recently updated interviews first.
func (s *Store) ListInterviews(ctx context.Context, limit int) ([]*Interview, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+interviewColumns+` FROM interviews ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	defer rows.Close()
	var out []*Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// UpdateInterviewStatus sets the interview status.
func (s *Store) UpdateInterviewStatus(ctx context.Context, id string, status InterviewStatus) error {
	return s.updateInterview(ctx, id, `status = ?`, string(status))
}

// TranscriptUpdate carries transcription output for an interview.
type TranscriptUpdate struct {
	Transcript      string
	TranscriptJSON  string
	Language        string
	DurationSeconds float64
}

// UpdateTranscript stores the transcript text, raw timing JSON, and duration.
func (s *Store) UpdateTranscript(ctx context.Context, id string, update TranscriptUpdate) error {
	return s.updateInterview(ctx, id,
		`transcript = ?, transcript_json = ?, language = ?, duration_seconds = ?`,
		nullableString(update.Transcript), nullableString(update.TranscriptJSON),
		nullableString(update.Language), update.DurationSeconds,
	)
}

// SetInteractionContext stores the model's read of the conversation type.
func (s *Store) SetInteractionContext(ctx context.Context, id, interaction string, confidence *float64) error {
	return s.updateInterview(ctx, id, `interaction_context = ?, context_confidence = ?`,
		nullableString(interaction), nullableFloat(confidence))
}

// SetSpeakerReviewNeeded flags an interview whose speakers still carry placeholder labels.
func (s *Store) SetSpeakerReviewNeeded(ctx context.Context, id string, needed bool) error {
	return s.updateInterview(ctx, id, `speaker_review_needed = ?`, boolToInt(needed))
}

func (s *Store) updateInterview(ctx context.Context, id, assignments string, args ...any) error {
	args = append(args, s.timestamp(), id)
	res, err := s.execWithRetry(ctx, `UPDATE interviews SET `+assignments+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update interview %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}
	return nil
}
