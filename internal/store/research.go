package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// UpsertPersona returns the persona with the given name, creating it when absent.
func (s *Store) UpsertPersona(ctx context.Context, projectID, name, description string) (Persona, error) {
	id := uuid.NewString()
	if _, err := s.execWithRetry(ctx, `INSERT INTO personas (id, project_id, name, description, created_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT(project_id, name) DO UPDATE SET
		description = COALESCE(personas.description, excluded.description)`,
		id, projectID, name, nullableString(description), s.timestamp()); err != nil {
		return Persona{}, fmt.Errorf("upsert persona: %w", err)
	}
	var (
		p    Persona
		desc sql.NullString
	)
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT id, project_id, name, description FROM personas
		WHERE project_id = ? AND name = ?`, projectID, name).Scan(&p.ID, &p.ProjectID, &p.Name, &desc); err != nil {
		return Persona{}, fmt.Errorf("load persona: %w", err)
	}
	p.Description = desc.String
	return p, nil
}

// ListPersonas returns a project's personas.
func (s *Store) ListPersonas(ctx context.Context, projectID string) ([]Persona, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, project_id, name, description FROM personas WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()
	var out []Persona
	for rows.Next() {
		var (
			p    Persona
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &desc); err != nil {
			return nil, err
		}
		p.Description = desc.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// LinkPersonaPerson assigns a person to a persona for one interview.
func (s *Store) LinkPersonaPerson(ctx context.Context, personaID, personID, interviewID string, confidence float64) error {
	_, err := s.execWithRetry(ctx, `INSERT INTO persona_people (persona_id, person_id, interview_id, confidence)
		VALUES (?, ?, ?, ?) ON CONFLICT(persona_id, person_id, interview_id) DO UPDATE SET confidence = excluded.confidence`,
		personaID, personID, interviewID, confidence)
	if err != nil {
		return fmt.Errorf("link persona person: %w", err)
	}
	return nil
}

// AddQuestion registers a project research question.
func (s *Store) AddQuestion(ctx context.Context, projectID, question string, position int) (Question, error) {
	id := uuid.NewString()
	if _, err := s.execWithRetry(ctx, `INSERT INTO project_questions (id, project_id, question, position)
		VALUES (?, ?, ?, ?) ON CONFLICT(project_id, question) DO NOTHING`, id, projectID, question, position); err != nil {
		return Question{}, fmt.Errorf("add question: %w", err)
	}
	var q Question
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT id, project_id, question, position FROM project_questions
		WHERE project_id = ? AND question = ?`, projectID, question).Scan(&q.ID, &q.ProjectID, &q.Question, &q.Position); err != nil {
		return Question{}, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

// ListQuestions returns a project's research questions in display order.
func (s *Store) ListQuestions(ctx context.Context, projectID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT id, project_id, question, position FROM project_questions
		WHERE project_id = ? ORDER BY position ASC, question ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.ProjectID, &q.Question, &q.Position); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpsertAnswer stores the answer to a question for one interview.
func (s *Store) UpsertAnswer(ctx context.Context, a Answer) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	evidenceIDs, err := encodeJSON(a.EvidenceIDs)
	if err != nil {
		return "", err
	}
	if _, err := s.execWithRetry(ctx, `INSERT INTO answers (id, question_id, interview_id, answer, confidence, evidence_ids_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(question_id, interview_id) DO UPDATE SET
		answer = excluded.answer, confidence = excluded.confidence,
		evidence_ids_json = excluded.evidence_ids_json, updated_at = excluded.updated_at`,
		a.ID, a.QuestionID, a.InterviewID, a.Answer, a.Confidence, evidenceIDs, s.timestamp()); err != nil {
		return "", fmt.Errorf("upsert answer: %w", err)
	}
	var id string
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT id FROM answers WHERE question_id = ? AND interview_id = ?`,
		a.QuestionID, a.InterviewID).Scan(&id); err != nil {
		return "", fmt.Errorf("load answer: %w", err)
	}
	return id, nil
}

// ListAnswers returns the answers recorded for an interview.
func (s *Store) ListAnswers(ctx context.Context, interviewID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT id, question_id, interview_id, answer, confidence, evidence_ids_json
		FROM answers WHERE interview_id = ? ORDER BY question_id`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()
	var out []Answer
	for rows.Next() {
		var (
			a          Answer
			confidence sql.NullFloat64
			ids        sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.InterviewID, &a.Answer, &confidence, &ids); err != nil {
			return nil, err
		}
		a.Confidence = confidence.Float64
		a.EvidenceIDs = decodeStrings(ids)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateTask raises a hygiene task. Only one task of a kind exists per interview.
func (s *Store) CreateTask(ctx context.Context, task Task) (bool, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = "open"
	}
	res, err := s.execWithRetry(ctx, `INSERT INTO tasks (id, project_id, interview_id, kind, title, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(interview_id, kind) DO NOTHING`,
		task.ID, task.ProjectID, nullableString(task.InterviewID), task.Kind, task.Title, task.Status, s.timestamp())
	if err != nil {
		return false, fmt.Errorf("create task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListTasks returns tasks for an interview.
func (s *Store) ListTasks(ctx context.Context, interviewID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT id, project_id, interview_id, kind, title, status
		FROM tasks WHERE interview_id = ? ORDER BY created_at`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var (
			t  Task
			iv sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.ProjectID, &iv, &t.Kind, &t.Title, &t.Status); err != nil {
			return nil, err
		}
		t.InterviewID = iv.String
		out = append(out, t)
	}
	return out, rows.Err()
}
