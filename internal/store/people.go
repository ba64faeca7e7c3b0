package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const personColumns = "id, account_id, project_id, name, first_name, last_name, role, organization, segment, description, is_internal, created_at"

func scanPerson(scanner rowScanner) (*Person, error) {
	var (
		p          Person
		first      sql.NullString
		last       sql.NullString
		role       sql.NullString
		org        sql.NullString
		segment    sql.NullString
		desc       sql.NullString
		internal   int
		createdRaw string
	)
	if err := scanner.Scan(&p.ID, &p.AccountID, &p.ProjectID, &p.Name, &first, &last, &role, &org, &segment, &desc, &internal, &createdRaw); err != nil {
		return nil, err
	}
	p.FirstName = first.String
	p.LastName = last.String
	p.Role = role.String
	p.Organization = org.String
	p.Segment = segment.String
	p.Description = desc.String
	p.IsInternal = internal != 0
	if t, err := parseTimeString(createdRaw); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

// NameKey is the normalized form used to match people by name.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// GetPerson fetches a person by ID.
func (s *Store) GetPerson(ctx context.Context, id string) (*Person, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+personColumns+` FROM people WHERE id = ?`, id)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("person %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

// FindPeopleByName returns account people whose normalized name matches.
func (s *Store) FindPeopleByName(ctx context.Context, accountID, name string) ([]*Person, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+personColumns+` FROM people WHERE account_id = ? AND name_key = ? ORDER BY created_at ASC`,
		accountID, NameKey(name))
	if err != nil {
		return nil, fmt.Errorf("find people: %w", err)
	}
	defer rows.Close()
	var out []*Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertPerson creates a person, or returns the existing row that already
// holds the same account, name, and organization.
func (s *Store) InsertPerson(ctx context.Context, p *Person) (*Person, bool, error) {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return nil, false, errors.New("insert person: name required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx, `INSERT INTO people (
		id, account_id, project_id, name, name_key, first_name, last_name, role, organization,
		organization_key, segment, description, is_internal, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(account_id, name_key, organization_key) DO NOTHING`,
		p.ID, p.AccountID, p.ProjectID, strings.TrimSpace(p.Name), NameKey(p.Name),
		nullableString(p.FirstName), nullableString(p.LastName), nullableString(p.Role),
		nullableString(p.Organization), NameKey(p.Organization), nullableString(p.Segment),
		nullableString(p.Description), boolToInt(p.IsInternal), now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert person: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		created, err := s.GetPerson(ctx, p.ID)
		return created, true, err
	}
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+personColumns+` FROM people WHERE account_id = ? AND name_key = ? AND organization_key = ?`,
		p.AccountID, NameKey(p.Name), NameKey(p.Organization))
	existing, err := scanPerson(row)
	if err != nil {
		return nil, false, fmt.Errorf("load existing person: %w", err)
	}
	return existing, false, nil
}

// SetPersonOrganization fills an organization on a person that has none.
func (s *Store) SetPersonOrganization(ctx context.Context, id, organization string) error {
	_, err := s.execWithRetry(ctx, `UPDATE people SET organization = ?, organization_key = ?, updated_at = ?
		WHERE id = ? AND (organization IS NULL OR organization = '')`,
		organization, NameKey(organization), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("set person organization: %w", err)
	}
	return nil
}

// EnrichPerson fills description, role, and segment where they are empty.
// It returns true when any column changed.
func (s *Store) EnrichPerson(ctx context.Context, id, description, role, segment string) (bool, error) {
	res, err := s.execWithRetry(ctx, `UPDATE people SET
		description = CASE WHEN (description IS NULL OR description = '') AND ? != '' THEN ? ELSE description END,
		role = CASE WHEN (role IS NULL OR role = '') AND ? != '' THEN ? ELSE role END,
		segment = CASE WHEN (segment IS NULL OR segment = '') AND ? != '' THEN ? ELSE segment END,
		updated_at = ?
		WHERE id = ? AND (
			((description IS NULL OR description = '') AND ? != '') OR
			((role IS NULL OR role = '') AND ? != '') OR
			((segment IS NULL OR segment = '') AND ? != ''))`,
		description, description, role, role, segment, segment, s.timestamp(), id,
		description, role, segment)
	if err != nil {
		return false, fmt.Errorf("enrich person: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListInterviewPeople returns the people linked to an interview.
func (s *Store) ListInterviewPeople(ctx context.Context, interviewID string) ([]InterviewPerson, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT interview_id, person_id, role, transcript_key, display_name
		FROM interview_people WHERE interview_id = ? ORDER BY created_at ASC, person_id ASC`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("list interview people: %w", err)
	}
	defer rows.Close()
	var out []InterviewPerson
	for rows.Next() {
		var (
			link    InterviewPerson
			role    sql.NullString
			key     sql.NullString
			display sql.NullString
		)
		if err := rows.Scan(&link.InterviewID, &link.PersonID, &role, &key, &display); err != nil {
			return nil, err
		}
		link.Role = role.String
		link.TranscriptKey = key.String
		link.DisplayName = display.String
		out = append(out, link)
	}
	return out, rows.Err()
}

// UpsertInterviewPerson inserts or updates the (interview, person) link. An
// empty transcript key keeps the stored one.
func (s *Store) UpsertInterviewPerson(ctx context.Context, link InterviewPerson) error {
	now := s.timestamp()
	_, err := s.execWithRetry(ctx, `INSERT INTO interview_people (
		interview_id, person_id, role, transcript_key, display_name, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(interview_id, person_id) DO UPDATE SET
		role = COALESCE(excluded.role, interview_people.role),
		transcript_key = COALESCE(excluded.transcript_key, interview_people.transcript_key),
		display_name = COALESCE(excluded.display_name, interview_people.display_name),
		updated_at = excluded.updated_at`,
		link.InterviewID, link.PersonID, nullableString(link.Role), nullableString(link.TranscriptKey),
		nullableString(link.DisplayName), now, now)
	if err != nil {
		return fmt.Errorf("upsert interview person: %w", err)
	}
	return nil
}
