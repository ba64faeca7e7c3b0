package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobColumns = "id, interview_id, idempotency_key, resume_from, skip_steps_json, instructions, status, attempts, last_error, heartbeat_at, started_at, finished_at, created_at, updated_at"

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job          Job
		resumeFrom   sql.NullString
		skipSteps    sql.NullString
		instructions sql.NullString
		status       string
		lastError    sql.NullString
		heartbeat    sql.NullString
		started      sql.NullString
		finished     sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(&job.ID, &job.InterviewID, &job.IdempotencyKey, &resumeFrom, &skipSteps, &instructions,
		&status, &job.Attempts, &lastError, &heartbeat, &started, &finished, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	job.ResumeFrom = resumeFrom.String
	job.SkipSteps = decodeStrings(skipSteps)
	job.Instructions = instructions.String
	job.Status = JobStatus(status)
	job.LastError = lastError.String
	job.HeartbeatAt = parseTimePtr(heartbeat)
	job.StartedAt = parseTimePtr(started)
	job.FinishedAt = parseTimePtr(finished)
	if t, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

// JobRequest describes an orchestrator run to enqueue.
type JobRequest struct {
	InterviewID    string
	IdempotencyKey string
	ResumeFrom     string
	SkipSteps      []string
	Instructions   string
}

// EnqueueJob inserts a pending job. A request whose idempotency key was
// already used returns the existing job and false.
func (s *Store) EnqueueJob(ctx context.Context, req JobRequest) (*Job, bool, error) {
	if strings.TrimSpace(req.InterviewID) == "" {
		return nil, false, errors.New("enqueue job: interview id required")
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	skip, err := encodeJSON(req.SkipSteps)
	if err != nil {
		return nil, false, err
	}
	if len(req.SkipSteps) == 0 {
		skip = nil
	}
	id := uuid.NewString()
	now := s.timestamp()
	res, err := s.execWithRetry(ctx, `INSERT INTO jobs (
		id, interview_id, idempotency_key, resume_from, skip_steps_json, instructions, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(idempotency_key) DO NOTHING`,
		id, req.InterviewID, key, nullableString(req.ResumeFrom), skip, nullableString(req.Instructions),
		string(JobPending), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}
	created := false
	if n, _ := res.RowsAffected(); n > 0 {
		created = true
	}
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = ?`, key)
	job, err := scanJob(row)
	if err != nil {
		return nil, false, fmt.Errorf("load job: %w", err)
	}
	return job, created, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNextJob atomically moves the oldest pending job to running. Jobs for
// an interview that already has a running job are skipped so one interview's
// steps never run concurrently. Returns nil when nothing is claimable.
func (s *Store) ClaimNextJob(ctx context.Context) (*Job, error) {
	var claimed *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs j
			WHERE j.status = ? AND NOT EXISTS (
				SELECT 1 FROM jobs r WHERE r.interview_id = j.interview_id AND r.status = ?)
			ORDER BY j.created_at ASC, j.id ASC LIMIT 1`, string(JobPending), string(JobRunning))
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		now := s.timestamp()
		res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, attempts = attempts + 1, heartbeat_at = ?,
			started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(JobRunning), now, now, now, job.ID, string(JobPending))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		job.Status = JobRunning
		job.Attempts++
		claimed = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return claimed, nil
}

// UpdateJobHeartbeat records liveness for a running job.
func (s *Store) UpdateJobHeartbeat(ctx context.Context, id string) error {
	now := s.timestamp()
	if _, err := s.execWithRetry(ctx, `UPDATE jobs SET heartbeat_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now, now, id, string(JobRunning)); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// CompleteJob marks a job done.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	return s.finishJob(ctx, id, JobDone, "")
}

// FailJob marks a job failed with the error message.
func (s *Store) FailJob(ctx context.Context, id string, message string) error {
	return s.finishJob(ctx, id, JobFailed, message)
}

func (s *Store) finishJob(ctx context.Context, id string, status JobStatus, message string) error {
	now := s.timestamp()
	if _, err := s.execWithRetry(ctx, `UPDATE jobs SET status = ?, last_error = ?, finished_at = ?, heartbeat_at = NULL,
		updated_at = ? WHERE id = ?`, string(status), nullableString(message), now, now, id); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// ReclaimStaleJobs returns running jobs whose heartbeat expired to pending.
func (s *Store) ReclaimStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `UPDATE jobs SET status = ?, heartbeat_at = NULL, updated_at = ?
		WHERE status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)`,
		string(JobPending), s.timestamp(), string(JobRunning), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailedJobs moves failed jobs back to pending.
func (s *Store) RetryFailedJobs(ctx context.Context, ids ...string) (int64, error) {
	query := `UPDATE jobs SET status = ?, last_error = NULL, finished_at = NULL, updated_at = ? WHERE status = ?`
	args := []any{string(JobPending), s.timestamp(), string(JobFailed)}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		args = append(args, stringArgs(ids)...)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// ListJobs returns jobs for an interview, newest first. An empty interview
// ID lists recent jobs across all interviews.
func (s *Store) ListJobs(ctx context.Context, interviewID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if interviewID != "" {
		query += ` WHERE interview_id = ?`
		args = append(args, interviewID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// JobStats returns a count of jobs grouped by status.
func (s *Store) JobStats(ctx context.Context) (JobStats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()
	var stats JobStats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return JobStats{}, err
		}
		switch JobStatus(status) {
		case JobPending:
			stats.Pending = count
		case JobRunning:
			stats.Running = count
		case JobDone:
			stats.Done = count
		case JobFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// Ping verifies the database connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store unavailable")
	}
	pingCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()
	return s.db.PingContext(pingCtx)
}
