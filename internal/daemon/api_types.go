package daemon

import (
	"time"

	"gleaner/internal/logging"
	"gleaner/internal/scheduler"
	"gleaner/internal/store"
	"gleaner/internal/workflow"
)

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	Running   bool           `json:"running"`
	PID       int            `json:"pid"`
	LockFile  string         `json:"lockFile"`
	Database  string         `json:"database"`
	InboxDir  string         `json:"inboxDir,omitempty"`
	NextSweep *time.Time     `json:"nextSweep,omitempty"`
	Workflow  WorkflowStatus `json:"workflow"`
}

// WorkflowStatus mirrors workflow.StatusSummary.
type WorkflowStatus struct {
	Running   bool                    `json:"running"`
	LastError string                  `json:"lastError,omitempty"`
	LastJob   *Job                    `json:"lastJob,omitempty"`
	Jobs      JobCounts               `json:"jobs"`
	Health    map[string]HealthStatus `json:"health,omitempty"`
}

// JobCounts is the job queue grouped by status.
type JobCounts struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// HealthStatus reports one dependency probe.
type HealthStatus struct {
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Job is the wire form of a queued run.
type Job struct {
	ID             string     `json:"id"`
	InterviewID    string     `json:"interviewId"`
	IdempotencyKey string     `json:"idempotencyKey"`
	ResumeFrom     string     `json:"resumeFrom,omitempty"`
	SkipSteps      []string   `json:"skipSteps,omitempty"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"lastError,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// SubmitRequest is the body of POST /api/jobs and /api/interviews/{id}/run.
type SubmitRequest struct {
	InterviewID    string   `json:"interviewId"`
	IdempotencyKey string   `json:"idempotencyKey"`
	ResumeFrom     string   `json:"resumeFrom"`
	SkipSteps      []string `json:"skipSteps"`
	Instructions   string   `json:"instructions"`
}

// SubmitResponse reports the queued job.
type SubmitResponse struct {
	Job     Job  `json:"job"`
	Created bool `json:"created"`
}

// RetryRequest selects failed jobs to requeue. Empty means all.
type RetryRequest struct {
	IDs []string `json:"ids"`
}

// InterviewResponse is the polled progress view of one interview.
type InterviewResponse struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Status              string   `json:"status"`
	CompletedSteps      []string `json:"completedSteps"`
	CurrentStep         string   `json:"currentStep,omitempty"`
	Progress            int      `json:"progress"`
	StatusDetail        string   `json:"statusDetail,omitempty"`
	LastError           string   `json:"lastError,omitempty"`
	EvidenceCount       *int     `json:"evidenceCount,omitempty"`
	SpeakerReviewNeeded bool     `json:"speakerReviewNeeded"`
	Jobs                []Job    `json:"jobs,omitempty"`
}

// SweepResponse mirrors scheduler.Report.
type SweepResponse struct {
	Scanned   int       `json:"scanned"`
	Eligible  int       `json:"eligible"`
	Enqueued  int       `json:"enqueued"`
	Duplicate int       `json:"duplicate"`
	Busy      int       `json:"busy"`
	Capped    bool      `json:"capped"`
	Bucket    time.Time `json:"bucket"`
}

// NotifyResponse reports a test notification attempt.
type NotifyResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// LogsResponse is one page of the log stream.
type LogsResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

func fromStatus(s Status) StatusResponse {
	resp := StatusResponse{
		Running:  s.Running,
		PID:      s.PID,
		LockFile: s.LockFilePath,
		Database: s.DatabasePath,
		InboxDir: s.InboxDir,
		Workflow: fromSummary(s.Workflow),
	}
	if !s.NextSweep.IsZero() {
		next := s.NextSweep
		resp.NextSweep = &next
	}
	return resp
}

func fromSummary(s workflow.StatusSummary) WorkflowStatus {
	out := WorkflowStatus{
		Running:   s.Running,
		LastError: s.LastError,
		Jobs: JobCounts{
			Pending: s.Jobs.Pending,
			Running: s.Jobs.Running,
			Done:    s.Jobs.Done,
			Failed:  s.Jobs.Failed,
		},
	}
	if s.LastJob != nil {
		job := fromJob(s.LastJob)
		out.LastJob = &job
	}
	if len(s.Health) > 0 {
		out.Health = make(map[string]HealthStatus, len(s.Health))
		for name, h := range s.Health {
			out.Health[name] = HealthStatus{Ready: h.Ready, Detail: h.Detail}
		}
	}
	return out
}

func fromJob(j *store.Job) Job {
	return Job{
		ID:             j.ID,
		InterviewID:    j.InterviewID,
		IdempotencyKey: j.IdempotencyKey,
		ResumeFrom:     j.ResumeFrom,
		SkipSteps:      j.SkipSteps,
		Status:         string(j.Status),
		Attempts:       j.Attempts,
		LastError:      j.LastError,
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
		CreatedAt:      j.CreatedAt,
	}
}

func fromJobs(jobs []*store.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, fromJob(j))
	}
	return out
}

func fromReport(r scheduler.Report) SweepResponse {
	return SweepResponse{
		Scanned:   r.Scanned,
		Eligible:  r.Eligible,
		Enqueued:  r.Enqueued,
		Duplicate: r.Duplicate,
		Busy:      r.Busy,
		Capped:    r.Capped,
		Bucket:    r.Bucket,
	}
}
