package store

import (
	"encoding/json"
	"time"
)

// InterviewStatus tracks where an interview sits in the pipeline.
type InterviewStatus string

const (
	StatusUploaded     InterviewStatus = "uploaded"
	StatusTranscribing InterviewStatus = "transcribing"
	StatusProcessing   InterviewStatus = "processing"
	StatusReady        InterviewStatus = "ready"
	StatusError        InterviewStatus = "error"
)

// Interview is the unit of work the pipeline processes.
type Interview struct {
	ID                  string
	AccountID           string
	ProjectID           string
	Title               string
	Status              InterviewStatus
	SourcePath          string
	MediaPath           string
	ParticipantName     string
	Transcript          string
	TranscriptJSON      string
	Language            string
	DurationSeconds     float64
	InteractionContext  string
	ContextConfidence   *float64
	SpeakerReviewNeeded bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Analysis is the persisted progress document polled by callers.
type Analysis struct {
	WorkflowState  json.RawMessage `json:"workflow_state,omitempty"`
	CompletedSteps []string        `json:"completed_steps,omitempty"`
	CurrentStep    string          `json:"current_step,omitempty"`
	Progress       int             `json:"progress"`
	StatusDetail   string          `json:"status_detail,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	EvidenceCount  *int            `json:"evidence_count,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
}

// Person is the durable identity record.
type Person struct {
	ID           string
	AccountID    string
	ProjectID    string
	Name         string
	FirstName    string
	LastName     string
	Role         string
	Organization string
	Segment      string
	Description  string
	IsInternal   bool
	CreatedAt    time.Time
}

// InterviewPerson links a durable person to one interview's speaker.
type InterviewPerson struct {
	InterviewID   string
	PersonID      string
	Role          string
	TranscriptKey string
	DisplayName   string
}

// Anchor pins an evidence unit to a playback position.
type Anchor struct {
	StartMS  int64  `json:"start_ms"`
	MediaKey string `json:"media_key,omitempty"`
}

// Evidence is a persisted, attributable quote.
type Evidence struct {
	ID              string
	InterviewID     string
	ProjectID       string
	Position        int
	Verbatim        string
	Chunk           string
	Gist            string
	Topic           string
	Confidence      string
	WeightQuality   float64
	WeightRelevance float64
	IndependenceKey string
	IsQuestion      bool
	Anchors         []Anchor
}

// EvidencePerson records who said an evidence unit.
type EvidencePerson struct {
	EvidenceID string
	PersonID   string
	Role       string
}

// EvidenceFacet is a facet mention attached to an evidence unit.
type EvidenceFacet struct {
	EvidenceID string
	FacetID    string
	PersonID   string
	KindSlug   string
	Label      string
	Confidence float64
	Quote      string
}

// FacetEntry is a catalog row. An empty AccountID marks a global entry.
type FacetEntry struct {
	ID              string
	AccountID       string
	KindSlug        string
	Label           string
	NormalizedLabel string
	Synonyms        []string
	GlobalID        string
}

// Theme groups related insights across interviews in a project.
type Theme struct {
	ID                string
	ProjectID         string
	Name              string
	Statement         string
	InclusionCriteria string
	Synonyms          []string
	Embedding         []float32
	UpdatedAt         time.Time
}

// ThemeEvidence links a theme to a supporting evidence unit.
type ThemeEvidence struct {
	ThemeID    string
	EvidenceID string
	Confidence float64
}

// Persona is a project-level archetype people are assigned to.
type Persona struct {
	ID          string
	ProjectID   string
	Name        string
	Description string
}

// Question is a project research question answered per interview.
type Question struct {
	ID        string
	ProjectID string
	Question  string
	Position  int
}

// Answer is the per-interview answer to a project question.
type Answer struct {
	ID          string
	QuestionID  string
	InterviewID string
	Answer      string
	Confidence  float64
	EvidenceIDs []string
}

// Task is a hygiene item raised for a human to review.
type Task struct {
	ID          string
	ProjectID   string
	InterviewID string
	Kind        string
	Title       string
	Status      string
}

// JobStatus tracks a queued orchestrator run.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is a persisted request to run the orchestrator for one interview.
type Job struct {
	ID             string
	InterviewID    string
	IdempotencyKey string
	ResumeFrom     string
	SkipSteps      []string
	Instructions   string
	Status         JobStatus
	Attempts       int
	LastError      string
	HeartbeatAt    *time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobStats summarizes the job queue.
type JobStats struct {
	Pending int
	Running int
	Done    int
	Failed  int
}
