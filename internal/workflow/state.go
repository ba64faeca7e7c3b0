package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"gleaner/internal/evidence"
)

// State is the per-interview workflow document. Every field is omitted
// when zero, so a partial State only carries the fields a step produced.
// A nil slice means "not part of this update"; an empty slice is written
// and clears the stored list.
type State struct {
	InterviewID       string          `json:"interview_id,omitzero"`
	CompletedSteps    []Step          `json:"completed_steps,omitzero"`
	CurrentStep       Step            `json:"current_step,omitzero"`
	FullTranscript    string          `json:"full_transcript,omitzero"`
	Language          string          `json:"language,omitzero"`
	TranscriptData    json.RawMessage `json:"transcript_data,omitzero"`
	EvidenceIDs       []string        `json:"evidence_ids,omitzero"`
	EvidenceUnits     []evidence.Unit `json:"evidence_units,omitzero"`
	PersonID          string          `json:"person_id,omitzero"`
	PersonName        string          `json:"person_name,omitzero"`
	PersonIDs         []string        `json:"person_ids,omitzero"`
	InsightIDs        []string        `json:"insight_ids,omitzero"`
	PersonaIDs        []string        `json:"persona_ids,omitzero"`
	AnswerIDs         []string        `json:"answer_ids,omitzero"`
	EnrichedPersonIDs []string        `json:"enriched_person_ids,omitzero"`
	LastUpdated       time.Time       `json:"last_updated,omitzero"`
}

// Completed reports whether step is recorded as complete.
func (s *State) Completed(step Step) bool {
	return s != nil && slices.Contains(s.CompletedSteps, step)
}

// markCompleted records step once, keeping pipeline order.
func (s *State) markCompleted(step Step) {
	if s.Completed(step) {
		return
	}
	s.CompletedSteps = append(s.CompletedSteps, step)
	slices.SortStableFunc(s.CompletedSteps, func(a, b Step) int { return a.Index() - b.Index() })
}

// apply overlays the fields present in partial, mirroring the merge the
// store performs on the persisted document.
func (s *State) apply(partial State) {
	if partial.InterviewID != "" {
		s.InterviewID = partial.InterviewID
	}
	if partial.CompletedSteps != nil {
		s.CompletedSteps = slices.Clone(partial.CompletedSteps)
	}
	if partial.CurrentStep != "" {
		s.CurrentStep = partial.CurrentStep
	}
	if partial.FullTranscript != "" {
		s.FullTranscript = partial.FullTranscript
	}
	if partial.Language != "" {
		s.Language = partial.Language
	}
	if partial.TranscriptData != nil {
		s.TranscriptData = partial.TranscriptData
	}
	if partial.EvidenceIDs != nil {
		s.EvidenceIDs = partial.EvidenceIDs
	}
	if partial.EvidenceUnits != nil {
		s.EvidenceUnits = partial.EvidenceUnits
	}
	if partial.PersonID != "" {
		s.PersonID = partial.PersonID
	}
	if partial.PersonName != "" {
		s.PersonName = partial.PersonName
	}
	if partial.PersonIDs != nil {
		s.PersonIDs = partial.PersonIDs
	}
	if partial.InsightIDs != nil {
		s.InsightIDs = partial.InsightIDs
	}
	if partial.PersonaIDs != nil {
		s.PersonaIDs = partial.PersonaIDs
	}
	if partial.AnswerIDs != nil {
		s.AnswerIDs = partial.AnswerIDs
	}
	if partial.EnrichedPersonIDs != nil {
		s.EnrichedPersonIDs = partial.EnrichedPersonIDs
	}
	if !partial.LastUpdated.IsZero() {
		s.LastUpdated = partial.LastUpdated
	}
}

// DocumentStore persists the raw workflow_state object.
type DocumentStore interface {
	LoadWorkflowState(ctx context.Context, interviewID string) (json.RawMessage, bool, error)
	MergeWorkflowState(ctx context.Context, interviewID string, partial json.RawMessage) error
}

// StateStore is the only reader and writer of workflow state. Saves merge
// field by field; fields absent from the partial keep their stored value.
type StateStore struct {
	docs DocumentStore
}

func NewStateStore(docs DocumentStore) *StateStore {
	return &StateStore{docs: docs}
}

// Checkpoint merges partial into the state and writes the polled progress
// fields (completed_steps, current_step, progress, status_detail,
// last_error) in the same update. It requires a store that exposes the
// whole progress document.
func (s *StateStore) Checkpoint(ctx context.Context, interviewID string, partial State, surface map[string]any) error {
	docs, ok := s.docs.(AnalysisStore)
	if !ok {
		return s.Save(ctx, interviewID, partial)
	}
	raw, err := encodeState(partial)
	if err != nil {
		return err
	}
	patch := make(map[string]any, len(surface)+1)
	maps.Copy(patch, surface)
	patch["workflow_state"] = raw
	if err := docs.MergeAnalysis(ctx, interviewID, patch); err != nil {
		return fmt.Errorf("checkpoint workflow state: %w", err)
	}
	return nil
}

// Load returns the stored state. The boolean is false when none exists.
func (s *StateStore) Load(ctx context.Context, interviewID string) (*State, bool, error) {
	raw, ok, err := s.docs.LoadWorkflowState(ctx, interviewID)
	if err != nil {
		return nil, false, fmt.Errorf("load workflow state: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("decode workflow state for %s: %w", interviewID, err)
	}
	return &state, true, nil
}

// Save merges partial into the stored state. Saving the same partial twice
// leaves the document unchanged after the first write.
func (s *StateStore) Save(ctx context.Context, interviewID string, partial State) error {
	raw, err := encodeState(partial)
	if err != nil {
		return err
	}
	if err := s.docs.MergeWorkflowState(ctx, interviewID, raw); err != nil {
		return fmt.Errorf("save workflow state: %w", err)
	}
	return nil
}

// Initialize writes the zero state when none exists and returns the
// current state either way.
func (s *StateStore) Initialize(ctx context.Context, interviewID string) (*State, error) {
	state, ok, err := s.Load(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	if ok {
		return state, nil
	}
	initial := initialState(interviewID)
	if err := s.Save(ctx, interviewID, initial); err != nil {
		return nil, err
	}
	return &initial, nil
}

func initialState(interviewID string) State {
	return State{
		InterviewID:    interviewID,
		CompletedSteps: []Step{},
		CurrentStep:    StepUpload,
	}
}

func encodeState(partial State) (json.RawMessage, error) {
	raw, err := json.Marshal(partial)
	if err != nil {
		return nil, fmt.Errorf("encode workflow state: %w", err)
	}
	return raw, nil
}

// AnalysisStore is the document surface checkpoints write through.
type AnalysisStore interface {
	DocumentStore
	MergeAnalysis(ctx context.Context, interviewID string, patch map[string]any) error
}
