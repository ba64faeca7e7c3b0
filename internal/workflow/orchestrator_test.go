package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"gleaner/internal/people"
	"gleaner/internal/services"
	"gleaner/internal/services/llm"
	"gleaner/internal/store"
	"gleaner/internal/workflow"
)

type stepRecorder struct {
	mu  sync.Mutex
	ran []workflow.Step
}

func (r *stepRecorder) task(step workflow.Step) workflow.Task {
	return workflow.TaskFunc(func(context.Context, workflow.TaskInput) (workflow.State, error) {
		r.mu.Lock()
		r.ran = append(r.ran, step)
		r.mu.Unlock()
		return workflow.State{}, nil
	})
}

func (r *stepRecorder) options() []workflow.OrchestratorOption {
	opts := make([]workflow.OrchestratorOption, 0, len(workflow.Order))
	for _, step := range workflow.Order {
		opts = append(opts, workflow.WithTask(step, r.task(step)))
	}
	return opts
}

func TestResumeNeverRunsEarlierSteps(t *testing.T) {
	for _, resume := range workflow.Order {
		t.Run(string(resume), func(t *testing.T) {
			rec := &stepRecorder{}
			h := newHarness(t, &fakeLLM{}, rec.options()...)
			iv := h.interview(t, namedTranscript)

			if _, err := h.orch.Run(context.Background(), workflow.RunRequest{InterviewID: iv.ID, ResumeFrom: resume}); err != nil {
				t.Fatalf("Run: %v", err)
			}
			want := workflow.Order[resume.Index():]
			if !reflect.DeepEqual(rec.ran, want) {
				t.Fatalf("resume from %s ran %v, want %v", resume, rec.ran, want)
			}
		})
	}
}

func TestPlanHonorsCompletedSkippedAndDeferredSteps(t *testing.T) {
	h := newHarness(t, &fakeLLM{})
	state := &workflow.State{CompletedSteps: []workflow.Step{workflow.StepUpload, workflow.StepEvidence}}

	plan := h.orch.Plan(state, workflow.RunRequest{
		SkipSteps: []workflow.Step{workflow.StepInsights},
		Defer:     true,
	})
	got := make(map[workflow.Step]string, len(plan))
	for _, p := range plan {
		got[p.Step] = p.Action
	}
	want := map[workflow.Step]string{
		workflow.StepUpload:       workflow.ActionCompleted,
		workflow.StepEvidence:     workflow.ActionCompleted,
		workflow.StepInsights:     workflow.ActionSkipped,
		workflow.StepPersonas:     workflow.ActionDeferred,
		workflow.StepAnswers:      workflow.ActionDeferred,
		workflow.StepFinalize:     workflow.ActionRun,
		workflow.StepEnrichPerson: workflow.ActionDeferred,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected plan:\n got %v\nwant %v", got, want)
	}

	resumed := h.orch.Plan(state, workflow.RunRequest{ResumeFrom: workflow.StepEvidence, Defer: true})
	for _, p := range resumed {
		switch p.Step {
		case workflow.StepUpload:
			if p.Action != workflow.ActionBeforeResume {
				t.Fatalf("upload should be before resume, got %s", p.Action)
			}
		case workflow.StepEvidence:
			if p.Action != workflow.ActionRun {
				t.Fatalf("resume target must run even when completed, got %s", p.Action)
			}
		default:
			if p.Action != workflow.ActionRun {
				t.Fatalf("resumed runs do not defer; %s got %s", p.Step, p.Action)
			}
		}
	}
}

func TestRunSingleNamedSpeakerEndToEnd(t *testing.T) {
	h := newHarness(t, namedSpeakerLLM())
	iv := h.interview(t, namedTranscript)
	ctx := context.Background()

	result, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(result.Executed, workflow.Order) {
		t.Fatalf("expected every step to run, got %v", result.Executed)
	}

	state := h.state(t, iv.ID)
	if !reflect.DeepEqual(state.CompletedSteps, workflow.Order) {
		t.Fatalf("unexpected completed steps %v", state.CompletedSteps)
	}
	if len(state.PersonIDs) != 1 || state.PersonID != state.PersonIDs[0] {
		t.Fatalf("expected exactly one person, got %+v", state.PersonIDs)
	}
	if len(state.EvidenceIDs) != 2 || len(state.EvidenceUnits) != 2 {
		t.Fatalf("expected two evidence units in state, got %v", state.EvidenceIDs)
	}
	for _, u := range state.EvidenceUnits {
		if u.PersonID != state.PersonID {
			t.Fatalf("evidence %s attributed to %q, want %q", u.ID, u.PersonID, state.PersonID)
		}
	}
	if len(state.InsightIDs) != 1 {
		t.Fatalf("expected one theme, got %v", state.InsightIDs)
	}

	report, err := people.CheckParity(ctx, h.store, iv.ID, false, nil)
	if err != nil {
		t.Fatalf("CheckParity: %v", err)
	}
	if !report.Passed || report.Checked != 2 {
		t.Fatalf("expected parity to pass, got %+v", report)
	}

	got, err := h.store.GetInterview(ctx, iv.ID)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if got.Status != store.StatusReady {
		t.Fatalf("expected ready, got %s", got.Status)
	}
	analysis := h.analysis(t, iv.ID)
	if analysis.EvidenceCount == nil || *analysis.EvidenceCount != 2 || analysis.CompletedAt == "" {
		t.Fatalf("finalize did not record counts: %+v", analysis)
	}
	if analysis.LastError != "" {
		t.Fatalf("unexpected last error %q", analysis.LastError)
	}

	person, err := h.store.GetPerson(ctx, state.PersonID)
	if err != nil {
		t.Fatalf("GetPerson: %v", err)
	}
	if person.Description == "" || person.Organization != "Acme" {
		t.Fatalf("expected enrichment to fill profile, got %+v", person)
	}

	meta, err := h.store.GetProcessingMetadata(ctx, iv.ID)
	if err != nil {
		t.Fatalf("GetProcessingMetadata: %v", err)
	}
	wantKey := workflow.IdempotencyKey(workflow.StepEnrichPerson, iv.ID, result.RunID)
	if meta["idempotency_key"] != wantKey {
		t.Fatalf("expected idempotency key %q, got %v", wantKey, meta["idempotency_key"])
	}
}

func TestRunUnnamedSpeakerStaysUnlinked(t *testing.T) {
	client := &fakeLLM{evidence: llm.EvidenceResponse{
		Evidence: []llm.EvidenceUnit{
			{PersonKey: "dana", Verbatim: "We track everything in spreadsheets"},
			{PersonKey: "speaker-b", Verbatim: "Can you say more about that?", IsQuestion: true},
		},
		People: []llm.PersonUnit{
			{PersonKey: "dana", SpeakerLabel: "SPEAKER A", Role: "participant", DisplayName: "Dana Park"},
			{PersonKey: "speaker-b", SpeakerLabel: "SPEAKER B", Role: "participant"},
		},
	}}
	h := newHarness(t, client)
	iv := h.interview(t, "SPEAKER A: We track everything in spreadsheets.\nSPEAKER B: Can you say more about that?")
	ctx := context.Background()

	if _, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	links, err := h.store.ListInterviewPeople(ctx, iv.ID)
	if err != nil {
		t.Fatalf("ListInterviewPeople: %v", err)
	}
	if len(links) != 1 || links[0].DisplayName != "Dana Park" {
		t.Fatalf("expected only the named speaker linked, got %+v", links)
	}
	state := h.state(t, iv.ID)
	if len(state.PersonIDs) != 1 {
		t.Fatalf("expected one person, got %v", state.PersonIDs)
	}
}

func TestRunResumeFromPersonasKeepsEarlierOutputs(t *testing.T) {
	client := namedSpeakerLLM()
	h := newHarness(t, client)
	iv := h.interview(t, namedTranscript)
	ctx := context.Background()

	if _, err := h.orch.Run(ctx, workflow.RunRequest{
		InterviewID: iv.ID,
		SkipSteps:   []workflow.Step{workflow.StepPersonas, workflow.StepAnswers, workflow.StepFinalize, workflow.StepEnrichPerson},
	}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before := h.state(t, iv.ID)
	wantDone := []workflow.Step{workflow.StepUpload, workflow.StepEvidence, workflow.StepInsights}
	if !reflect.DeepEqual(before.CompletedSteps, wantDone) {
		t.Fatalf("unexpected completed steps after first run: %v", before.CompletedSteps)
	}
	evidenceCalls := client.count("evidence")

	result, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID, ResumeFrom: workflow.StepPersonas})
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	wantRan := []workflow.Step{workflow.StepPersonas, workflow.StepAnswers, workflow.StepFinalize, workflow.StepEnrichPerson}
	if !reflect.DeepEqual(result.Executed, wantRan) {
		t.Fatalf("resume ran %v, want %v", result.Executed, wantRan)
	}
	if client.count("evidence") != evidenceCalls || client.count("insights") != 1 {
		t.Fatalf("earlier steps re-ran: %v", client.calls)
	}

	after := h.state(t, iv.ID)
	if after.FullTranscript != namedTranscript {
		t.Fatalf("transcript lost on resume: %q", after.FullTranscript)
	}
	if !reflect.DeepEqual(after.EvidenceIDs, before.EvidenceIDs) || !reflect.DeepEqual(after.InsightIDs, before.InsightIDs) {
		t.Fatalf("earlier outputs changed on resume:\nbefore %+v\nafter  %+v", before, after)
	}
	if !after.Completed(workflow.StepFinalize) {
		t.Fatalf("expected finalize complete, got %v", after.CompletedSteps)
	}
}

func TestRunZeroEvidenceCompletesWithFallbackPerson(t *testing.T) {
	h := newHarness(t, &fakeLLM{})
	iv := h.interview(t, "SPEAKER A: hi")
	ctx := context.Background()

	if _, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	state := h.state(t, iv.ID)
	if state.EvidenceIDs == nil || len(state.EvidenceIDs) != 0 {
		t.Fatalf("expected an explicit empty evidence list, got %#v", state.EvidenceIDs)
	}
	if state.PersonID == "" {
		t.Fatal("expected a fallback person")
	}
	person, err := h.store.GetPerson(ctx, state.PersonID)
	if err != nil {
		t.Fatalf("GetPerson: %v", err)
	}
	if person.Name != people.FallbackName {
		t.Fatalf("unexpected fallback person %+v", person)
	}
	got, _ := h.store.GetInterview(ctx, iv.ID)
	if got.Status != store.StatusReady {
		t.Fatalf("expected ready, got %s", got.Status)
	}
	analysis := h.analysis(t, iv.ID)
	if analysis.EvidenceCount == nil || *analysis.EvidenceCount != 0 {
		t.Fatalf("expected evidence_count 0, got %+v", analysis.EvidenceCount)
	}
	if h.llm.count("insights") != 0 {
		t.Fatal("insights should not call the model without evidence")
	}
}

func TestRunFailurePersistsErrorAndResumes(t *testing.T) {
	client := namedSpeakerLLM()
	fail := true
	client.evidenceFn = func(llm.EvidenceRequest) (llm.EvidenceResponse, error) {
		if fail {
			return llm.EvidenceResponse{}, fmt.Errorf("%w: context_length_exceeded", services.ErrNonRetryable)
		}
		return client.evidence, nil
	}
	h := newHarness(t, client)
	iv := h.interview(t, namedTranscript)
	ctx := context.Background()

	_, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID})
	if err == nil {
		t.Fatal("expected evidence failure")
	}
	if step, ok := workflow.FailedStep(err); !ok || step != workflow.StepEvidence {
		t.Fatalf("expected failure at evidence, got %v (%v)", step, err)
	}
	if !errors.Is(err, services.ErrNonRetryable) {
		t.Fatalf("expected non-retryable cause, got %v", err)
	}
	if client.count("evidence") != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d calls", client.count("evidence"))
	}

	got, _ := h.store.GetInterview(ctx, iv.ID)
	if got.Status != store.StatusError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	analysis := h.analysis(t, iv.ID)
	if analysis.CurrentStep != string(workflow.StepEvidence) {
		t.Fatalf("expected cursor on evidence, got %q", analysis.CurrentStep)
	}
	if !strings.HasPrefix(analysis.StatusDetail, "Failed during evidence:") || analysis.LastError == "" {
		t.Fatalf("unexpected failure surface: %+v", analysis)
	}
	state := h.state(t, iv.ID)
	if !reflect.DeepEqual(state.CompletedSteps, []workflow.Step{workflow.StepUpload}) || state.FullTranscript == "" {
		t.Fatalf("expected upload outputs preserved, got %+v", state)
	}

	fail = false
	result, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID, ResumeFrom: workflow.StepEvidence})
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if result.Executed[0] != workflow.StepEvidence {
		t.Fatalf("expected resume to start at evidence, got %v", result.Executed)
	}
	if a := h.analysis(t, iv.ID); a.LastError != "" {
		t.Fatalf("expected last error cleared, got %q", a.LastError)
	}
	got, _ = h.store.GetInterview(ctx, iv.ID)
	if got.Status != store.StatusReady {
		t.Fatalf("expected ready after resume, got %s", got.Status)
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	client := namedSpeakerLLM()
	attempts := 0
	client.evidenceFn = func(llm.EvidenceRequest) (llm.EvidenceResponse, error) {
		attempts++
		if attempts == 1 {
			return llm.EvidenceResponse{}, fmt.Errorf("%w: upstream 503", services.ErrTransient)
		}
		return client.evidence, nil
	}
	h := newHarness(t, client)
	iv := h.interview(t, namedTranscript)

	if _, err := h.orch.Run(context.Background(), workflow.RunRequest{InterviewID: iv.ID}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
}

func TestRunDoesNotRepeatExhaustedClientRetries(t *testing.T) {
	client := namedSpeakerLLM()
	client.evidenceFn = func(llm.EvidenceRequest) (llm.EvidenceResponse, error) {
		return llm.EvidenceResponse{}, fmt.Errorf("llm extract: failed after 5 attempts: %w: %w: upstream 502",
			services.ErrRetriesExhausted, services.ErrTransient)
	}
	h := newHarness(t, client)
	iv := h.interview(t, namedTranscript)

	_, err := h.orch.Run(context.Background(), workflow.RunRequest{InterviewID: iv.ID})
	if !errors.Is(err, services.ErrRetriesExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if n := client.count("evidence"); n != 1 {
		t.Fatalf("expected a single extraction call, got %d", n)
	}
}

func TestRunDefersConfiguredSteps(t *testing.T) {
	client := namedSpeakerLLM()
	h := newHarness(t, client)
	iv := h.interview(t, namedTranscript)
	ctx := context.Background()

	result, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID, Defer: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []workflow.Step{workflow.StepUpload, workflow.StepEvidence, workflow.StepInsights, workflow.StepFinalize}
	if !reflect.DeepEqual(result.Executed, want) {
		t.Fatalf("deferred run executed %v, want %v", result.Executed, want)
	}
	state := h.state(t, iv.ID)
	if state.Completed(workflow.StepPersonas) || state.Completed(workflow.StepEnrichPerson) {
		t.Fatalf("deferred steps must not be marked complete: %v", state.CompletedSteps)
	}
	got, _ := h.store.GetInterview(ctx, iv.ID)
	if got.Status != store.StatusReady {
		t.Fatalf("expected ready after core steps, got %s", got.Status)
	}
}

func TestRunUnknownInterview(t *testing.T) {
	h := newHarness(t, &fakeLLM{})
	_, err := h.orch.Run(context.Background(), workflow.RunRequest{InterviewID: "missing"})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFinalizeFlagsPlaceholderSpeakers(t *testing.T) {
	client := &fakeLLM{evidence: llm.EvidenceResponse{
		Evidence: []llm.EvidenceUnit{
			{PersonKey: "dana", Verbatim: "We track everything in spreadsheets"},
			{PersonKey: "speaker-b", Verbatim: "Exports break every month"},
		},
		People: []llm.PersonUnit{
			{PersonKey: "dana", SpeakerLabel: "SPEAKER A", DisplayName: "Dana Park"},
			{PersonKey: "speaker-b", SpeakerLabel: "SPEAKER B"},
		},
	}}
	h := newHarness(t, client)
	iv := h.interview(t, "SPEAKER A: We track everything in spreadsheets.\nSPEAKER B: Exports break every month.")
	ctx := context.Background()

	guest, _, err := h.store.InsertPerson(ctx, &store.Person{AccountID: iv.AccountID, ProjectID: iv.ProjectID, Name: "Second speaker"})
	if err != nil {
		t.Fatalf("InsertPerson: %v", err)
	}
	if err := h.store.UpsertInterviewPerson(ctx, store.InterviewPerson{
		InterviewID: iv.ID, PersonID: guest.ID, TranscriptKey: "SPEAKER B", DisplayName: "Speaker B",
	}); err != nil {
		t.Fatalf("UpsertInterviewPerson: %v", err)
	}

	if _, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := h.store.GetInterview(ctx, iv.ID)
	if !got.SpeakerReviewNeeded || got.Status != store.StatusReady {
		t.Fatalf("expected ready interview flagged for review, got %+v", got)
	}
	tasks, err := h.store.ListTasks(ctx, iv.ID)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || !strings.HasPrefix(tasks[0].Title, "#speakers") {
		t.Fatalf("expected one speaker review task, got %+v", tasks)
	}

	// a second run must not duplicate the task
	if _, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID, ResumeFrom: workflow.StepFinalize}); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if tasks, _ := h.store.ListTasks(ctx, iv.ID); len(tasks) != 1 {
		t.Fatalf("expected the task to stay unique, got %d", len(tasks))
	}
}

func TestRerunOfCompletedInterviewStaysReady(t *testing.T) {
	client := namedSpeakerLLM()
	h := newHarness(t, client)
	iv := h.interview(t, namedTranscript)
	ctx := context.Background()

	if _, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	result, err := h.orch.Run(ctx, workflow.RunRequest{InterviewID: iv.ID})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(result.Executed) != 0 {
		t.Fatalf("expected no steps on rerun, got %v", result.Executed)
	}
	got, err := h.store.GetInterview(ctx, iv.ID)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if got.Status != store.StatusReady {
		t.Fatalf("expected ready after rerun, got %s", got.Status)
	}
	if client.count("evidence") != 1 {
		t.Fatalf("expected evidence extracted once, got %v", client.calls)
	}
}
