package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/people"
	"gleaner/internal/services"
	"gleaner/internal/store"
	"gleaner/internal/themes"
)

// Plan actions.
const (
	ActionRun          = "run"
	ActionCompleted    = "already_completed"
	ActionSkipped      = "skipped"
	ActionDeferred     = "deferred"
	ActionBeforeResume = "before_resume"
)

// RunRequest triggers one orchestrator pass over an interview.
type RunRequest struct {
	InterviewID  string
	RunID        string
	JobID        string
	ResumeFrom   Step
	SkipSteps    []Step
	Instructions string
	// Defer leaves the configured deferred steps for the batch scheduler.
	Defer bool
}

// PlannedStep is the decision taken for one step.
type PlannedStep struct {
	Step   Step
	Action string
}

// RunResult reports what a run did.
type RunResult struct {
	RunID    string
	Plan     []PlannedStep
	Executed []Step
	State    *State
}

// Reached reports whether step completed during this run.
func (r *RunResult) Reached(step Step) bool {
	return r != nil && slices.Contains(r.Executed, step)
}

// TaskInput is what a step sees when it runs.
type TaskInput struct {
	Interview *store.Interview
	State     *State
	Request   RunRequest
	Progress  func(percent int, detail string)
}

// Task implements one step. It returns only the state fields it produced.
// On error the returned partial state is still persisted.
type Task interface {
	Run(ctx context.Context, in TaskInput) (State, error)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, in TaskInput) (State, error)

func (f TaskFunc) Run(ctx context.Context, in TaskInput) (State, error) { return f(ctx, in) }

// Dependencies are the external capabilities the steps consume.
type Dependencies struct {
	LLM         LLM
	Embedder    themes.Embedder
	Transcriber Transcriber
	Matcher     people.IdentityMatcher
}

// Orchestrator sequences the pipeline for one interview at a time.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	states   *StateStore
	tasks    map[Step]Task
	deferred map[Step]bool
	retry    services.RetryPolicy
	clock    func() time.Time
	logger   *slog.Logger
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithTask replaces the implementation of one step.
func WithTask(step Step, task Task) OrchestratorOption {
	return func(o *Orchestrator) {
		if task != nil {
			o.tasks[step] = task
		}
	}
}

// WithRetryPolicy overrides the step retry policy.
func WithRetryPolicy(policy services.RetryPolicy) OrchestratorOption {
	return func(o *Orchestrator) {
		o.retry = policy
	}
}

// WithClock overrides the time source used for state timestamps.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.clock = now
		}
	}
}

// NewOrchestrator wires the step tasks over st and deps.
func NewOrchestrator(cfg *config.Config, st *store.Store, deps Dependencies, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	logger = logging.NewComponentLogger(logger, "orchestrator")
	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		states:   NewStateStore(st),
		tasks:    buildTasks(cfg, st, deps, logger),
		deferred: make(map[Step]bool),
		retry:    services.DefaultRetryPolicy(cfg.Workflow.RetryMaxAttempts),
		clock:    time.Now,
		logger:   logger,
	}
	if cfg.Scheduler.Enabled {
		for _, name := range cfg.Scheduler.DeferredSteps {
			if step, err := ParseStep(name); err == nil {
				o.deferred[step] = true
			}
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// States exposes the workflow state store for read-only callers.
func (o *Orchestrator) States() *StateStore { return o.states }

// Plan decides what each step will do for req given the stored state.
func (o *Orchestrator) Plan(state *State, req RunRequest) []PlannedStep {
	start := 0
	if req.ResumeFrom != "" {
		start = max(req.ResumeFrom.Index(), 0)
	}
	plan := make([]PlannedStep, 0, len(Order))
	for i, step := range Order {
		action := ActionRun
		switch {
		case i < start:
			action = ActionBeforeResume
		case slices.Contains(req.SkipSteps, step):
			action = ActionSkipped
		case step == req.ResumeFrom:
			action = ActionRun
		case state.Completed(step):
			action = ActionCompleted
		case req.Defer && req.ResumeFrom == "" && o.deferred[step]:
			action = ActionDeferred
		}
		plan = append(plan, PlannedStep{Step: step, Action: action})
	}
	return plan
}

// Run executes the planned steps in order. A failed step leaves its
// partial outputs persisted, the interview in error status, and the
// cursor on the failed step so a later run can resume from it.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.InterviewID == "" {
		return nil, services.Wrap(services.ErrValidation, "", "run", "interview id required", nil)
	}
	if req.ResumeFrom != "" && req.ResumeFrom.Index() < 0 {
		return nil, services.Wrap(services.ErrValidation, "", "run", fmt.Sprintf("unknown resume step %q", req.ResumeFrom), nil)
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	ctx = services.WithInterviewID(ctx, req.InterviewID)
	ctx = services.WithRunID(ctx, req.RunID)
	logger := logging.WithContext(ctx, o.logger)

	if _, err := o.loadInterview(ctx, req.InterviewID); err != nil {
		return nil, err
	}
	state, err := o.states.Initialize(ctx, req.InterviewID)
	if err != nil {
		return nil, err
	}

	result := &RunResult{RunID: req.RunID, Plan: o.Plan(state, req), State: state}
	logger.Info("workflow run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("resume_from", string(req.ResumeFrom)),
		logging.Any("skip_steps", stepStrings(req.SkipSteps)),
		logging.Any("completed_steps", stepStrings(state.CompletedSteps)),
		logging.Bool("defer", req.Defer))

	if err := o.store.UpdateInterviewStatus(ctx, req.InterviewID, store.StatusProcessing); err != nil {
		return result, fmt.Errorf("mark processing: %w", err)
	}
	if err := o.store.MergeAnalysis(ctx, req.InterviewID, map[string]any{"last_error": ""}); err != nil {
		return result, fmt.Errorf("clear last error: %w", err)
	}

	started := o.clock()
	for _, planned := range result.Plan {
		if planned.Action != ActionRun {
			logger.Debug("step not executed",
				logging.Args(append(logging.DecisionAttrs("step_plan", planned.Action, "step cursor"),
					logging.String(logging.FieldStep, string(planned.Step)))...)...)
			continue
		}
		if err := o.runStep(ctx, state, planned.Step, req); err != nil {
			return result, err
		}
		result.Executed = append(result.Executed, planned.Step)
	}

	if state.Completed(StepFinalize) {
		// Deferred resumes and reruns of finished interviews skip finalize,
		// so the ready status is restored here.
		if err := o.restoreReady(ctx, req.InterviewID); err != nil {
			return result, err
		}
	} else {
		logger.Info("workflow run paused before finalize",
			logging.Any("executed", stepStrings(result.Executed)))
	}
	logger.Info("workflow run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Any("executed", stepStrings(result.Executed)),
		logging.Any("completed_steps", stepStrings(state.CompletedSteps)),
		logging.Duration("duration", o.clock().Sub(started)))
	return result, nil
}

func (o *Orchestrator) restoreReady(ctx context.Context, interviewID string) error {
	if err := o.store.UpdateInterviewStatus(ctx, interviewID, store.StatusReady); err != nil {
		return fmt.Errorf("restore ready: %w", err)
	}
	if err := o.store.MergeAnalysis(ctx, interviewID, map[string]any{"status_detail": "Ready"}); err != nil {
		return fmt.Errorf("restore ready detail: %w", err)
	}
	return nil
}

func (o *Orchestrator) runStep(ctx context.Context, state *State, step Step, req RunRequest) error {
	ctx = services.WithStep(ctx, string(step))
	logger := logging.WithContext(ctx, o.logger)
	task, ok := o.tasks[step]
	if !ok {
		return services.Wrap(services.ErrConfiguration, string(step), "run", "no task registered", nil)
	}

	iv, err := o.loadInterview(ctx, req.InterviewID)
	if err != nil {
		return err
	}
	now := o.clock().UTC()
	if err := o.store.MergeProcessingMetadata(ctx, iv.ID, map[string]any{
		"current_step":    string(step),
		"run_id":          req.RunID,
		"idempotency_key": IdempotencyKey(step, iv.ID, req.RunID),
		"step_started_at": now.Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("record step start: %w", err)
	}
	state.CurrentStep = step
	if err := o.states.Checkpoint(ctx, iv.ID, State{CurrentStep: step, LastUpdated: now}, map[string]any{
		"current_step":  string(step),
		"progress":      overallProgress(step, 0),
		"status_detail": stepDetail(step),
	}); err != nil {
		return err
	}
	logger.Info("step started", logging.String(logging.FieldEventType, "step_start"))

	in := TaskInput{
		Interview: iv,
		State:     state,
		Request:   req,
		Progress:  o.progressFunc(ctx, iv.ID, step, req.JobID),
	}
	var out State
	err = services.Retry(ctx, o.retry, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			logger.Info("retrying step",
				logging.Args(append(logging.DecisionAttrs("step_retry", "retry", "retryable failure"),
					logging.Int("attempt", attempt))...)...)
		}
		var runErr error
		out, runErr = task.Run(ctx, in)
		return runErr
	})
	if err != nil {
		return o.failStep(ctx, iv, state, step, out, err)
	}

	state.apply(out)
	state.markCompleted(step)
	next := step
	if idx := step.Index(); idx+1 < len(Order) {
		next = Order[idx+1]
	}
	state.CurrentStep = next
	out.CompletedSteps = slices.Clone(state.CompletedSteps)
	out.CurrentStep = next
	out.LastUpdated = o.clock().UTC()
	state.LastUpdated = out.LastUpdated
	if err := o.states.Checkpoint(ctx, iv.ID, out, map[string]any{
		"completed_steps": stepStrings(state.CompletedSteps),
		"current_step":    string(next),
		"progress":        overallProgress(step, 100),
	}); err != nil {
		return err
	}
	logger.Info("step completed",
		logging.String(logging.FieldEventType, "step_complete"),
		logging.String("next_step", string(next)),
		logging.Duration("step_duration", o.clock().UTC().Sub(now)))
	return nil
}

func (o *Orchestrator) failStep(ctx context.Context, iv *store.Interview, state *State, step Step, partial State, stepErr error) error {
	logger := logging.WithContext(ctx, o.logger)
	if errors.Is(stepErr, context.Canceled) {
		logger.Info("step interrupted by shutdown")
		return stepErr
	}
	persistCtx := context.WithoutCancel(ctx)
	detail := services.FailureDetail(string(step), stepErr)

	state.apply(partial)
	partial.CompletedSteps = nil
	partial.CurrentStep = step
	partial.LastUpdated = o.clock().UTC()
	if err := o.states.Checkpoint(persistCtx, iv.ID, partial, map[string]any{
		"current_step":  string(step),
		"status_detail": detail,
		"last_error":    stepErr.Error(),
	}); err != nil {
		logger.Error("failed to persist step failure", logging.Error(err))
	}
	if err := o.store.UpdateInterviewStatus(persistCtx, iv.ID, store.StatusError); err != nil {
		logger.Error("failed to mark interview error", logging.Error(err))
	}
	if err := o.store.MergeProcessingMetadata(persistCtx, iv.ID, map[string]any{
		"failed_step": string(step),
		"last_error":  stepErr.Error(),
		"error_kind":  services.ErrorKind(stepErr),
		"failed_at":   partial.LastUpdated.Format(time.RFC3339),
	}); err != nil {
		logger.Error("failed to record failure metadata", logging.Error(err))
	}
	logging.ErrorWithContext(logger, "step failed", "step_failed",
		logging.Error(stepErr),
		logging.String("error_kind", services.ErrorKind(stepErr)),
		logging.Bool("retryable", services.IsRetryable(stepErr)),
		logging.String(logging.FieldErrorHint, "fix the cause, then resume from "+string(step)),
		logging.Alert("step_failure"))
	return &StepError{Step: step, Err: stepErr}
}

func (o *Orchestrator) progressFunc(ctx context.Context, interviewID string, step Step, jobID string) func(int, string) {
	logger := logging.WithContext(ctx, o.logger)
	sampler := logging.NewProgressSampler(25)
	return func(percent int, detail string) {
		if sampler.ShouldLog(percent, detail) {
			logger.Info("step progress",
				logging.Int("percent", percent),
				logging.String("detail", detail))
		}
		patch := map[string]any{"progress": overallProgress(step, percent)}
		if detail != "" {
			patch["status_detail"] = detail
		}
		if err := o.store.MergeAnalysis(ctx, interviewID, patch); err != nil {
			logger.Warn("progress update failed", logging.Error(err))
		}
		if jobID == "" {
			return
		}
		if err := o.store.UpdateJobHeartbeat(ctx, jobID); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("job heartbeat failed", logging.Error(err))
		}
	}
}

func (o *Orchestrator) loadInterview(ctx context.Context, id string) (*store.Interview, error) {
	iv, err := o.store.GetInterview(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, services.Wrap(services.ErrNotFound, "", "run", "interview "+id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load interview: %w", err)
	}
	return iv, nil
}

// StepError marks the step a run failed on.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s step: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// FailedStep returns the step recorded on err, if any.
func FailedStep(err error) (Step, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}

// IdempotencyKey identifies one step execution within a run.
func IdempotencyKey(step Step, interviewID, runID string) string {
	return fmt.Sprintf("%s-%s-%s", step, interviewID, runID)
}

func stepDetail(step Step) string {
	switch step {
	case StepUpload:
		return "Preparing transcript"
	case StepEvidence:
		return "Extracting evidence"
	case StepInsights:
		return "Generating insights"
	case StepPersonas:
		return "Assigning personas"
	case StepAnswers:
		return "Answering research questions"
	case StepFinalize:
		return "Finalizing"
	case StepEnrichPerson:
		return "Enriching people"
	default:
		return string(step)
	}
}
