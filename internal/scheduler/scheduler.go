package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/notifications"
	"gleaner/internal/store"
	"gleaner/internal/workflow"
)

// Report summarizes one sweep.
type Report struct {
	Scanned   int
	Eligible  int
	Enqueued  int
	Duplicate int
	Busy      int
	Capped    bool
	Bucket    time.Time
}

// Candidate is an interview with deferred work outstanding.
type Candidate struct {
	InterviewID string
	ResumeFrom  workflow.Step
	SkipSteps   []workflow.Step
}

// Scheduler runs the deferred-step sweep.
type Scheduler struct {
	store    *store.Store
	notifier notifications.Service
	logger   *slog.Logger
	spec     string
	lookback time.Duration
	maxBatch int
	bucket   time.Duration
	deferred []workflow.Step
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used for lookback and bucketing.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a scheduler from the [scheduler] section.
func New(cfg *config.Config, st *store.Store, notifier notifications.Service, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	deferred, err := workflow.ParseSteps(cfg.Scheduler.DeferredSteps)
	if err != nil {
		return nil, fmt.Errorf("scheduler deferred steps: %w", err)
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	s := &Scheduler{
		store:    st,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		spec:     cfg.Scheduler.Cron,
		lookback: time.Duration(cfg.Scheduler.LookbackHours) * time.Hour,
		maxBatch: max(cfg.Scheduler.MaxBatch, 1),
		bucket:   time.Duration(max(cfg.Scheduler.BucketMinutes, 1)) * time.Minute,
		deferred: deferred,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start registers the sweep with cron. Overlapping ticks are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already running")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := c.AddFunc(s.spec, func() {
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(s.logger, "deferred sweep failed", "scheduler_sweep_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access"),
				logging.String(logging.FieldImpact, "deferred steps wait for the next tick"))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	c.Start()
	s.cron, s.entryID = c, id
	s.logger.Info("deferred scheduler started",
		logging.String("cron", s.spec),
		logging.Any("deferred_steps", s.deferred),
		logging.String("next_run", c.Entry(id).Next.Format(time.RFC3339)))
	return nil
}

// Stop halts the cron loop and waits for a running sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// NextRun reports when the sweep fires next. The zero time means stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Sweep scans recent interviews once and enqueues deferred work.
func (s *Scheduler) Sweep(ctx context.Context) (Report, error) {
	now := s.now().UTC()
	report := Report{Bucket: now.Truncate(s.bucket)}
	if len(s.deferred) == 0 {
		return report, nil
	}
	records, err := s.store.ListAnalysesUpdatedSince(ctx, now.Add(-s.lookback), 0)
	if err != nil {
		return report, fmt.Errorf("scan analyses: %w", err)
	}
	report.Scanned = len(records)

	for _, rec := range records {
		cand, ok := s.Select(rec)
		if !ok {
			continue
		}
		report.Eligible++
		if report.Enqueued >= s.maxBatch {
			report.Capped = true
			continue
		}
		busy, err := s.hasActiveJob(ctx, cand.InterviewID)
		if err != nil {
			return report, err
		}
		if busy {
			report.Busy++
			continue
		}
		_, created, err := s.store.EnqueueJob(ctx, store.JobRequest{
			InterviewID:    cand.InterviewID,
			IdempotencyKey: BucketKey(cand.InterviewID, report.Bucket),
			ResumeFrom:     string(cand.ResumeFrom),
			SkipSteps:      stepNames(cand.SkipSteps),
		})
		if err != nil {
			return report, fmt.Errorf("enqueue deferred %s: %w", cand.InterviewID, err)
		}
		if !created {
			report.Duplicate++
			continue
		}
		report.Enqueued++
		s.logger.Debug("deferred steps queued",
			logging.String(logging.FieldInterviewID, cand.InterviewID),
			logging.String("resume_from", string(cand.ResumeFrom)))
	}

	attrs := []logging.Attr{
		logging.Int("scanned", report.Scanned),
		logging.Int("eligible", report.Eligible),
		logging.Int("enqueued", report.Enqueued),
		logging.Int("duplicate", report.Duplicate),
		logging.Int("busy", report.Busy),
	}
	if report.Capped {
		logging.WarnWithContext(s.logger, "deferred sweep hit batch cap", "scheduler_capped",
			append(attrs,
				logging.Int("max_batch", s.maxBatch),
				logging.String(logging.FieldImpact, "remaining interviews wait for the next tick"),
				logging.String(logging.FieldErrorHint, "raise scheduler.max_batch"))...)
	} else {
		s.logger.Info("deferred sweep complete", logging.Args(attrs...)...)
	}
	if report.Enqueued > 0 {
		if err := s.notifier.Publish(ctx, notifications.EventSweepCompleted, notifications.Payload{"enqueued": report.Enqueued}); err != nil {
			s.logger.Warn("sweep notification failed", logging.Error(err))
		}
	}
	return report, nil
}

// Select decides whether rec has deferred work. Interviews that are mid-run
// or failed are left alone; failures resume explicitly.
func (s *Scheduler) Select(rec store.AnalysisRecord) (Candidate, bool) {
	switch rec.Status {
	case store.StatusProcessing, store.StatusTranscribing, store.StatusError:
		return Candidate{}, false
	}
	done := completedSteps(rec.Analysis)
	for _, core := range workflow.CoreSteps {
		if !done[core] {
			return Candidate{}, false
		}
	}
	cand := Candidate{InterviewID: rec.InterviewID}
	for _, step := range workflow.Order {
		if !done[step] && slices.Contains(s.deferred, step) {
			cand.ResumeFrom = step
			break
		}
	}
	if cand.ResumeFrom == "" {
		return Candidate{}, false
	}
	for _, step := range workflow.Order {
		if done[step] && step.Index() > cand.ResumeFrom.Index() {
			cand.SkipSteps = append(cand.SkipSteps, step)
		}
	}
	return cand, true
}

func (s *Scheduler) hasActiveJob(ctx context.Context, interviewID string) (bool, error) {
	jobs, err := s.store.ListJobs(ctx, interviewID, 5)
	if err != nil {
		return false, fmt.Errorf("list jobs for %s: %w", interviewID, err)
	}
	for _, job := range jobs {
		if job.Status == store.JobPending || job.Status == store.JobRunning {
			return true, nil
		}
	}
	return false, nil
}

// BucketKey is the idempotency key for interviewID within one sweep window.
func BucketKey(interviewID string, bucket time.Time) string {
	return fmt.Sprintf("deferred-%s-%d", interviewID, bucket.Unix())
}

func completedSteps(a store.Analysis) map[workflow.Step]bool {
	var names []string
	if len(a.WorkflowState) > 0 {
		var state workflow.State
		if err := json.Unmarshal(a.WorkflowState, &state); err == nil {
			for _, step := range state.CompletedSteps {
				names = append(names, string(step))
			}
		}
	}
	if len(names) == 0 {
		names = a.CompletedSteps
	}
	done := make(map[workflow.Step]bool, len(names))
	for _, name := range names {
		if step, err := workflow.ParseStep(name); err == nil {
			done[step] = true
		}
	}
	return done
}

func stepNames(steps []workflow.Step) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		out = append(out, string(step))
	}
	return out
}
