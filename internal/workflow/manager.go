package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/notifications"
	"gleaner/internal/services"
	"gleaner/internal/store"
)

// Runner executes one orchestrator pass.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// Manager drains the job queue with a pool of workers.
type Manager struct {
	cfg          *config.Config
	store        *store.Store
	runner       Runner
	logger       *slog.Logger
	pollInterval time.Duration
	notifier     notifications.Service
	heartbeat    *HeartbeatMonitor
	health       map[string]any

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *store.Job
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, st *store.Store, runner Runner, notifier notifications.Service, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	poll := time.Duration(cfg.Workflow.PollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	logger = logging.NewComponentLogger(logger, "workflow-manager")
	return &Manager{
		cfg:          cfg,
		store:        st,
		runner:       runner,
		logger:       logger,
		pollInterval: poll,
		notifier:     notifier,
		heartbeat: NewHeartbeatMonitor(
			st,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		health: make(map[string]any),
	}
}

// RegisterHealth adds a dependency reported by Status. Dependencies that
// implement HealthChecker are probed.
func (m *Manager) RegisterHealth(name string, dep any) {
	m.mu.Lock()
	m.health[name] = dep
	m.mu.Unlock()
}

// Start launches the workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.runner == nil {
		m.mu.Unlock()
		return errors.New("workflow runner not configured")
	}
	workers := max(m.cfg.Workflow.Workers, 1)
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers)
	m.mu.Unlock()

	for i := range workers {
		go m.runWorker(runCtx, i)
	}
	m.logger.Info("workflow workers started", logging.Int("workers", workers))
	return nil
}

// Stop cancels the workers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", index))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// one reclaimer is enough
		if index == 0 {
			if _, err := m.heartbeat.ReclaimStaleJobs(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check database access"),
				)
			}
		}

		processed, err := m.ProcessNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if !processed {
				m.handleClaimError(ctx, logger, err)
			}
			continue
		}
		if !processed {
			m.waitOrShutdown(ctx, m.pollInterval)
		}
	}
}

// ProcessNext claims and runs one pending job. It reports whether a job
// was claimed; the error is the job's failure, if any.
func (m *Manager) ProcessNext(ctx context.Context) (bool, error) {
	job, err := m.store.ClaimNextJob(ctx)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, m.processJob(ctx, job)
}

func (m *Manager) processJob(ctx context.Context, job *store.Job) error {
	ctx = services.WithRequestID(ctx, uuid.NewString())
	ctx = services.WithInterviewID(ctx, job.InterviewID)
	logger := logging.WithContext(ctx, m.logger).With(logging.String("job_id", job.ID))
	m.setLastJob(job)

	req, err := m.requestForJob(job)
	if err != nil {
		m.failJob(ctx, logger, job, "", err)
		return err
	}
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.Int("attempt", job.Attempts),
		logging.String("resume_from", job.ResumeFrom))

	started := time.Now()
	result, runErr := m.runWithHeartbeat(ctx, job, req)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Debug("job interrupted by shutdown")
			return runErr
		}
		step, _ := FailedStep(runErr)
		m.failJob(ctx, logger, job, step, runErr)
		return runErr
	}

	if err := m.store.CompleteJob(ctx, job.ID); err != nil {
		logger.Error("failed to mark job done", logging.Error(err))
		m.setLastError(err)
		return err
	}
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Any("executed", stepStrings(result.Executed)),
		logging.Duration("duration", time.Since(started)))
	if result.Reached(StepFinalize) {
		m.notifyCompleted(ctx, logger, job.InterviewID)
	}
	return nil
}

func (m *Manager) requestForJob(job *store.Job) (RunRequest, error) {
	req := RunRequest{
		InterviewID:  job.InterviewID,
		RunID:        job.ID,
		JobID:        job.ID,
		Instructions: job.Instructions,
	}
	if job.ResumeFrom != "" {
		step, err := ParseStep(job.ResumeFrom)
		if err != nil {
			return req, services.Wrap(services.ErrValidation, "", "job", "resume_from", err)
		}
		req.ResumeFrom = step
	}
	skip, err := ParseSteps(job.SkipSteps)
	if err != nil {
		return req, services.Wrap(services.ErrValidation, "", "job", "skip_steps", err)
	}
	req.SkipSteps = skip
	req.Defer = m.cfg.Scheduler.Enabled && req.ResumeFrom == ""
	return req, nil
}

func (m *Manager) runWithHeartbeat(ctx context.Context, job *store.Job, req RunRequest) (*RunResult, error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	result, err := m.runner.Run(ctx, req)
	hbCancel()
	hbWG.Wait()
	return result, err
}

func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *store.Job, step Step, jobErr error) {
	m.setLastError(jobErr)
	if err := m.store.FailJob(context.WithoutCancel(ctx), job.ID, jobErr.Error()); err != nil {
		logger.Error("failed to mark job failed", logging.Error(err))
	}
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.Error(jobErr),
		logging.String("failed_step", string(step)),
		logging.String(logging.FieldErrorHint, "gleaner resume "+job.InterviewID))
	m.notifyFailed(ctx, logger, job.InterviewID, step, jobErr)
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "job_claim_failed"),
		logging.String(logging.FieldErrorHint, "check database access"),
	)
	m.waitOrShutdown(ctx, time.Duration(m.cfg.Workflow.ErrorRetryInterval)*time.Second)
}

func (m *Manager) waitOrShutdown(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (m *Manager) notifyCompleted(ctx context.Context, logger *slog.Logger, interviewID string) {
	payload := notifications.Payload{"interviewId": interviewID}
	if iv, err := m.store.GetInterview(ctx, interviewID); err == nil {
		payload["title"] = iv.Title
	}
	if n, err := m.store.CountEvidence(ctx, interviewID); err == nil {
		payload["evidenceCount"] = n
	}
	if err := m.notifier.Publish(ctx, notifications.EventRunCompleted, payload); err != nil {
		logger.Warn("completion notification failed", logging.Error(err))
	}
}

func (m *Manager) notifyFailed(ctx context.Context, logger *slog.Logger, interviewID string, step Step, jobErr error) {
	payload := notifications.Payload{
		"interviewId": interviewID,
		"step":        string(step),
		"error":       services.FailureDetail(string(step), jobErr),
	}
	if iv, err := m.store.GetInterview(ctx, interviewID); err == nil {
		payload["title"] = iv.Title
	}
	if err := m.notifier.Publish(context.WithoutCancel(ctx), notifications.EventRunFailed, payload); err != nil {
		logger.Warn("failure notification failed", logging.Error(err))
	}
}
