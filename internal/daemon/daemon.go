package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"gleaner/internal/config"
	"gleaner/internal/inbox"
	"gleaner/internal/logging"
	"gleaner/internal/notifications"
	"gleaner/internal/scheduler"
	"gleaner/internal/services"
	"gleaner/internal/store"
	"gleaner/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	workflow  *workflow.Manager
	scheduler *scheduler.Scheduler
	inbox     *inbox.Watcher
	notifier  notifications.Service
	logs      *logging.StreamHub

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithScheduler attaches the deferred-step scheduler.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(d *Daemon) { d.scheduler = s }
}

// WithInbox attaches the inbox watcher.
func WithInbox(w *inbox.Watcher) Option {
	return func(d *Daemon) { d.inbox = w }
}

// WithNotifier overrides the notifier used for test notifications.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) { d.notifier = n }
}

// WithLogStream exposes hub through /api/logs.
func WithLogStream(hub *logging.StreamHub) Option {
	return func(d *Daemon) { d.logs = hub }
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	LockFilePath string
	DatabasePath string
	InboxDir     string
	NextSweep    time.Time
}

// Submission asks the daemon to queue a run for one interview.
type Submission struct {
	InterviewID    string
	IdempotencyKey string
	ResumeFrom     string
	SkipSteps      []string
	Instructions   string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, wf *workflow.Manager, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches workers, the scheduler, the
// inbox watcher, and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another gleaner daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		if d.scheduler != nil {
			d.scheduler.Stop()
		}
		d.workflow.Stop()
		d.wg.Wait()
		_ = d.lock.Unlock()
		return err
	}

	if err := d.workflow.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start workflow: %w", err))
	}
	if d.scheduler != nil {
		if err := d.scheduler.Start(runCtx); err != nil {
			return fail(fmt.Errorf("start scheduler: %w", err))
		}
	}
	if d.inbox != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.inbox.Run(runCtx); err != nil {
				logging.ErrorWithContext(d.logger, "inbox watcher stopped", "inbox_failed",
					logging.Error(err),
					logging.String("dir", d.inbox.Dir()),
					logging.String(logging.FieldErrorHint, "check paths.inbox_dir exists and is readable"))
			}
		}()
	}
	if err := d.api.start(runCtx); err != nil {
		return fail(err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("gleaner daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()),
		logging.Bool("scheduler", d.scheduler != nil),
		logging.Bool("inbox", d.inbox != nil))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	d.workflow.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String("lock", d.lockPath),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
			logging.String(logging.FieldImpact, "next start may report another instance"))
	}
	d.running.Store(false)
	d.logger.Info("gleaner daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.running.Load() }

// APIAddress returns the bound API address, or "" when the API is off.
func (d *Daemon) APIAddress() string { return d.api.address() }

// LogStream returns the hub backing /api/logs, if any.
func (d *Daemon) LogStream() *logging.StreamHub { return d.logs }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		LockFilePath: d.lockPath,
		DatabasePath: d.store.Path(),
	}
	if d.inbox != nil {
		status.InboxDir = d.inbox.Dir()
	}
	if d.scheduler != nil {
		status.NextSweep = d.scheduler.NextRun()
	}
	return status
}

// Enqueue validates a submission and queues a job for it. The boolean is
// false when the idempotency key matched an existing job.
func (d *Daemon) Enqueue(ctx context.Context, sub Submission) (*store.Job, bool, error) {
	id := strings.TrimSpace(sub.InterviewID)
	if id == "" {
		return nil, false, services.Wrap(services.ErrValidation, "", "enqueue", "interview id required", nil)
	}
	if _, err := d.store.GetInterview(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, services.Wrap(services.ErrNotFound, "", "enqueue", "interview "+id, nil)
		}
		return nil, false, err
	}
	req := store.JobRequest{
		InterviewID:    id,
		IdempotencyKey: strings.TrimSpace(sub.IdempotencyKey),
		Instructions:   strings.TrimSpace(sub.Instructions),
	}
	if strings.TrimSpace(sub.ResumeFrom) != "" {
		step, err := workflow.ParseStep(sub.ResumeFrom)
		if err != nil {
			return nil, false, services.Wrap(services.ErrValidation, "", "enqueue", "resume_from", err)
		}
		req.ResumeFrom = string(step)
	}
	skip, err := workflow.ParseSteps(sub.SkipSteps)
	if err != nil {
		return nil, false, services.Wrap(services.ErrValidation, "", "enqueue", "skip_steps", err)
	}
	for _, step := range skip {
		req.SkipSteps = append(req.SkipSteps, string(step))
	}

	job, created, err := d.store.EnqueueJob(ctx, req)
	if err != nil {
		return nil, false, err
	}
	d.logger.Info("job queued",
		logging.String(logging.FieldInterviewID, id),
		logging.String("job_id", job.ID),
		logging.String("resume_from", req.ResumeFrom),
		logging.Bool("created", created))
	return job, created, nil
}

// ListJobs returns recent jobs, optionally for one interview.
func (d *Daemon) ListJobs(ctx context.Context, interviewID string, limit int) ([]*store.Job, error) {
	return d.store.ListJobs(ctx, strings.TrimSpace(interviewID), limit)
}

// RetryFailed moves failed jobs (all, or the given IDs) back to pending.
func (d *Daemon) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	n, err := d.store.RetryFailedJobs(ctx, ids...)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("failed jobs requeued", logging.Int64("count", n))
	}
	return n, nil
}

// Sweep runs the deferred-step sweep immediately.
func (d *Daemon) Sweep(ctx context.Context) (scheduler.Report, error) {
	if d.scheduler == nil {
		return scheduler.Report{}, services.Wrap(services.ErrConfiguration, "", "sweep", "scheduler disabled", nil)
	}
	return d.scheduler.Sweep(ctx)
}

// TestNotification sends a test notification through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{"title": "Gleaner"}); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
