package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/store"
)

const (
	processedDir    = "processed"
	failedDir       = "failed"
	defaultDebounce = 2 * time.Second
)

// Result describes one ingested file.
type Result struct {
	Interview *store.Interview
	Job       *store.Job
	MovedTo   string
}

// Watcher ingests inbox files as they appear.
type Watcher struct {
	store     *store.Store
	logger    *slog.Logger
	dir       string
	accountID string
	projectID string
	media     bool
	debounce  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New builds a watcher over paths.inbox_dir.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		store:     st,
		logger:    logging.NewComponentLogger(logger, "inbox"),
		dir:       cfg.Paths.InboxDir,
		accountID: cfg.Account.ID,
		projectID: cfg.Account.ProjectID,
		media:     cfg.Transcription.Enabled,
		debounce:  defaultDebounce,
		timers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run ingests files already present, then watches for new ones until ctx
// is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("ensure inbox: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching inbox", logging.String("dir", w.dir), logging.Duration("debounce", w.debounce))

	if _, err := w.Scan(ctx); err != nil {
		w.logger.Warn("initial inbox scan failed", logging.Error(err))
	}

	ready := make(chan string)
	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name, ready)
			}
		case path := <-ready:
			if _, err := w.Ingest(ctx, path); err != nil {
				logging.WarnWithContext(w.logger, "inbox file rejected", "inbox_rejected",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "fix the file and drop it into the inbox again"),
					logging.String(logging.FieldImpact, "no interview created for this file"))
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watch error", logging.Error(err))
		}
	}
}

// schedule ingests path once it has been quiet for the debounce window.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	if Classify(path) == KindUnknown {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// Scan ingests every eligible file currently in the inbox.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("read inbox: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		res, err := w.Ingest(ctx, filepath.Join(w.dir, entry.Name()))
		if err != nil {
			w.logger.Warn("inbox file rejected", logging.String("file", entry.Name()), logging.Error(err))
			continue
		}
		if res != nil {
			count++
		}
	}
	return count, nil
}

// Ingest creates an interview and queues a run for the file at path. It
// returns nil without error for files the inbox ignores.
func (w *Watcher) Ingest(ctx context.Context, path string) (*Result, error) {
	kind := Classify(path)
	if kind == KindUnknown {
		return nil, nil
	}
	if kind == KindMedia && !w.media {
		w.logger.Info("media file ignored; transcription disabled",
			logging.Args(append(logging.DecisionAttrs("inbox_media", "skipped", "transcription.enabled is false"),
				logging.String("file", filepath.Base(path)))...)...)
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, nil
	}

	doc, err := Read(path, kind)
	if err != nil {
		if _, moveErr := moveTo(path, filepath.Join(w.dir, failedDir)); moveErr != nil {
			w.logger.Warn("could not move rejected file", logging.Error(moveErr))
		}
		return nil, err
	}
	moved, err := moveTo(path, filepath.Join(w.dir, processedDir))
	if err != nil {
		return nil, err
	}
	if kind == KindMedia {
		doc.MediaPath = moved
	}

	iv, err := w.store.CreateInterview(ctx, doc.Interview(w.accountID, w.projectID, moved))
	if err != nil {
		return nil, err
	}
	job, _, err := w.store.EnqueueJob(ctx, store.JobRequest{
		InterviewID:    iv.ID,
		IdempotencyKey: "inbox-" + iv.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", iv.ID, err)
	}
	w.logger.Info("inbox file ingested",
		logging.String(logging.FieldInterviewID, iv.ID),
		logging.String("job_id", job.ID),
		logging.String("title", iv.Title),
		logging.Bool("media", kind == KindMedia))
	return &Result{Interview: iv, Job: job, MovedTo: moved}, nil
}
