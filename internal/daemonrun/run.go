package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"gleaner/internal/config"
	"gleaner/internal/daemon"
	"gleaner/internal/deps"
	"gleaner/internal/inbox"
	"gleaner/internal/logging"
	"gleaner/internal/scheduler"
	"gleaner/internal/services/whisperx"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the gleaner daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "gleaner.log")
	base, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logHub := logging.NewStreamHub(4096)
	logger := logging.TeeLogger(base, logging.NewStreamHandler(logHub, slog.LevelInfo))

	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.LogDir, "gleanerd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := NewRuntime(signalCtx, cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "runtime setup failed", "runtime_setup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and database access"))
		return err
	}

	daemonOpts := []daemon.Option{
		daemon.WithNotifier(rt.Notifier),
		daemon.WithLogStream(logHub),
		daemon.WithInbox(inbox.New(cfg, rt.Store, logger)),
	}
	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg, rt.Store, rt.Notifier, logger)
		if err != nil {
			_ = rt.Close()
			return fmt.Errorf("create scheduler: %w", err)
		}
		daemonOpts = append(daemonOpts, daemon.WithScheduler(sched))
	}

	d, err := daemon.New(cfg, rt.Store, rt.Manager, logger, daemonOpts...)
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("gleaner daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	settings := cfg.GetLLM()
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("llm_key_present", strings.TrimSpace(settings.APIKey) != ""),
		logging.String("llm_model", settings.Model),
		logging.Bool("remote_embeddings", strings.TrimSpace(cfg.Embeddings.APIKey) != ""),
		logging.Bool("transcription_enabled", cfg.Transcription.Enabled),
		logging.Bool("scheduler_enabled", cfg.Scheduler.Enabled),
		logging.String("api_bind", cfg.API.Bind),
	}
	reqs := deps.TranscriptionRequirements(cfg, whisperx.FFmpegCommand, whisperx.UVXCommand)
	for _, status := range deps.CheckBinaries(reqs) {
		attrs = append(attrs, logging.Bool(strings.ToLower(status.Name)+"_available", status.Available))
		if !status.Available {
			logging.WarnWithContext(logger, "transcription dependency missing", "dependency_missing",
				logging.String("dependency", status.Name),
				logging.String("detail", status.Detail),
				logging.String(logging.FieldErrorHint, "install "+status.Command+" or disable transcription"),
				logging.String(logging.FieldImpact, "audio and video uploads will fail"))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
