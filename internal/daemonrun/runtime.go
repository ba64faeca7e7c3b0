package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gleaner/internal/config"
	"gleaner/internal/deps"
	"gleaner/internal/facets"
	"gleaner/internal/logging"
	"gleaner/internal/notifications"
	"gleaner/internal/people"
	"gleaner/internal/services/embeddings"
	"gleaner/internal/services/llm"
	"gleaner/internal/services/whisperx"
	"gleaner/internal/store"
	"gleaner/internal/workflow"
)

// Runtime is the wired pipeline shared by the CLI and the daemon.
type Runtime struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        *store.Store
	Notifier     notifications.Service
	Orchestrator *workflow.Orchestrator
	Manager      *workflow.Manager
}

// NewRuntime opens the store, seeds the facet catalog when configured, and
// builds the orchestrator and job manager over the configured capabilities.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := applyFacetSeed(ctx, cfg, st, logger); err != nil {
		_ = st.Close()
		return nil, err
	}

	client := llm.NewFromConfig(cfg)
	capabilities := workflow.Dependencies{
		LLM:      client,
		Embedder: embeddings.New(cfg),
		Matcher:  people.NewStoreMatcher(st),
	}
	if cfg.Transcription.Enabled {
		capabilities.Transcriber = whisperx.NewFromConfig(cfg)
	}

	notifier := notifications.NewService(cfg)
	orch := workflow.NewOrchestrator(cfg, st, capabilities, logger)
	mgr := workflow.NewManager(cfg, st, orch, notifier, logger)
	mgr.RegisterHealth("llm", client)
	mgr.RegisterHealth("store", storeProbe{st})
	if cfg.Transcription.Enabled {
		mgr.RegisterHealth("transcription", deps.Probe{
			Requirements: deps.TranscriptionRequirements(cfg, whisperx.FFmpegCommand, whisperx.UVXCommand),
		})
	}

	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Notifier:     notifier,
		Orchestrator: orch,
		Manager:      mgr,
	}, nil
}

// Close releases the store.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	return r.Store.Close()
}

func applyFacetSeed(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) error {
	path := strings.TrimSpace(cfg.Paths.FacetSeed)
	if path == "" {
		return nil
	}
	entries, err := facets.LoadSeed(path)
	if err != nil {
		return err
	}
	written, err := facets.ApplySeed(ctx, st, entries)
	if err != nil {
		return fmt.Errorf("apply facet seed: %w", err)
	}
	if written > 0 {
		logging.NewComponentLogger(logger, "facets").Info("facet seed applied",
			logging.String("path", path),
			logging.Int("written", written))
	}
	return nil
}

type storeProbe struct{ st *store.Store }

func (p storeProbe) HealthCheck(ctx context.Context) error { return p.st.Ping(ctx) }
