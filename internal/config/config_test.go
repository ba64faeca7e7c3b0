package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"gleaner/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeysAndExpandsPaths(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "router-key")
	t.Setenv("OPENAI_API_KEY", "")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "gleaner")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "gleaner.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.LLM.APIKey != "router-key" {
		t.Fatalf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Embeddings.APIKey != "" {
		t.Fatalf("expected empty embeddings key, got %q", cfg.Embeddings.APIKey)
	}
	if cfg.Embeddings.DedupThreshold != 0.85 || cfg.Embeddings.LinkThreshold != 0.5 {
		t.Fatalf("unexpected thresholds: %+v", cfg.Embeddings)
	}
	if cfg.Workflow.ParityAutoHeal {
		t.Fatal("expected parity auto-heal disabled by default")
	}
	if cfg.Scheduler.Cron != "*/15 * * * *" {
		t.Fatalf("unexpected scheduler cron: %q", cfg.Scheduler.Cron)
	}
	if strings.Join(cfg.Scheduler.DeferredSteps, ",") != "personas,answers,enrich-person" {
		t.Fatalf("unexpected deferred steps: %v", cfg.Scheduler.DeferredSteps)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.InboxDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "gleaner.toml")

	type payload struct {
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
		Workflow struct {
			Workers        int  `toml:"workers"`
			ParityAutoHeal bool `toml:"parity_auto_heal"`
		} `toml:"workflow"`
		Scheduler struct {
			DeferredSteps []string `toml:"deferred_steps"`
		} `toml:"scheduler"`
	}
	custom := payload{}
	custom.Paths.StateDir = filepath.Join(tempDir, "state")
	custom.Workflow.Workers = 4
	custom.Workflow.ParityAutoHeal = true
	custom.Scheduler.DeferredSteps = []string{" Personas ", "answers", "personas"}

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom path to resolve, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempDir, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Workflow.Workers != 4 || !cfg.Workflow.ParityAutoHeal {
		t.Fatalf("unexpected workflow config: %+v", cfg.Workflow)
	}
	if strings.Join(cfg.Scheduler.DeferredSteps, ",") != "personas,answers" {
		t.Fatalf("expected deduplicated deferred steps, got %v", cfg.Scheduler.DeferredSteps)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "heartbeat timeout below interval",
			mutate:  func(c *config.Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval },
			wantErr: "heartbeat_timeout",
		},
		{
			name:    "link threshold above dedup",
			mutate:  func(c *config.Config) { c.Embeddings.LinkThreshold = 0.9 },
			wantErr: "link_threshold",
		},
		{
			name:    "invalid cron",
			mutate:  func(c *config.Config) { c.Scheduler.Cron = "every now and then" },
			wantErr: "scheduler.cron",
		},
		{
			name:    "core step deferred",
			mutate:  func(c *config.Config) { c.Scheduler.DeferredSteps = []string{"evidence"} },
			wantErr: "core step",
		},
		{
			name:    "unknown step deferred",
			mutate:  func(c *config.Config) { c.Scheduler.DeferredSteps = []string{"summarize"} },
			wantErr: "unknown step",
		},
		{
			name:    "zero workers",
			mutate:  func(c *config.Config) { c.Workflow.Workers = 0 },
			wantErr: "workflow.workers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateSampleLoadsCleanly(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.API.Bind != "127.0.0.1:7491" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
}
