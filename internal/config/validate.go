package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

// KnownSteps lists the pipeline step names in execution order.
var KnownSteps = []string{"upload", "evidence", "insights", "personas", "answers", "finalize", "enrich-person"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateEmbeddings(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.poll_interval":        c.Workflow.PollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.max_evidence_tokens":  c.Workflow.MaxEvidenceTokens,
		"llm.timeout_seconds":           c.LLM.TimeoutSeconds,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateEmbeddings() error {
	if c.Embeddings.DedupThreshold <= 0 || c.Embeddings.DedupThreshold > 1 {
		return errors.New("embeddings.dedup_threshold must be between 0 and 1")
	}
	if c.Embeddings.LinkThreshold <= 0 || c.Embeddings.LinkThreshold > 1 {
		return errors.New("embeddings.link_threshold must be between 0 and 1")
	}
	if c.Embeddings.LinkThreshold >= c.Embeddings.DedupThreshold {
		return errors.New("embeddings.link_threshold must be lower than embeddings.dedup_threshold")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if !c.Scheduler.Enabled {
		return nil
	}
	if _, err := ParseSchedule(c.Scheduler.Cron); err != nil {
		return fmt.Errorf("scheduler.cron: %w", err)
	}
	for _, step := range c.Scheduler.DeferredSteps {
		if !slices.Contains(KnownSteps, step) {
			return fmt.Errorf("scheduler.deferred_steps: unknown step %q", step)
		}
		if step == "evidence" || step == "finalize" || step == "upload" {
			return fmt.Errorf("scheduler.deferred_steps: %q is a core step", step)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

// ParseSchedule validates a standard five-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(strings.TrimSpace(spec))
}
