package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAccount()
	c.normalizeLLM()
	c.normalizeEmbeddings()
	c.normalizeTranscription()
	c.normalizeWorkflow()
	c.normalizeScheduler()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.InboxDir, err = expandPath(strings.TrimSpace(c.Paths.InboxDir)); err != nil {
		return fmt.Errorf("paths.inbox_dir: %w", err)
	}
	if c.Paths.FacetSeed, err = expandPath(strings.TrimSpace(c.Paths.FacetSeed)); err != nil {
		return fmt.Errorf("paths.facet_seed: %w", err)
	}
	return nil
}

func (c *Config) normalizeAccount() {
	c.Account.ID = strings.TrimSpace(c.Account.ID)
	if c.Account.ID == "" {
		c.Account.ID = defaultAccountID
	}
	c.Account.ProjectID = strings.TrimSpace(c.Account.ProjectID)
	if c.Account.ProjectID == "" {
		c.Account.ProjectID = defaultProjectID
	}
	c.Account.InterviewerName = strings.TrimSpace(c.Account.InterviewerName)
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.MaxAttempts <= 0 {
		c.LLM.MaxAttempts = defaultLLMMaxAttempts
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeEmbeddings() {
	c.Embeddings.APIKey = strings.TrimSpace(c.Embeddings.APIKey)
	if c.Embeddings.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.Embeddings.APIKey = strings.TrimSpace(value)
		}
	}
	c.Embeddings.BaseURL = strings.TrimSpace(c.Embeddings.BaseURL)
	c.Embeddings.Model = strings.TrimSpace(c.Embeddings.Model)
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = defaultEmbeddingModel
	}
	if c.Embeddings.DedupThreshold == 0 {
		c.Embeddings.DedupThreshold = defaultDedupThreshold
	}
	if c.Embeddings.LinkThreshold == 0 {
		c.Embeddings.LinkThreshold = defaultLinkThreshold
	}
}

func (c *Config) normalizeTranscription() {
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultTranscriptionModel
	}
	c.Transcription.Language = strings.ToLower(strings.TrimSpace(c.Transcription.Language))
	if c.Transcription.Language == "" {
		c.Transcription.Language = defaultTranscriptionLanguage
	}
	c.Transcription.HFToken = strings.TrimSpace(c.Transcription.HFToken)
	if c.Transcription.HFToken == "" {
		if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			c.Transcription.HFToken = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkflowWorkers
	}
	if c.Workflow.MaxEvidenceTokens <= 0 {
		c.Workflow.MaxEvidenceTokens = defaultMaxEvidenceTokens
	}
	if c.Workflow.RetryMaxAttempts <= 0 {
		c.Workflow.RetryMaxAttempts = defaultRetryMaxAttempts
	}
}

func (c *Config) normalizeScheduler() {
	c.Scheduler.Cron = strings.TrimSpace(c.Scheduler.Cron)
	if c.Scheduler.Cron == "" {
		c.Scheduler.Cron = defaultSchedulerCron
	}
	if c.Scheduler.LookbackHours <= 0 {
		c.Scheduler.LookbackHours = defaultSchedulerLookbackHours
	}
	if c.Scheduler.MaxBatch <= 0 {
		c.Scheduler.MaxBatch = defaultSchedulerMaxBatch
	}
	if c.Scheduler.BucketMinutes <= 0 {
		c.Scheduler.BucketMinutes = defaultSchedulerBucketMinutes
	}
	steps := make([]string, 0, len(c.Scheduler.DeferredSteps))
	seen := make(map[string]struct{}, len(c.Scheduler.DeferredSteps))
	for _, step := range c.Scheduler.DeferredSteps {
		normalized := strings.ToLower(strings.TrimSpace(step))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		steps = append(steps, normalized)
	}
	if len(steps) == 0 {
		steps = append(steps, DefaultDeferredSteps...)
	}
	c.Scheduler.DeferredSteps = steps
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("GLEANER_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
