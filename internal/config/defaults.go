package config

const (
	defaultStateDir                  = "~/.local/share/gleaner"
	defaultLogDir                    = "~/.local/share/gleaner/logs"
	defaultInboxDir                  = "~/.local/share/gleaner/inbox"
	defaultAccountID                 = "default"
	defaultProjectID                 = "default"
	defaultLLMBaseURL                = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                  = "google/gemini-3-flash-preview"
	defaultLLMReferer                = "https://github.com/gleaner/gleaner"
	defaultLLMTitle                  = "Gleaner Evidence Extractor"
	defaultLLMTimeoutSeconds         = 120
	defaultLLMMaxAttempts            = 5
	defaultEmbeddingModel            = "text-embedding-3-small"
	defaultDedupThreshold            = 0.85
	defaultLinkThreshold             = 0.5
	defaultTranscriptionModel        = "large-v3-turbo"
	defaultTranscriptionLanguage     = "en"
	defaultWorkflowWorkers           = 2
	defaultWorkflowHeartbeatInterval = 15
	defaultWorkflowHeartbeatTimeout  = 120
	defaultMaxEvidenceTokens         = 120000
	defaultRetryMaxAttempts          = 3
	defaultSchedulerCron             = "*/15 * * * *"
	defaultSchedulerLookbackHours    = 72
	defaultSchedulerMaxBatch         = 50
	defaultSchedulerBucketMinutes    = 15
	defaultAPIBind                   = "127.0.0.1:7491"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// DefaultDeferredSteps lists the steps the scheduler completes after the core
// steps have run.
var DefaultDeferredSteps = []string{"personas", "answers", "enrich-person"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			InboxDir: defaultInboxDir,
		},
		Account: Account{
			ID:        defaultAccountID,
			ProjectID: defaultProjectID,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			MaxAttempts:    defaultLLMMaxAttempts,
		},
		Embeddings: Embeddings{
			Model:          defaultEmbeddingModel,
			DedupThreshold: defaultDedupThreshold,
			LinkThreshold:  defaultLinkThreshold,
		},
		Transcription: Transcription{
			Model:    defaultTranscriptionModel,
			Language: defaultTranscriptionLanguage,
		},
		Workflow: Workflow{
			Workers:            defaultWorkflowWorkers,
			PollInterval:       5,
			ErrorRetryInterval: 10,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:   defaultWorkflowHeartbeatTimeout,
			MaxEvidenceTokens:  defaultMaxEvidenceTokens,
			RetryMaxAttempts:   defaultRetryMaxAttempts,
		},
		Scheduler: Scheduler{
			Enabled:       true,
			Cron:          defaultSchedulerCron,
			LookbackHours: defaultSchedulerLookbackHours,
			MaxBatch:      defaultSchedulerMaxBatch,
			BucketMinutes: defaultSchedulerBucketMinutes,
			DeferredSteps: append([]string(nil), DefaultDeferredSteps...),
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Completed:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
