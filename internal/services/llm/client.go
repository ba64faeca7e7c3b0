package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gleaner/internal/config"
	"gleaner/internal/services"
)

const (
	defaultEndpoint       = "https://openrouter.ai/api/v1/chat/completions"
	defaultHTTPTimeout    = 15 * time.Second
	defaultRetryBaseDelay = time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryAttempts  = 5
)

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// Client calls an OpenRouter-compatible chat completions endpoint on behalf
// of the pipeline steps.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      services.RetryPolicy
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides how many times one call is sent.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retry.MaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retry.BaseDelay = baseDelay
		c.retry.MaxDelay = maxDelay
	}
}

// WithSleeper replaces the wait between attempts (tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		if sleeper == nil {
			return
		}
		c.retry.Sleep = func(ctx context.Context, delay time.Duration) error {
			sleeper(delay)
			return ctx.Err()
		}
	}
}

// NewClient constructs an LLM client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg = Config{
		APIKey:         strings.TrimSpace(cfg.APIKey),
		BaseURL:        strings.TrimSpace(cfg.BaseURL),
		Model:          strings.TrimSpace(cfg.Model),
		Referer:        strings.TrimSpace(cfg.Referer),
		Title:          strings.TrimSpace(cfg.Title),
		TimeoutSeconds: cfg.TimeoutSeconds,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEndpoint
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		retry: services.RetryPolicy{
			MaxAttempts: defaultRetryAttempts,
			BaseDelay:   defaultRetryBaseDelay,
			MaxDelay:    defaultRetryMaxDelay,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// NewFromConfig builds a client from the [llm] config section.
func NewFromConfig(cfg *config.Config, opts ...Option) *Client {
	settings := cfg.GetLLM()
	var base []Option
	if settings.MaxAttempts > 0 {
		base = append(base, WithRetryMaxAttempts(settings.MaxAttempts))
	}
	return NewClient(Config{
		APIKey:         settings.APIKey,
		BaseURL:        settings.BaseURL,
		Model:          settings.Model,
		Referer:        settings.Referer,
		Title:          settings.Title,
		TimeoutSeconds: settings.TimeoutSeconds,
	}, append(base, opts...)...)
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// healthCall is the cheapest request that proves the key and model work.
var healthCall = promptCall{
	op:      "llm health",
	system:  "You must respond with JSON only.",
	request: map[string]string{"instruction": `Respond with {"ok":true}`},
}

// HealthCheck issues a fast ping to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := c.run(ctx, healthCall, &parsed); err != nil {
		return err
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

// ExtractEvidence runs extraction for one transcript batch.
func (c *Client) ExtractEvidence(ctx context.Context, req EvidenceRequest) (EvidenceResponse, error) {
	var out EvidenceResponse
	if strings.TrimSpace(req.Transcript) == "" {
		return out, fmt.Errorf("llm extract: %w: empty transcript", services.ErrValidation)
	}
	err := c.run(ctx, promptCall{op: "llm extract", system: EvidencePrompt, request: req}, &out)
	return out, err
}

// GenerateInsights proposes themes for an interview's evidence.
func (c *Client) GenerateInsights(ctx context.Context, req InsightRequest) (InsightResponse, error) {
	var out InsightResponse
	if len(req.Evidence) == 0 {
		return out, nil
	}
	err := c.run(ctx, promptCall{op: "llm insights", system: InsightPrompt, request: req}, &out)
	return out, err
}

// AssignPersonas groups people into personas.
func (c *Client) AssignPersonas(ctx context.Context, req PersonaRequest) (PersonaResponse, error) {
	var out PersonaResponse
	if len(req.People) == 0 {
		return out, nil
	}
	err := c.run(ctx, promptCall{op: "llm personas", system: PersonaPrompt, request: req}, &out)
	return out, err
}

// AttributeAnswers answers project questions from evidence.
func (c *Client) AttributeAnswers(ctx context.Context, req AnswerRequest) (AnswerResponse, error) {
	var out AnswerResponse
	if len(req.Questions) == 0 || len(req.Evidence) == 0 {
		return out, nil
	}
	err := c.run(ctx, promptCall{op: "llm answers", system: AnswerPrompt, request: req}, &out)
	return out, err
}

// EnrichPerson infers profile fields for one person.
func (c *Client) EnrichPerson(ctx context.Context, req EnrichRequest) (EnrichResponse, error) {
	var out EnrichResponse
	if strings.TrimSpace(req.Name) == "" {
		return out, fmt.Errorf("llm enrich: %w: name required", services.ErrValidation)
	}
	if err := c.run(ctx, promptCall{op: "llm enrich", system: EnrichPrompt, request: req}, &out); err != nil {
		return out, err
	}
	out.Description = strings.TrimSpace(out.Description)
	out.Organization = strings.TrimSpace(out.Organization)
	out.Role = strings.TrimSpace(out.Role)
	out.Segment = strings.TrimSpace(out.Segment)
	return out, nil
}
