package embeddings

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"

	"gleaner/internal/config"
	"gleaner/internal/services"
	"gleaner/internal/textutil"
)

// LocalDimensions is the width of LocalEmbedder vectors.
const LocalDimensions = 256

// Embedder maps texts to vectors, one per input in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// New selects the embedder for the [embeddings] config section.
func New(cfg *config.Config) Embedder {
	if cfg == nil || strings.TrimSpace(cfg.Embeddings.APIKey) == "" {
		return LocalEmbedder{}
	}
	return NewOpenAIEmbedder(cfg.Embeddings.APIKey, cfg.Embeddings.BaseURL, cfg.Embeddings.Model, cfg.Workflow.RetryMaxAttempts)
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	retry  services.RetryPolicy
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, attempts int) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	embeddingModel := openai.SmallEmbedding3
	if model = strings.TrimSpace(model); model != "" {
		embeddingModel = openai.EmbeddingModel(model)
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  embeddingModel,
		retry:  services.DefaultRetryPolicy(attempts),
	}
}

// WithRetryPolicy replaces the retry policy (tests).
func (e *OpenAIEmbedder) WithRetryPolicy(policy services.RetryPolicy) *OpenAIEmbedder {
	e.retry = policy
	return e
}

// Embed requests vectors for all texts in one call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out [][]float32
	err := services.Retry(ctx, e.retry, func(ctx context.Context, _ int) error {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: e.model,
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("embeddings: got %d vectors for %d inputs: %w", len(resp.Data), len(texts), services.ErrTransient)
		}
		out = make([][]float32, len(texts))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(texts) {
				return fmt.Errorf("embeddings: index %d out of range: %w", item.Index, services.ErrExternalTool)
			}
			out[item.Index] = item.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type providerError struct {
	status int
	err    error
}

func (e *providerError) Error() string       { return fmt.Sprintf("embeddings: http %d: %v", e.status, e.err) }
func (e *providerError) Unwrap() error       { return e.err }
func (e *providerError) HTTPStatusCode() int { return e.status }

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &providerError{status: apiErr.HTTPStatusCode, err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &providerError{status: reqErr.HTTPStatusCode, err: err}
	}
	return fmt.Errorf("embeddings: %w", err)
}

// LocalEmbedder hashes tokens into LocalDimensions buckets and L2
// normalizes the result.
type LocalEmbedder struct{}

func (LocalEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = localVector(text)
	}
	return out, nil
}

func localVector(text string) []float32 {
	vec := make([]float32, LocalDimensions)
	for _, token := range textutil.Tokenize(textutil.FoldAccents(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[(sum>>1)%LocalDimensions] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
