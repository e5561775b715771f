package embedding

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"mnemo/internal/domain"
)

const defaultTimeout = 30 * time.Second

// OpenAIEmbedder talks to any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	// shorten asks the API for a reduced dimension (text-embedding-3-*).
	shorten bool
}

func NewOpenAIEmbedder(apiKeyEnv, model string, dimension int, timeout time.Duration) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.openai.com/v1", dimension, timeout)
}

func NewDeepSeekEmbedder(apiKeyEnv, model string, dimension int, timeout time.Duration) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.deepseek.com/v1", dimension, timeout)
}

func NewJinaEmbedder(apiKeyEnv, model string, dimension int, timeout time.Duration) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.jina.ai/v1", dimension, timeout)
}

func NewOpenAICompatibleEmbedder(apiKeyEnv, model, baseURL string, dimension int, timeout time.Duration) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	native := DefaultDimension(model)
	shorten := false
	if dimension <= 0 {
		dimension = native
	} else if dimension != native && supportsShortening(model) {
		shorten = true
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: dimension,
		shorten:   shorten,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	}
	if e.shorten {
		req.Dimensions = e.dimension
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrEmbeddingFailure, e.model, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: %s returned no data", domain.ErrEmbeddingFailure, e.model)
	}

	vec := resp.Data[0].Embedding
	if err := checkVector(vec, e.dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// DefaultDimension returns the output size of well-known embedding models.
func DefaultDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "jina-embeddings-v3", "multilingual-e5-large", "mxbai-embed-large", "llama-text-embed-v2":
		return 1024
	case "jina-embeddings-v4":
		return 2048
	case "embedding-001", "text-embedding-004", "nomic-embed-text":
		return 768
	case "all-minilm":
		return 384
	}
	return 0
}

func supportsShortening(model string) bool {
	return model == "text-embedding-3-small" || model == "text-embedding-3-large"
}

// checkVector rejects empty payloads and vectors whose length differs from
// the model's advertised dimension. A zero dimension skips the length check.
func checkVector(vec []float32, dimension int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty embedding", domain.ErrEmbeddingFailure)
	}
	if dimension > 0 && len(vec) != dimension {
		return fmt.Errorf("%w: got %d values, model dimension is %d", domain.ErrEmbeddingFailure, len(vec), dimension)
	}
	return nil
}
