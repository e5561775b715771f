package embedding

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"mnemo/internal/domain"
)

// GeminiEmbedder uses Google's embedding models (768-dim by default).
type GeminiEmbedder struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	name      string
	dimension int
	timeout   time.Duration
}

func NewGeminiEmbedder(ctx context.Context, apiKeyEnv, model string, timeout time.Duration) (*GeminiEmbedder, error) {
	if apiKeyEnv == "" {
		apiKeyEnv = "GOOGLE_API_KEY"
	}
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	if model == "" {
		model = "text-embedding-004"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cli, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiEmbedder{
		client:    cli,
		model:     cli.EmbeddingModel(model),
		name:      model,
		dimension: DefaultDimension(model),
		timeout:   timeout,
	}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrEmbeddingFailure, e.name, err)
	}
	if resp == nil || resp.Embedding == nil {
		return nil, fmt.Errorf("%w: %s returned no embedding", domain.ErrEmbeddingFailure, e.name)
	}
	if err := checkVector(resp.Embedding.Values, e.dimension); err != nil {
		return nil, err
	}
	return resp.Embedding.Values, nil
}

func (e *GeminiEmbedder) Dimension() int {
	return e.dimension
}

func (e *GeminiEmbedder) ModelName() string {
	return e.name
}

func (e *GeminiEmbedder) Close() error {
	return e.client.Close()
}
