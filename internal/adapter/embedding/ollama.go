package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"

	"mnemo/internal/domain"
)

type OllamaEmbedder struct {
	client    *ollama.Client
	model     string
	dimension int
}

func NewOllamaEmbedder(model, baseURL string, timeout time.Duration) (*OllamaEmbedder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url: %w", err)
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &OllamaEmbedder{
		client:    ollama.NewClient(u, &http.Client{Timeout: timeout}),
		model:     model,
		dimension: DefaultDimension(model),
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrEmbeddingFailure, e.model, err)
	}
	if res == nil || len(res.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: %s returned no embeddings", domain.ErrEmbeddingFailure, e.model)
	}
	if err := checkVector(res.Embeddings[0], e.dimension); err != nil {
		return nil, err
	}
	return res.Embeddings[0], nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

func (e *OllamaEmbedder) ModelName() string {
	return e.model
}
