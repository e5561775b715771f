package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"mnemo/config"
	"mnemo/internal/adapter/analyzer"
	"mnemo/internal/adapter/embedding"
	"mnemo/internal/adapter/store"
	"mnemo/internal/adapter/vectorindex"
	"mnemo/internal/port"
	"mnemo/internal/usecase"
)

// services is everything a command can use. close releases it all.
type services struct {
	memory  *usecase.MemoryUseCase
	pack    *usecase.PackUseCase
	tok     *analyzer.Tokenizer
	closers []io.Closer
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
}

func newEmbedder(ctx context.Context, ec config.EmbeddingConfig) (port.Embedder, error) {
	var (
		emb port.Embedder
		err error
	)
	switch ec.Provider {
	case "openai":
		emb, err = embedding.NewOpenAIEmbedder(ec.APIKeyEnv, ec.Model, ec.Dimension, ec.Timeout)
	case "deepseek":
		emb, err = embedding.NewDeepSeekEmbedder(ec.APIKeyEnv, ec.Model, ec.Dimension, ec.Timeout)
	case "jina":
		emb, err = embedding.NewJinaEmbedder(ec.APIKeyEnv, ec.Model, ec.Dimension, ec.Timeout)
	case "openai-compatible":
		emb, err = embedding.NewOpenAICompatibleEmbedder(ec.APIKeyEnv, ec.Model, ec.BaseURL, ec.Dimension, ec.Timeout)
	case "gemini":
		emb, err = embedding.NewGeminiEmbedder(ctx, ec.APIKeyEnv, ec.Model, ec.Timeout)
	case "ollama":
		emb, err = embedding.NewOllamaEmbedder(ec.Model, ec.BaseURL, ec.Timeout)
	case "mock":
		name := ec.Model
		if name == "" {
			name = "mock"
		}
		emb = embedding.NewNamedMockEmbedder(name, ec.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ec.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", ec.Provider, err)
	}
	return emb, nil
}

// newIndex opens the configured backend. Local backends embed text records
// with the index embedder from index.embedding.
func (a *app) newIndex(ctx context.Context, svc *services) (port.VectorIndex, error) {
	ic := a.cfg.Index
	switch ic.Backend {
	case config.BackendPinecone:
		idx, err := vectorindex.NewPineconeIndex(ctx, vectorindex.PineconeOptions{
			APIKey:      ic.APIKey,
			IndexName:   ic.Name,
			Environment: ic.Environment,
			Host:        ic.Host,
			ControlURL:  ic.ControlURL,
			TextField:   ic.TextField,
			Timeout:     ic.Timeout,
		})
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, idx)
		return idx, nil
	case config.BackendChromem, config.BackendBolt:
	default:
		return nil, fmt.Errorf("unsupported index backend: %q", ic.Backend)
	}

	emb, err := newEmbedder(ctx, ic.Embedding)
	if err != nil {
		return nil, fmt.Errorf("index embedder: %w", err)
	}
	if c, ok := emb.(io.Closer); ok {
		svc.closers = append(svc.closers, c)
	}

	path := a.resolve(ic.Path)
	if ic.Backend == config.BackendChromem {
		return vectorindex.NewChromemIndex(path, emb, ic.TextField)
	}
	idx, err := vectorindex.NewBoltIndex(path, emb, ic.TextField)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, idx)
	return idx, nil
}

func (a *app) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.rootDir, path)
}

// open builds the memory layer from config. Callers must close the result.
func (a *app) open(ctx context.Context) (*services, error) {
	svc := &services{tok: analyzer.NewTokenizer()}
	svc.pack = usecase.NewPackUseCase(svc.tok)

	emb, err := newEmbedder(ctx, a.cfg.Embedding)
	if err != nil {
		return nil, err
	}
	if c, ok := emb.(io.Closer); ok {
		svc.closers = append(svc.closers, c)
	}

	idx, err := a.newIndex(ctx, svc)
	if err != nil {
		svc.close()
		return nil, err
	}

	opts := usecase.MemoryOptions{
		Namespace:       a.cfg.Memory.Namespace,
		TextField:       a.cfg.Index.TextField,
		DefaultTopK:     a.cfg.Memory.TopK,
		IndexDimension:  a.cfg.Index.Dimension,
		IndexEmbedModel: a.cfg.Index.Embedding.Model,
	}
	if opts.IndexDimension == 0 {
		// Without a known dimension the mismatch check only fires after the
		// index rejects a query.
		stats, err := idx.DescribeStats(ctx)
		if err != nil {
			a.logger.Warn("could not describe index", "error", err)
		} else {
			opts.IndexDimension = stats.Dimension
			if stats.EmbedModel != "" {
				opts.IndexEmbedModel = stats.EmbedModel
			}
		}
	}

	// A nil *BoltCache must not reach the use case as a non-nil interface.
	var cache port.DisplayCache
	if a.cfg.Cache.Enabled {
		c, err := a.openCache()
		if err != nil {
			a.logger.Warn("display cache disabled", "error", err)
		} else {
			svc.closers = append(svc.closers, c)
			cache = c
		}
	}

	svc.memory = usecase.NewMemoryUseCase(emb, idx, cache, opts, a.logger)
	if adv := svc.memory.Advisory(); adv != "" {
		a.logger.Warn(adv)
	}
	return svc, nil
}

func (a *app) openCache() (*store.BoltCache, error) {
	path := a.cfg.CachePath(a.rootDir)
	if a.cfg.Cache.Path == "" {
		if err := config.EnsureDataDir(a.rootDir); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	} else {
		path = a.resolve(path)
	}

	c, err := store.NewBoltCache(path)
	if err != nil {
		return nil, err
	}
	res, err := c.Sync(store.IndexFingerprint(a.cfg))
	if err != nil {
		c.Close()
		return nil, err
	}
	if res.Cleared {
		a.logger.Info("display cache reset", "reason", res.Reason)
	}
	return c, nil
}
