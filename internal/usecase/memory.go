package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/domain"
	"mnemo/internal/port"
)

const (
	msgEmptyText      = "Text to save cannot be empty."
	msgEmptyQuery     = "Query text cannot be empty."
	msgNoResults      = "No relevant memories found."
	msgSaved          = "Memory saved successfully with ID: %s."
	msgSaveFailed     = "Failed to save memory: %v"
	msgRecallFailed   = "Failed to retrieve memories: %v"
	msgEmbedFailed    = "Failed to generate embedding for the query text: %v"
	msgOriginalError  = " Original error: %v"
	alignQueryAdvice  = "Query embedding strategy needs alignment with the index."
	defaultTextField  = "text"
	healthyMessage   = "Vector index reachable with %d records."
	unhealthyMessage = "Vector index unavailable: %v"
)

// MemoryOptions is the immutable configuration of a MemoryUseCase.
type MemoryOptions struct {
	Namespace   string
	TextField   string
	DefaultTopK int

	// IndexDimension enables the pre-query length check when > 0.
	IndexDimension int
	// IndexEmbedModel names the model the index embeds text records with.
	IndexEmbedModel string
}

// MemoryUseCase saves memories to the vector index and recalls the most
// relevant ones for a query. Save and Recall never return errors; every
// failure is folded into the result.
type MemoryUseCase struct {
	embedder port.Embedder
	index    port.VectorIndex
	cache    port.DisplayCache
	opts     MemoryOptions
	advisory string
	logger   *slog.Logger
	now      func() time.Time
}

// NewMemoryUseCase wires the use case. cache may be nil.
func NewMemoryUseCase(
	embedder port.Embedder,
	index port.VectorIndex,
	cache port.DisplayCache,
	opts MemoryOptions,
	logger *slog.Logger,
) *MemoryUseCase {
	if opts.TextField == "" {
		opts.TextField = defaultTextField
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = domain.DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryUseCase{
		embedder: embedder,
		index:    index,
		cache:    cache,
		opts:     opts,
		advisory: standingAdvisory(embedder.ModelName(), embedder.Dimension(), opts.IndexEmbedModel, opts.IndexDimension),
		logger:   logger,
		now:      time.Now,
	}
}

// Advisory returns the standing embedding-space caveat, or "" when the query
// embedder and the index agree.
func (u *MemoryUseCase) Advisory() string {
	return u.advisory
}

// Save stores text as a new memory. The index embeds the text itself.
func (u *MemoryUseCase) Save(ctx context.Context, req domain.SaveRequest) domain.SaveResult {
	if strings.TrimSpace(req.Text) == "" {
		return domain.SaveResult{Message: msgEmptyText, Kind: domain.KindInvalidInput}
	}

	id := req.CustomID
	if id == "" {
		id = uuid.NewString()
	}
	source := req.Source
	if source == "" {
		source = domain.DefaultSource
	}
	savedAt := u.now().UTC()

	meta := make(map[string]any, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta[domain.MetaCreatedAt] = savedAt.Format(time.RFC3339)
	meta[domain.MetaSource] = source

	err := u.index.Upsert(ctx, u.opts.Namespace, []port.IndexRecord{{ID: id, Text: req.Text, Metadata: meta}})
	if err != nil {
		u.logger.Error("save memory failed", "id", id, "error", err)
		return domain.SaveResult{
			Message: fmt.Sprintf(msgSaveFailed, err),
			Kind:    domain.Classify(err),
		}
	}

	if u.cache != nil {
		item := domain.CachedMemory{ID: id, Text: req.Text, Source: source, Namespace: u.opts.Namespace, SavedAt: savedAt}
		if err := u.cache.Put(item); err != nil {
			u.logger.Warn("display cache write failed", "id", id, "error", err)
		}
	}

	u.logger.Debug("memory saved", "id", id, "source", source)
	return domain.SaveResult{
		Success:  true,
		Message:  fmt.Sprintf(msgSaved, id),
		RecordID: id,
	}
}

// Recall returns up to topK memories relevant to query, best first.
func (u *MemoryUseCase) Recall(ctx context.Context, query string, topK int) domain.RecallResult {
	if topK <= 0 {
		topK = u.opts.DefaultTopK
	}
	if strings.TrimSpace(query) == "" {
		return degraded(domain.KindInvalidInput, msgEmptyQuery)
	}

	vec, err := u.embedder.Embed(ctx, query)
	if err == nil && len(vec) == 0 {
		err = fmt.Errorf("%w: empty vector", domain.ErrEmbeddingFailure)
	}
	if err != nil {
		u.logger.Warn("query embedding failed", "model", u.embedder.ModelName(), "error", err)
		return degraded(domain.KindEmbeddingFailure, fmt.Sprintf(msgEmbedFailed, err))
	}

	if dim := u.opts.IndexDimension; dim > 0 && len(vec) != dim {
		u.logger.Warn("query vector does not fit index", "query_dim", len(vec), "index_dim", dim)
		return degraded(domain.KindDimensionMismatch, u.mismatchDiagnostic(len(vec)))
	}

	raw, err := u.index.Query(ctx, u.opts.Namespace, port.QueryRequest{
		Vector:          vec,
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		kind := domain.Classify(err)
		u.logger.Warn("memory query failed", "kind", kind, "error", err)
		if kind == domain.KindDimensionMismatch {
			return degraded(kind, u.mismatchDiagnostic(len(vec))+fmt.Sprintf(msgOriginalError, err))
		}
		return degraded(domain.KindIndexUnavailable, fmt.Sprintf(msgRecallFailed, err))
	}

	matches := make([]domain.RetrievedMatch, 0, len(raw))
	for _, m := range raw {
		text, _ := m.Metadata[u.opts.TextField].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		matches = append(matches, domain.RetrievedMatch{
			ID:       m.ID,
			Score:    m.Score,
			Text:     text,
			Metadata: m.Metadata,
		})
		if len(matches) == topK {
			break
		}
	}

	if len(matches) == 0 {
		return domain.RecallResult{Matches: []domain.RetrievedMatch{}, Warning: msgNoResults, Kind: domain.KindNoResults}
	}
	return domain.RecallResult{Matches: matches, Warning: u.advisory}
}

func degraded(kind domain.ErrorKind, warning string) domain.RecallResult {
	return domain.RecallResult{Matches: []domain.RetrievedMatch{}, Warning: warning, Kind: kind}
}

func (u *MemoryUseCase) mismatchDiagnostic(queryDim int) string {
	index := "the index"
	if u.opts.IndexDimension > 0 || u.opts.IndexEmbedModel != "" {
		index = "the index (" + describeSpace(u.opts.IndexEmbedModel, u.opts.IndexDimension) + ")"
	}
	return fmt.Sprintf("Query embedding (%s) does not match %s. %s",
		describeSpace(u.embedder.ModelName(), queryDim), index, alignQueryAdvice)
}

// standingAdvisory describes a known disagreement between the query embedder
// and the index embedder. Recall still runs; results may just be poor.
func standingAdvisory(queryModel string, queryDim int, indexModel string, indexDim int) string {
	modelDiffers := queryModel != "" && indexModel != "" && !strings.EqualFold(queryModel, indexModel)
	dimDiffers := queryDim > 0 && indexDim > 0 && queryDim != indexDim
	if !modelDiffers && !dimDiffers {
		return ""
	}
	return fmt.Sprintf("Warning: Query embedding (%s) may mismatch the index (%s). This can lead to errors or poor results. %s",
		describeSpace(queryModel, queryDim), describeSpace(indexModel, indexDim), alignQueryAdvice)
}

func describeSpace(model string, dim int) string {
	switch {
	case model != "" && dim > 0:
		return fmt.Sprintf("%d-dim '%s'", dim, model)
	case dim > 0:
		return fmt.Sprintf("%d-dim", dim)
	case model != "":
		return "'" + model + "'"
	}
	return "unknown model"
}

// Forget deletes memories from the index, then from the display cache.
func (u *MemoryUseCase) Forget(ctx context.Context, ids []string) error {
	ids = nonBlank(ids)
	if len(ids) == 0 {
		return fmt.Errorf("%w: no memory ids given", domain.ErrInvalidInput)
	}
	if err := u.index.DeleteByIDs(ctx, u.opts.Namespace, ids); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	if u.cache != nil {
		if err := u.cache.Delete(ids); err != nil {
			u.logger.Warn("display cache delete failed", "error", err)
		}
	}
	return nil
}

// Inspect fetches stored memories by id, in the order asked. Unknown ids are
// skipped.
func (u *MemoryUseCase) Inspect(ctx context.Context, ids []string) ([]domain.MemoryRecord, error) {
	ids = nonBlank(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no memory ids given", domain.ErrInvalidInput)
	}
	found, err := u.index.FetchByIDs(ctx, u.opts.Namespace, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch memories: %w", err)
	}

	records := make([]domain.MemoryRecord, 0, len(found))
	for _, id := range ids {
		rec, ok := found[id]
		if !ok {
			continue
		}
		text := rec.Text
		if text == "" {
			text, _ = rec.Metadata[u.opts.TextField].(string)
		}
		records = append(records, domain.MemoryRecord{ID: id, Text: text, Metadata: rec.Metadata})
	}
	return records, nil
}

// Stats returns the index statistics, wrapping any index error.
func (u *MemoryUseCase) Stats(ctx context.Context) (domain.IndexStats, error) {
	stats, err := u.index.DescribeStats(ctx)
	if err != nil {
		return domain.IndexStats{}, fmt.Errorf("describe index: %w", err)
	}
	return stats, nil
}

// Health reports whether the index answers. An empty index is healthy.
func (u *MemoryUseCase) Health(ctx context.Context) domain.HealthReport {
	stats, err := u.index.DescribeStats(ctx)
	if err != nil {
		return domain.HealthReport{Message: fmt.Sprintf(unhealthyMessage, err)}
	}
	return domain.HealthReport{
		Healthy:     true,
		Message:     fmt.Sprintf(healthyMessage, stats.TotalRecordCount),
		RecordCount: stats.TotalRecordCount,
	}
}

// ErrNoCache is returned by display operations when no cache is configured.
var ErrNoCache = errors.New("display cache is disabled")

// Recent lists cached memories newest first, at most limit when limit > 0.
func (u *MemoryUseCase) Recent(limit int) ([]domain.CachedMemory, error) {
	if u.cache == nil {
		return nil, ErrNoCache
	}
	items, err := u.cache.List()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ClearCache empties the display cache. The index is untouched.
func (u *MemoryUseCase) ClearCache() error {
	if u.cache == nil {
		return ErrNoCache
	}
	return u.cache.Clear()
}

func nonBlank(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
