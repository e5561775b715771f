package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/adapter/embedding"
	"mnemo/internal/adapter/store"
	"mnemo/internal/adapter/vectorindex"
	"mnemo/internal/domain"
	"mnemo/internal/port"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type failingEmbedder struct{ err error }

func (e failingEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, e.err }
func (e failingEmbedder) Dimension() int                                   { return 8 }
func (e failingEmbedder) ModelName() string                                { return "broken" }

type fixedEmbedder struct {
	vec   []float32
	model string
}

func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vec, nil }
func (e fixedEmbedder) Dimension() int                                   { return len(e.vec) }
func (e fixedEmbedder) ModelName() string                                { return e.model }

// fakeIndex answers queries with canned matches and records upserts.
type fakeIndex struct {
	mu       sync.Mutex
	matches  []port.IndexMatch
	err      error
	upserts  []port.IndexRecord
	deleted  []string
	queried  int
	lastTopK int
}

func (f *fakeIndex) Upsert(_ context.Context, _ string, records []port.IndexRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, records...)
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ string, req port.QueryRequest) ([]port.IndexMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried++
	f.lastTopK = req.TopK
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func (f *fakeIndex) DeleteByIDs(_ context.Context, _ string, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return f.err
}

func (f *fakeIndex) FetchByIDs(context.Context, string, []string) (map[string]port.IndexRecord, error) {
	return nil, f.err
}

func (f *fakeIndex) DescribeStats(context.Context) (domain.IndexStats, error) {
	if f.err != nil {
		return domain.IndexStats{}, f.err
	}
	return domain.IndexStats{TotalRecordCount: len(f.upserts)}, nil
}

type brokenCache struct{}

func (brokenCache) Put(domain.CachedMemory) error        { return errors.New("disk full") }
func (brokenCache) List() ([]domain.CachedMemory, error) { return nil, errors.New("disk full") }
func (brokenCache) Delete([]string) error                { return errors.New("disk full") }
func (brokenCache) Clear() error                         { return errors.New("disk full") }

func newBoltMemory(t *testing.T, cache port.DisplayCache) (*MemoryUseCase, *vectorindex.BoltIndex) {
	t.Helper()
	emb := embedding.NewMockEmbedder(64)
	idx, err := vectorindex.NewBoltIndex(filepath.Join(t.TempDir(), "index.db"), emb, "text")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	uc := NewMemoryUseCase(emb, idx, cache, MemoryOptions{IndexDimension: 64, IndexEmbedModel: emb.ModelName()}, quietLogger)
	return uc, idx
}

func TestMemory_SaveThenRecallScenario(t *testing.T) {
	ctx := context.Background()
	uc, _ := newBoltMemory(t, nil)

	saved := uc.Save(ctx, domain.SaveRequest{Text: "The sky is blue.", Source: "test"})
	require.True(t, saved.Success, saved.Message)
	require.NotEmpty(t, saved.RecordID)
	assert.Equal(t, fmt.Sprintf("Memory saved successfully with ID: %s.", saved.RecordID), saved.Message)
	assert.Equal(t, domain.KindNone, saved.Kind)

	res := uc.Recall(ctx, "what color is the sky", 1)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "The sky is blue.", res.Matches[0].Text)
	assert.Equal(t, saved.RecordID, res.Matches[0].ID)
	assert.Empty(t, res.Warning)
	assert.Equal(t, domain.KindNone, res.Kind)
}

func TestMemory_SaveMetadata(t *testing.T) {
	ctx := context.Background()
	uc, idx := newBoltMemory(t, nil)
	uc.now = func() time.Time { return time.Date(2026, 10, 18, 11, 30, 0, 0, time.FixedZone("CEST", 2*3600)) }

	res := uc.Save(ctx, domain.SaveRequest{
		Text:     "Dentist on Tuesday.",
		CustomID: "appt-1",
		Metadata: map[string]any{"tag": "health", "source": "overridden", "createdAt": "stale"},
	})
	require.True(t, res.Success)
	assert.Equal(t, "appt-1", res.RecordID)

	got, err := idx.FetchByIDs(ctx, "", []string{"appt-1"})
	require.NoError(t, err)
	meta := got["appt-1"].Metadata
	assert.Equal(t, "health", meta["tag"])
	assert.Equal(t, domain.DefaultSource, meta["source"])
	assert.Equal(t, "2026-10-18T09:30:00Z", meta["createdAt"])
	assert.Equal(t, "Dentist on Tuesday.", meta["text"])
}

func TestMemory_SaveBlankText(t *testing.T) {
	idx := &fakeIndex{}
	uc := NewMemoryUseCase(embedding.NewMockEmbedder(8), idx, nil, MemoryOptions{}, quietLogger)

	res := uc.Save(context.Background(), domain.SaveRequest{Text: "  \n\t"})
	assert.False(t, res.Success)
	assert.Equal(t, "Text to save cannot be empty.", res.Message)
	assert.Equal(t, domain.KindInvalidInput, res.Kind)
	assert.Empty(t, idx.upserts)
}

func TestMemory_SaveIndexFailure(t *testing.T) {
	idx := &fakeIndex{err: fmt.Errorf("%w: HTTP 503", domain.ErrIndexUnavailable)}
	uc := NewMemoryUseCase(embedding.NewMockEmbedder(8), idx, nil, MemoryOptions{}, quietLogger)

	res := uc.Save(context.Background(), domain.SaveRequest{Text: "remember this"})
	assert.False(t, res.Success)
	assert.Empty(t, res.RecordID)
	assert.Contains(t, res.Message, "Failed to save memory: ")
	assert.Contains(t, res.Message, "HTTP 503")
	assert.Equal(t, domain.KindIndexUnavailable, res.Kind)
}

func TestMemory_SaveMirrorsToCache(t *testing.T) {
	cache, err := store.NewBoltCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer cache.Close()

	uc, _ := newBoltMemory(t, cache)
	res := uc.Save(context.Background(), domain.SaveRequest{Text: "Cached memory", Source: "Chat Input"})
	require.True(t, res.Success)

	items, err := uc.Recent(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, res.RecordID, items[0].ID)
	assert.Equal(t, "Chat Input", items[0].Source)

	require.NoError(t, uc.Forget(context.Background(), []string{res.RecordID}))
	items, err = uc.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemory_CacheFailureDoesNotFailSave(t *testing.T) {
	uc := NewMemoryUseCase(embedding.NewMockEmbedder(8), &fakeIndex{}, brokenCache{}, MemoryOptions{}, quietLogger)
	res := uc.Save(context.Background(), domain.SaveRequest{Text: "still saved"})
	assert.True(t, res.Success)
}

func TestMemory_RecallEmbeddingFailure(t *testing.T) {
	idx := &fakeIndex{}
	uc := NewMemoryUseCase(failingEmbedder{err: errors.New("connection refused")}, idx, nil, MemoryOptions{}, quietLogger)

	res := uc.Recall(context.Background(), "x", 3)
	require.NotNil(t, res.Matches)
	assert.Empty(t, res.Matches)
	assert.NotEmpty(t, res.Warning)
	assert.Contains(t, res.Warning, "connection refused")
	assert.Equal(t, domain.KindEmbeddingFailure, res.Kind)
	assert.True(t, res.Degraded())
	assert.Zero(t, idx.queried, "index must not be queried without a vector")
}

func TestMemory_RecallEmptyVector(t *testing.T) {
	idx := &fakeIndex{}
	uc := NewMemoryUseCase(fixedEmbedder{vec: nil, model: "m"}, idx, nil, MemoryOptions{}, quietLogger)

	res := uc.Recall(context.Background(), "x", 3)
	assert.Equal(t, domain.KindEmbeddingFailure, res.Kind)
	assert.Zero(t, idx.queried)
}

func TestMemory_RecallBlankQuery(t *testing.T) {
	idx := &fakeIndex{}
	uc := NewMemoryUseCase(embedding.NewMockEmbedder(8), idx, nil, MemoryOptions{}, quietLogger)

	res := uc.Recall(context.Background(), "   ", 3)
	assert.Empty(t, res.Matches)
	assert.Equal(t, domain.KindInvalidInput, res.Kind)
	assert.Zero(t, idx.queried)
}

func TestMemory_RecallDimensionPreCheck(t *testing.T) {
	idx := &fakeIndex{}
	emb := fixedEmbedder{vec: make([]float32, 768), model: "text-embedding-004"}
	uc := NewMemoryUseCase(emb, idx, nil, MemoryOptions{IndexDimension: 1024, IndexEmbedModel: "multilingual-e5-large"}, quietLogger)

	res := uc.Recall(context.Background(), "what color is the sky", 3)
	assert.Empty(t, res.Matches)
	assert.Equal(t, domain.KindDimensionMismatch, res.Kind)
	assert.Contains(t, res.Warning, "768-dim 'text-embedding-004'")
	assert.Contains(t, res.Warning, "1024-dim 'multilingual-e5-large'")
	assert.Zero(t, idx.queried)
}

func TestMemory_RecallDimensionErrorFromIndex(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"typed", fmt.Errorf("query: %w", domain.ErrDimensionMismatch)},
		{"message", errors.New("Vector dimension 768 does not match the dimension of the index 1024")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &fakeIndex{err: tt.err}
			uc := NewMemoryUseCase(fixedEmbedder{vec: make([]float32, 4), model: "m"}, idx, nil, MemoryOptions{}, quietLogger)

			res := uc.Recall(context.Background(), "x", 3)
			assert.Empty(t, res.Matches)
			assert.Equal(t, domain.KindDimensionMismatch, res.Kind)
			assert.Contains(t, res.Warning, "does not match the index")
			assert.Contains(t, res.Warning, "Original error: "+tt.err.Error())
		})
	}
}

func TestMemory_RecallIndexFailure(t *testing.T) {
	idx := &fakeIndex{err: errors.New("dial tcp: i/o timeout")}
	uc := NewMemoryUseCase(fixedEmbedder{vec: []float32{1, 0}, model: "m"}, idx, nil, MemoryOptions{}, quietLogger)

	res := uc.Recall(context.Background(), "x", 3)
	assert.Empty(t, res.Matches)
	assert.Equal(t, "Failed to retrieve memories: dial tcp: i/o timeout", res.Warning)
	assert.Equal(t, domain.KindIndexUnavailable, res.Kind)
}

func TestMemory_RecallEmptyIndex(t *testing.T) {
	uc, _ := newBoltMemory(t, nil)

	res := uc.Recall(context.Background(), "anything at all", 3)
	require.NotNil(t, res.Matches)
	assert.Empty(t, res.Matches)
	assert.Equal(t, "No relevant memories found.", res.Warning)
	assert.Equal(t, domain.KindNoResults, res.Kind)
	assert.False(t, res.Degraded())
}

func TestMemory_RecallFiltersEmptyText(t *testing.T) {
	idx := &fakeIndex{matches: []port.IndexMatch{
		{ID: "a", Score: 0.9, Metadata: map[string]any{"text": "first"}},
		{ID: "b", Score: 0.8, Metadata: map[string]any{"source": "no text"}},
		{ID: "c", Score: 0.7, Metadata: map[string]any{"text": "third"}},
	}}
	uc := NewMemoryUseCase(fixedEmbedder{vec: []float32{1, 0}, model: "m"}, idx, nil, MemoryOptions{}, quietLogger)

	res := uc.Recall(context.Background(), "x", 3)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "a", res.Matches[0].ID)
	assert.Equal(t, "c", res.Matches[1].ID)
	assert.Equal(t, domain.KindNone, res.Kind)
}

func TestMemory_RecallAllEmptyTextIsNoResults(t *testing.T) {
	idx := &fakeIndex{matches: []port.IndexMatch{
		{ID: "a", Score: 0.9, Metadata: map[string]any{"text": "  "}},
		{ID: "b", Score: 0.8},
	}}
	uc := NewMemoryUseCase(fixedEmbedder{vec: []float32{1, 0}, model: "m"}, idx, nil, MemoryOptions{}, quietLogger)

	res := uc.Recall(context.Background(), "x", 3)
	assert.Empty(t, res.Matches)
	assert.Equal(t, domain.KindNoResults, res.Kind)
}

func TestMemory_RecallCustomTextField(t *testing.T) {
	idx := &fakeIndex{matches: []port.IndexMatch{
		{ID: "a", Score: 0.9, Metadata: map[string]any{"content": "in another field", "text": "ignored"}},
	}}
	uc := NewMemoryUseCase(fixedEmbedder{vec: []float32{1, 0}, model: "m"}, idx, nil, MemoryOptions{TextField: "content"}, quietLogger)

	res := uc.Recall(context.Background(), "x", 1)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "in another field", res.Matches[0].Text)
}

func TestMemory_RecallTopK(t *testing.T) {
	ctx := context.Background()
	uc, _ := newBoltMemory(t, nil)
	for i := 0; i < 10; i++ {
		require.True(t, uc.Save(ctx, domain.SaveRequest{Text: fmt.Sprintf("memory about the sea number %d", i)}).Success)
	}

	res := uc.Recall(ctx, "the sea", 4)
	assert.Len(t, res.Matches, 4)
	for i := 1; i < len(res.Matches); i++ {
		assert.GreaterOrEqual(t, res.Matches[i-1].Score, res.Matches[i].Score)
	}

	res = uc.Recall(ctx, "the sea", 0)
	assert.Len(t, res.Matches, domain.DefaultTopK)
}

func TestMemory_RecallDefaultTopKPassedToIndex(t *testing.T) {
	idx := &fakeIndex{}
	uc := NewMemoryUseCase(fixedEmbedder{vec: []float32{1}, model: "m"}, idx, nil, MemoryOptions{}, quietLogger)

	uc.Recall(context.Background(), "x", -5)
	assert.Equal(t, 3, idx.lastTopK)
}

func TestMemory_StandingAdvisory(t *testing.T) {
	idx := &fakeIndex{matches: []port.IndexMatch{{ID: "a", Score: 0.4, Metadata: map[string]any{"text": "hit"}}}}
	emb := fixedEmbedder{vec: make([]float32, 1024), model: "text-embedding-004"}
	uc := NewMemoryUseCase(emb, idx, nil, MemoryOptions{IndexEmbedModel: "multilingual-e5-large"}, quietLogger)

	require.NotEmpty(t, uc.Advisory())
	res := uc.Recall(context.Background(), "x", 3)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, uc.Advisory(), res.Warning)
	assert.Contains(t, res.Warning, "'multilingual-e5-large'")
	assert.Equal(t, domain.KindNone, res.Kind)
}

func TestStandingAdvisory(t *testing.T) {
	assert.Empty(t, standingAdvisory("m", 8, "", 0))
	assert.Empty(t, standingAdvisory("M", 8, "m", 8))
	assert.NotEmpty(t, standingAdvisory("a", 8, "b", 8))
	assert.NotEmpty(t, standingAdvisory("m", 768, "", 1024))
}

func TestMemory_ConcurrentSaveAndRecall(t *testing.T) {
	ctx := context.Background()
	uc, _ := newBoltMemory(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.True(t, uc.Save(ctx, domain.SaveRequest{Text: fmt.Sprintf("parallel note %d", i)}).Success)
		}(i)
		go func() {
			defer wg.Done()
			res := uc.Recall(ctx, "parallel note", 3)
			assert.False(t, res.Degraded(), res.Warning)
		}()
	}
	wg.Wait()

	stats, err := uc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, stats.TotalRecordCount)
}

func TestMemory_InspectAndForget(t *testing.T) {
	ctx := context.Background()
	uc, _ := newBoltMemory(t, nil)
	a := uc.Save(ctx, domain.SaveRequest{Text: "alpha memory", CustomID: "a"})
	b := uc.Save(ctx, domain.SaveRequest{Text: "beta memory", CustomID: "b"})
	require.True(t, a.Success && b.Success)

	recs, err := uc.Inspect(ctx, []string{"b", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID)
	assert.Equal(t, "beta memory", recs[0].Text)
	assert.Equal(t, "a", recs[1].ID)

	require.NoError(t, uc.Forget(ctx, []string{"a"}))
	recs, err = uc.Inspect(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = uc.Inspect(ctx, []string{" "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorIs(t, uc.Forget(ctx, nil), domain.ErrInvalidInput)
}

func TestMemory_Health(t *testing.T) {
	ctx := context.Background()
	uc, _ := newBoltMemory(t, nil)

	h := uc.Health(ctx)
	assert.True(t, h.Healthy, "an empty index is reachable")
	assert.Equal(t, 0, h.RecordCount)
	assert.Equal(t, "Vector index reachable with 0 records.", h.Message)

	require.True(t, uc.Save(ctx, domain.SaveRequest{Text: "one"}).Success)
	h = uc.Health(ctx)
	assert.True(t, h.Healthy)
	assert.Equal(t, 1, h.RecordCount)

	down := NewMemoryUseCase(embedding.NewMockEmbedder(8), &fakeIndex{err: domain.ErrIndexUnauthorized}, nil, MemoryOptions{}, quietLogger)
	h = down.Health(ctx)
	assert.False(t, h.Healthy)
	assert.Contains(t, h.Message, "rejected credentials")
}

func TestMemory_NoCache(t *testing.T) {
	uc := NewMemoryUseCase(embedding.NewMockEmbedder(8), &fakeIndex{}, nil, MemoryOptions{}, quietLogger)
	_, err := uc.Recent(5)
	assert.ErrorIs(t, err, ErrNoCache)
	assert.ErrorIs(t, uc.ClearCache(), ErrNoCache)
}
