package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"mnemo/internal/domain"
	"mnemo/internal/port"
)

// ChromemIndex is an embedded VectorIndex on chromem-go. Each namespace is
// its own collection, and the collection's embedding function is the index
// embedder, so text records are embedded index-side.
type ChromemIndex struct {
	db        *chromem.DB
	embedder  port.Embedder
	textField string
	dimension int
	mu        sync.Mutex
}

// NewChromemIndex creates a chromem index. An empty path keeps everything in
// memory; otherwise collections are persisted under path.
func NewChromemIndex(path string, embedder port.Embedder, textField string) (*ChromemIndex, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	return &ChromemIndex{
		db:        db,
		embedder:  embedder,
		textField: textField,
		dimension: embedder.Dimension(),
	}, nil
}

func (s *ChromemIndex) collection(namespace string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.db.GetOrCreateCollection(namespaceKey(namespace), nil, s.embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", domain.ErrIndexUnavailable, err)
	}
	return col, nil
}

func (s *ChromemIndex) Upsert(ctx context.Context, namespace string, records []port.IndexRecord) error {
	col, err := s.collection(namespace)
	if err != nil {
		return err
	}

	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record has no id")
		}
		if len(r.Vector) > 0 {
			if err := checkDimension(r.Vector, s.dimension); err != nil {
				return err
			}
		}
		meta, err := flattenMetadata(recordMetadata(r.Metadata, s.textField, r.Text))
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", r.ID, err)
		}
		doc := chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Embedding: r.Vector,
			Metadata:  meta,
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s *ChromemIndex) Query(ctx context.Context, namespace string, req port.QueryRequest) ([]port.IndexMatch, error) {
	if err := checkDimension(req.Vector, s.dimension); err != nil {
		return nil, err
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", req.TopK)
	}

	col, err := s.collection(namespace)
	if err != nil {
		return nil, err
	}

	// chromem-go rejects nResults larger than the collection.
	n := min(req.TopK, col.Count())
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, req.Vector, n, flattenFilter(req.Filter), nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	matches := make([]port.IndexMatch, 0, len(results))
	for _, r := range results {
		m := port.IndexMatch{
			ID:    r.ID,
			Score: float64(r.Similarity),
		}
		if req.IncludeMetadata {
			m.Metadata = expandMetadata(r.Metadata)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *ChromemIndex) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(namespace)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrIndexUnavailable, err)
	}
	return nil
}

func (s *ChromemIndex) FetchByIDs(ctx context.Context, namespace string, ids []string) (map[string]port.IndexRecord, error) {
	col, err := s.collection(namespace)
	if err != nil {
		return nil, err
	}

	out := make(map[string]port.IndexRecord, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue // not found
		}
		out[id] = port.IndexRecord{
			ID:       doc.ID,
			Text:     doc.Content,
			Vector:   doc.Embedding,
			Metadata: expandMetadata(doc.Metadata),
		}
	}
	return out, nil
}

func (s *ChromemIndex) DescribeStats(_ context.Context) (domain.IndexStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.IndexStats{
		Dimension:  s.dimension,
		Namespaces: make(map[string]int),
		EmbedModel: s.embedder.ModelName(),
	}
	for name, col := range s.db.ListCollections() {
		n := col.Count()
		if n == 0 {
			continue
		}
		stats.Namespaces[namespaceName(name)] = n
		stats.TotalRecordCount += n
	}
	return stats, nil
}

// jsonKeysField lists, as a JSON array, the metadata keys whose values
// were stored JSON-encoded because chromem metadata is string-only.
const jsonKeysField = "__json_keys__"

// flattenMetadata converts metadata to chromem's string map. Strings are
// kept as is; other values are JSON-encoded and named in jsonKeysField.
func flattenMetadata(meta map[string]any) (map[string]string, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(meta)+1)
	var encoded []string
	for k, v := range meta {
		if str, ok := v.(string); ok {
			out[k] = str
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
		out[k] = string(b)
		encoded = append(encoded, k)
	}
	if len(encoded) > 0 {
		sort.Strings(encoded)
		b, _ := json.Marshal(encoded)
		out[jsonKeysField] = string(b)
	}
	return out, nil
}

// flattenFilter encodes equality filter values the way flattenMetadata
// stores them. A value may be written as {"$eq": v}.
func flattenFilter(filter map[string]any) map[string]string {
	if len(filter) == 0 {
		return nil
	}
	out := make(map[string]string, len(filter))
	for k, v := range filter {
		if m, ok := v.(map[string]any); ok {
			if eq, ok := m["$eq"]; ok {
				v = eq
			}
		}
		if str, ok := v.(string); ok {
			out[k] = str
			continue
		}
		if b, err := json.Marshal(v); err == nil {
			out[k] = string(b)
		}
	}
	return out
}

// expandMetadata reverses flattenMetadata.
func expandMetadata(meta map[string]string) map[string]any {
	if meta == nil {
		return nil
	}
	var encoded []string
	if keys, ok := meta[jsonKeysField]; ok {
		_ = json.Unmarshal([]byte(keys), &encoded)
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if k != jsonKeysField {
			out[k] = v
		}
	}
	for _, k := range encoded {
		raw, ok := meta[k]
		if !ok {
			continue
		}
		var v any
		if err := decodeJSON([]byte(raw), &v); err == nil {
			out[k] = v
		}
	}
	return out
}
