package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.etcd.io/bbolt"

	"mnemo/internal/domain"
	"mnemo/internal/port"
)

var bucketVectors = []byte("vectors")

// BoltIndex is a local VectorIndex persisted in BoltDB. Text records are
// embedded with the index embedder, mirroring an index with integrated
// embedding. Search is brute force over an in-memory copy.
type BoltIndex struct {
	db        *bbolt.DB
	embedder  port.Embedder
	textField string
	dimension int
	mu        sync.RWMutex
	// namespace -> id -> entry
	vectors map[string]map[string]vectorEntry
}

type vectorEntry struct {
	vector   []float32
	metadata map[string]any
}

// storedVector is the bolt value. Metadata numbers decode as int64 when
// whole, so a reopened index returns what Upsert kept in memory.
type storedVector struct {
	Vector   []float32      `json:"v"`
	Metadata map[string]any `json:"m,omitempty"`
}

// NewBoltIndex opens (or creates) a bolt-backed index at path.
func NewBoltIndex(path string, embedder port.Embedder, textField string) (*BoltIndex, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create vectors bucket: %w", err)
	}

	idx := &BoltIndex{
		db:        db,
		embedder:  embedder,
		textField: textField,
		dimension: embedder.Dimension(),
		vectors:   make(map[string]map[string]vectorEntry),
	}

	if err := idx.loadVectors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	return idx, nil
}

// loadVectors loads all namespaces from BoltDB into memory.
func (s *BoltIndex) loadVectors() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketVectors)
		return root.ForEach(func(name, v []byte) error {
			if v != nil {
				return nil // not a namespace bucket
			}
			ns := string(name)
			entries := make(map[string]vectorEntry)
			err := root.Bucket(name).ForEach(func(k, v []byte) error {
				var stored storedVector
				if err := decodeJSON(v, &stored); err != nil {
					return nil // Skip corrupted entries
				}
				fromJSONNumbers(stored.Metadata)
				entries[string(k)] = vectorEntry{
					vector:   stored.Vector,
					metadata: stored.Metadata,
				}
				return nil
			})
			s.vectors[ns] = entries
			return err
		})
	})
}

// Upsert embeds text records, then writes all records in one transaction.
func (s *BoltIndex) Upsert(ctx context.Context, namespace string, records []port.IndexRecord) error {
	entries := make([]vectorEntry, len(records))
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record %d has no id", i)
		}
		vec := r.Vector
		if len(vec) == 0 {
			if r.Text == "" {
				return fmt.Errorf("record %s has neither vector nor text", r.ID)
			}
			var err error
			vec, err = s.embedder.Embed(ctx, r.Text)
			if err != nil {
				return fmt.Errorf("index embedding for %s: %w", r.ID, err)
			}
		}
		if err := checkDimension(vec, s.dimension); err != nil {
			return err
		}
		meta, err := normalizeMetadata(recordMetadata(r.Metadata, s.textField, r.Text))
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", r.ID, err)
		}
		entries[i] = vectorEntry{vector: vec, metadata: meta}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns := namespaceKey(namespace)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketVectors).CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		for i, r := range records {
			data, err := json.Marshal(storedVector{
				Vector:   entries[i].vector,
				Metadata: entries[i].metadata,
			})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(r.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}

	// Update in-memory copy only after the commit.
	if s.vectors[ns] == nil {
		s.vectors[ns] = make(map[string]vectorEntry)
	}
	for i, r := range records {
		s.vectors[ns][r.ID] = entries[i]
	}
	return nil
}

// Query finds the top-k vectors by cosine similarity.
func (s *BoltIndex) Query(_ context.Context, namespace string, req port.QueryRequest) ([]port.IndexMatch, error) {
	if err := checkDimension(req.Vector, s.dimension); err != nil {
		return nil, err
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", req.TopK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.vectors[namespaceKey(namespace)]
	if len(entries) == 0 {
		return nil, nil
	}

	matches := make([]port.IndexMatch, 0, len(entries))
	for id, entry := range entries {
		if !matchesFilter(entry.metadata, req.Filter) {
			continue
		}
		m := port.IndexMatch{
			ID:    id,
			Score: cosineSimilarity(req.Vector, entry.vector),
		}
		if req.IncludeMetadata {
			m.Metadata = copyMetadata(entry.metadata)
		}
		matches = append(matches, m)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > req.TopK {
		matches = matches[:req.TopK]
	}
	return matches, nil
}

// DeleteByIDs removes vectors by their IDs.
func (s *BoltIndex) DeleteByIDs(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := namespaceKey(namespace)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors).Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}

	for _, id := range ids {
		delete(s.vectors[ns], id)
	}
	return nil
}

func (s *BoltIndex) FetchByIDs(_ context.Context, namespace string, ids []string) (map[string]port.IndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.vectors[namespaceKey(namespace)]
	out := make(map[string]port.IndexRecord, len(ids))
	for _, id := range ids {
		entry, ok := entries[id]
		if !ok {
			continue
		}
		text, _ := entry.metadata[s.textField].(string)
		out[id] = port.IndexRecord{
			ID:       id,
			Text:     text,
			Vector:   append([]float32(nil), entry.vector...),
			Metadata: copyMetadata(entry.metadata),
		}
	}
	return out, nil
}

func (s *BoltIndex) DescribeStats(_ context.Context) (domain.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.IndexStats{
		Dimension:  s.dimension,
		Namespaces: make(map[string]int, len(s.vectors)),
		EmbedModel: s.embedder.ModelName(),
	}
	for ns, entries := range s.vectors {
		if len(entries) == 0 {
			continue
		}
		stats.Namespaces[namespaceName(ns)] = len(entries)
		stats.TotalRecordCount += len(entries)
	}
	return stats, nil
}

func (s *BoltIndex) Close() error {
	return s.db.Close()
}

func copyMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
