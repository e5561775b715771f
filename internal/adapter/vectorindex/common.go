package vectorindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"mnemo/internal/domain"
)

// defaultNamespace is how the empty namespace is named inside backends.
const defaultNamespace = "__default__"

func namespaceKey(ns string) string {
	if ns == "" {
		return defaultNamespace
	}
	return ns
}

func namespaceName(key string) string {
	if key == defaultNamespace {
		return ""
	}
	return key
}

// recordMetadata returns a copy of meta with text stored under textField.
func recordMetadata(meta map[string]any, textField, text string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if text != "" {
		out[textField] = text
	}
	return out
}

// normalizeMetadata returns meta as it reads back after a JSON round trip.
// Whole numbers come back as int64, other numbers as float64.
func normalizeMetadata(meta map[string]any) (map[string]any, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := decodeJSON(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeJSON unmarshals data into v with numbers converted by fromJSONNumbers.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	switch t := v.(type) {
	case *map[string]any:
		fromJSONNumbers(*t)
	case *any:
		*t = fromJSONNumbers(*t)
	}
	return nil
}

func fromJSONNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = fromJSONNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = fromJSONNumbers(e)
		}
	}
	return v
}

// matchesFilter applies equality filters. A filter value may also be written
// as {"$eq": v}.
func matchesFilter(meta map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		if m, ok := want.(map[string]any); ok {
			if eq, ok := m["$eq"]; ok {
				want = eq
			}
		}
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func checkDimension(vec []float32, dimension int) error {
	if dimension > 0 && len(vec) != dimension {
		return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dimension, len(vec))
	}
	return nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
