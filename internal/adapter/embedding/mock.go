package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"mnemo/internal/domain"
)

// MockEmbedder is a deterministic hashed bag-of-words embedder. Texts that
// share words land close together, which is enough for offline use and tests.
type MockEmbedder struct {
	dimension int
	name      string
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return NewNamedMockEmbedder("mock", dimension)
}

// NewNamedMockEmbedder reports name as its model, so two mocks can stand in
// for two different embedding spaces.
func NewNamedMockEmbedder(name string, dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &MockEmbedder{dimension: dimension, name: name}
}

func (e *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: no words to embed", domain.ErrEmbeddingFailure)
	}

	vec := make([]float32, e.dimension)
	for _, w := range words {
		h := fnv.New64a()
		h.Write([]byte(e.name))
		h.Write([]byte{0})
		h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimension))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return e.name
}
