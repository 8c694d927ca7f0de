package embeddings

import (
	"context"
	"crypto/sha256"
	"math"
)

// MockClient implements the Client interface for testing and for running without a
// hosted embedding service. It generates deterministic embeddings from the text hash,
// so equal documents always map to equal vectors.
type MockClient struct {
	dimensions int
}

// NewMockClient creates a mock embedding client with the default dimensions.
func NewMockClient() *MockClient {
	return &MockClient{dimensions: defaultDimension}
}

// NewMockClientWithDimensions creates a mock client with custom dimensions.
func NewMockClientWithDimensions(dimensions int) *MockClient {
	return &MockClient{dimensions: dimensions}
}

// CreateEmbedding generates a deterministic, unit-length embedding from the text hash.
func (c *MockClient) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	hash := sha256.Sum256([]byte(text))
	embedding := make([]float32, c.dimensions)

	for i := 0; i < c.dimensions; i++ {
		byteIdx := i % len(hash)
		// hash byte to a float in [-1, 1]
		embedding[i] = (float32(hash[byteIdx]) / 127.5) - 1.0
	}

	return normalize(embedding), nil
}

// normalize normalizes a vector to unit length.
func normalize(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}
	magnitude := float32(math.Sqrt(sum))

	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = val / magnitude
	}
	return normalized
}

var _ Client = (*MockClient)(nil)
