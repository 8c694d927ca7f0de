package embeddings

import (
	"context"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"
)

const defaultGoogleEmbeddingModel = "gemini-embedding-001"

// GoogleClient calls the Gemini embeddings API via the Google Gen AI SDK.
type GoogleClient struct {
	client     *genai.Client
	model      string
	dimensions int
}

// GoogleOption configures the GoogleClient.
type GoogleOption func(*GoogleClient)

// WithGoogleDimensions sets the requested embedding dimension (must match DB column).
func WithGoogleDimensions(dim int) GoogleOption {
	return func(c *GoogleClient) {
		c.dimensions = dim
	}
}

// WithGoogleModel sets the embedding model name (e.g. gemini-embedding-001). Empty uses default.
func WithGoogleModel(model string) GoogleOption {
	return func(c *GoogleClient) {
		if model != "" {
			c.model = model
		}
	}
}

// NewGoogleClient creates a Gemini embeddings client.
func NewGoogleClient(ctx context.Context, apiKey string, opts ...GoogleOption) (*GoogleClient, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("googleai client: %w", err)
	}

	client := &GoogleClient{
		client:     genaiClient,
		model:      defaultGoogleEmbeddingModel,
		dimensions: defaultDimension,
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// CreateEmbedding returns the embedding vector for the given text using the configured model.
func (c *GoogleClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	if c.dimensions <= 0 || c.dimensions > math.MaxInt32 {
		return nil, ErrInvalidDims
	}

	contents := []*genai.Content{genai.NewContentFromText(input, genai.RoleUser)}
	//nolint:gosec // G115: c.dimensions is bounded above by math.MaxInt32
	dimInt32 := int32(c.dimensions)

	resp, err := c.client.Models.EmbedContent(ctx, c.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dimInt32,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedding: %w", err)
	}

	if len(resp.Embeddings) == 0 {
		return nil, ErrNoEmbeddingInResponse
	}

	emb := resp.Embeddings[0].Values
	if len(emb) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), c.dimensions)
	}

	out := make([]float32, len(emb))
	copy(out, emb)

	return out, nil
}

var _ Client = (*GoogleClient)(nil)
