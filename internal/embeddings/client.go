// Package embeddings turns damage documents into vectors via an external service.
// Embedding generation is a black box: providers are thin SDK wrappers and the
// pipeline only sees the Client interface.
package embeddings

import (
	"context"
	"fmt"

	"github.com/roadsight/roadsight/internal/config"
)

// Client defines the interface for generating text embeddings.
type Client interface {
	// CreateEmbedding generates an embedding vector for the given text.
	// The returned slice length equals the configured dimensions.
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// NewClient constructs the embedding client named by cfg.Provider.
// Called once at server startup.
func NewClient(ctx context.Context, cfg config.EmbeddingConfig) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, WithDimensions(cfg.Dimensions), WithModel(cfg.Model)), nil
	case "google":
		return NewGoogleClient(ctx, cfg.APIKey, WithGoogleDimensions(cfg.Dimensions), WithGoogleModel(cfg.Model))
	case "mock":
		return NewMockClientWithDimensions(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: must be one of openai, google, mock", cfg.Provider)
	}
}
