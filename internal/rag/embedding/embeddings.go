// Package embedding provides interfaces and implementations for embedding
// providers used by the RAG index.
package embedding

import "context"

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts (more efficient).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name.
	Name() string

	// Dimension returns the embedding dimension.
	Dimension() int

	// MaxBatchSize returns the maximum number of texts per batch.
	MaxBatchSize() int
}

// Config contains common configuration for embedding providers.
type Config struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}
