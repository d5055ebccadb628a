// Package openai provides an embedding provider backed by OpenAI's
// embedding models (also serves any OpenAI-compatible endpoint via
// Config.BaseURL).
package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentsmithy/agentsmithy/internal/rag/embedding"
)

// Provider implements embedding.Provider using OpenAI.
type Provider struct {
	client *openai.Client
	model  string
}

var _ embedding.Provider = (*Provider)(nil)

// New creates a new OpenAI embedding provider.
func New(cfg embedding.Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return "openai" }

// Dimension returns the embedding dimension for the configured model.
func (p *Provider) Dimension() int {
	switch p.model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	default:
		return 1536
	}
}

// MaxBatchSize returns the maximum number of texts per batch.
func (p *Provider) MaxBatchSize() int { return 2048 }

// Embed generates an embedding for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		out[data.Index] = data.Embedding
	}
	return out, nil
}
