package rag

import (
	"github.com/agentsmithy/agentsmithy/internal/rag/embedding"
	embeddingopenai "github.com/agentsmithy/agentsmithy/internal/rag/embedding/openai"
	"github.com/agentsmithy/agentsmithy/internal/rag/store"
)

func newEmbedder(cfg Config) (embedding.Provider, error) {
	return embeddingopenai.New(embedding.Config{
		APIKey:  cfg.EmbeddingAPIKey,
		BaseURL: cfg.EmbeddingBaseURL,
		Model:   cfg.EmbeddingModel,
	})
}

func newQdrantStore(dsn, collection string, dimension int) (store.VectorStore, error) {
	return store.NewQdrantStore(dsn, collection, dimension)
}
