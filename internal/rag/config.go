package rag

// Config configures one project's RAG index.
type Config struct {
	// ChunkSize is the target chunk size in characters. Default: 1000.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the overlap between chunks in characters. Default: 200.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// EmbeddingBatchSize caps how many chunk texts are embedded per request.
	// Default: 100.
	EmbeddingBatchSize int `yaml:"embedding_batch_size"`

	// QdrantDSN addresses the Qdrant gRPC endpoint backing this project's
	// vector store, e.g. "http://localhost:6334". A locally-run Qdrant
	// instance persists its own storage under the project's
	// .agentsmithy/rag/chroma_db/ directory; AgentSmithy only
	// holds the client connection, not the on-disk format.
	QdrantDSN string `yaml:"qdrant_dsn"`

	// Collection is the Qdrant collection name for this project. Defaults
	// to "agentsmithy" if empty.
	Collection string `yaml:"collection"`

	// EmbeddingAPIKey, EmbeddingBaseURL, EmbeddingModel configure the
	// OpenAI-compatible embedding provider.
	EmbeddingAPIKey  string `yaml:"embedding_api_key"`
	EmbeddingBaseURL string `yaml:"embedding_base_url"`
	EmbeddingModel   string `yaml:"embedding_model"`
}

// DefaultConfig returns the default RAG configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:          1000,
		ChunkOverlap:       200,
		EmbeddingBatchSize: 100,
		Collection:         "agentsmithy",
		EmbeddingModel:     "text-embedding-3-small",
	}
}
