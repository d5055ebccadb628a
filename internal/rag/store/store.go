// Package store provides the vector-store abstraction the RAG index writes
// chunk embeddings into and searches over.
package store

import "context"

// Chunk is one indexed piece of a file's content, as stored in the vector
// store's payload alongside its embedding.
type Chunk struct {
	// Path is the file path relative to the project workdir.
	Path string
	// ChunkID identifies this chunk within its file (stable across
	// re-indexing as long as the chunk boundaries don't shift).
	ChunkID string
	// ContentHash is the SHA-256 hex digest of the full file's content at
	// the time this chunk was indexed (used to decide
	// content_hash_of_full_file, checked for RAG-content consistency).
	ContentHash string
	// Content is the chunk text.
	Content string
	// Section is the chunk's enclosing heading/paragraph, if known.
	Section string
}

// SearchResult is one hit from a similarity search.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// VectorStore is the narrow interface the RAG index needs from its
// embedding backend: upsert/delete chunks by file path, and similarity
// search over whatever is currently indexed.
type VectorStore interface {
	// Upsert stores or replaces one chunk's embedding and payload.
	Upsert(ctx context.Context, chunk Chunk, vector []float32) error

	// DeleteByPath removes every indexed chunk for a file path.
	DeleteByPath(ctx context.Context, path string) error

	// SimilaritySearch returns the k nearest chunks to the query vector.
	SimilaritySearch(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// Dimension returns the configured embedding dimension.
	Dimension() int

	// Close releases resources held by the store.
	Close() error
}
