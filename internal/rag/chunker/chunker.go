// Package chunker splits parsed file content into overlapping chunks
// suitable for embedding and retrieval.
package chunker

import (
	"github.com/agentsmithy/agentsmithy/internal/rag/parser"
)

// Chunker defines the interface for text chunking strategies.
type Chunker interface {
	// Chunk splits parsed file content into chunks. ext is the file
	// extension (without the dot), used to pick a separator hierarchy.
	Chunk(ext string, parseResult *parser.ParseResult) ([]Chunk, error)

	// Name returns the chunker name for logging and debugging.
	Name() string
}

// Config contains common configuration for chunkers.
type Config struct {
	// ChunkSize is the target size of each chunk in characters.
	// Default: 1000
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the number of characters to overlap between chunks.
	// Default: 200
	ChunkOverlap int `yaml:"chunk_overlap"`

	// MinChunkSize is the minimum chunk size to keep.
	// Chunks smaller than this are merged with the previous chunk.
	// Default: 100
	MinChunkSize int `yaml:"min_chunk_size"`

	// KeepSeparators includes separators at the end of chunks.
	// Default: true
	KeepSeparators bool `yaml:"keep_separators"`
}

// DefaultConfig returns the default chunker configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      1000,
		ChunkOverlap:   200,
		MinChunkSize:   100,
		KeepSeparators: true,
	}
}

// Chunk is one piece of a file's content, positioned within the file.
type Chunk struct {
	// Content is the chunk text.
	Content string

	// StartOffset is the character offset in the original file.
	StartOffset int

	// EndOffset is the ending character offset.
	EndOffset int

	// Section is the section this chunk belongs to, if any (e.g. a
	// Markdown heading or source paragraph).
	Section string
}

// TokenCounter estimates token count for text.
type TokenCounter interface {
	Count(text string) int
}

// SimpleTokenCounter estimates tokens by dividing character count by
// average chars per token.
type SimpleTokenCounter struct {
	// CharsPerToken is the average characters per token (default: 4).
	CharsPerToken int
}

// Count returns the estimated token count.
func (c *SimpleTokenCounter) Count(text string) int {
	cpt := c.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	return (len(text) + cpt - 1) / cpt
}
