// Package rag indexes the files a project's agent has read or written, so
// get_tool_result-style context and future turns can retrieve relevant
// content by similarity search rather than full-file inclusion. It
// implements the FullSync reconciliation loop that keeps every
// indexed path's stored content hash equal to the file's current on-disk
// hash before each turn.
package rag

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/agentsmithy/agentsmithy/internal/rag/chunker"
	"github.com/agentsmithy/agentsmithy/internal/rag/embedding"
	"github.com/agentsmithy/agentsmithy/internal/rag/parser"
	"github.com/agentsmithy/agentsmithy/internal/rag/parser/markdown"
	"github.com/agentsmithy/agentsmithy/internal/rag/parser/text"
	"github.com/agentsmithy/agentsmithy/internal/rag/store"
)

var registerParsersOnce sync.Once

func registerParsers() {
	registerParsersOnce.Do(func() {
		text.Register()
		markdown.Register()
	})
}

// Index is a project's RAG index: it owns the chunker/embedder/vector-store
// pipeline and the per-path content-hash bookkeeping FullSync reconciles.
// It implements toolexec.RAGIndexer.
type Index struct {
	root     string
	chunker  chunker.Chunker
	embedder embedding.Provider
	store    store.VectorStore

	mu     sync.Mutex
	hashes map[string]string // path -> content hash at last successful index
}

// NewIndex creates an Index rooted at a project workdir.
func NewIndex(root string, c chunker.Chunker, embedder embedding.Provider, vectorStore store.VectorStore) *Index {
	registerParsers()
	return &Index{
		root:     root,
		chunker:  c,
		embedder: embedder,
		store:    vectorStore,
		hashes:   make(map[string]string),
	}
}

// NewDefaultIndex builds an Index from Config, wiring the OpenAI embedding
// provider and a Qdrant-backed vector store.
func NewDefaultIndex(root string, cfg Config) (*Index, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "agentsmithy"
	}
	vectorStore, err := newQdrantStore(cfg.QdrantDSN, collection, embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	chunkCfg := chunker.Config{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap, KeepSeparators: true}
	return NewIndex(root, chunker.NewRecursiveCharacterTextSplitter(chunkCfg), embedder, vectorStore), nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IndexPath (re)indexes one file: it parses, chunks, embeds, and stores the
// file's content, replacing any chunks from a previous indexing of the same
// path. A missing file is treated as a deletion.
func (idx *Index) IndexPath(ctx context.Context, path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.indexPathLocked(ctx, path)
}

func (idx *Index) indexPathLocked(ctx context.Context, path string) error {
	abs := filepath.Join(idx.root, path)
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return idx.removePathLocked(ctx, path)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	hash := contentHash(data)

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	parseResult, err := parser.Parse(ctx, bytes.NewReader(data), ext)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	chunks, err := idx.chunker.Chunk(ext, parseResult)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", path, err)
	}

	if err := idx.store.DeleteByPath(ctx, path); err != nil {
		return fmt.Errorf("clear previous chunks for %s: %w", path, err)
	}

	if len(chunks) == 0 {
		idx.hashes[path] = hash
		return nil
	}

	vectors, err := idx.embedChunks(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed %s: %w", path, err)
	}

	for i, c := range chunks {
		sc := store.Chunk{
			Path:        path,
			ChunkID:     strconv.Itoa(i),
			ContentHash: hash,
			Content:     c.Content,
			Section:     c.Section,
		}
		if err := idx.store.Upsert(ctx, sc, vectors[i]); err != nil {
			return fmt.Errorf("upsert chunk %d of %s: %w", i, path, err)
		}
	}

	idx.hashes[path] = hash
	return nil
}

const defaultEmbeddingBatchSize = 100

func (idx *Index) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	batchSize := idx.embedder.MaxBatchSize()
	if batchSize <= 0 || batchSize > defaultEmbeddingBatchSize {
		batchSize = defaultEmbeddingBatchSize
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := idx.embedder.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// RemovePath drops every indexed chunk for a file path, e.g. after delete_file.
func (idx *Index) RemovePath(ctx context.Context, path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removePathLocked(ctx, path)
}

func (idx *Index) removePathLocked(ctx context.Context, path string) error {
	if err := idx.store.DeleteByPath(ctx, path); err != nil {
		return err
	}
	delete(idx.hashes, path)
	return nil
}

// SyncResult summarizes one FullSync pass.
type SyncResult struct {
	Checked   int
	Reindexed int
	Removed   int
}

// FullSync is the pre-turn RAG reconciliation loop: it rehashes
// every currently-indexed path and re-indexes any whose on-disk content has
// changed since it was last indexed, or removes it if the file is gone.
// Running this before each turn keeps indexed content from drifting out of
// sync with the files it was indexed from.
func (idx *Index) FullSync(ctx context.Context) (*SyncResult, error) {
	idx.mu.Lock()
	paths := make([]string, 0, len(idx.hashes))
	for p := range idx.hashes {
		paths = append(paths, p)
	}
	idx.mu.Unlock()
	sort.Strings(paths)

	result := &SyncResult{}
	for _, path := range paths {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Checked++

		idx.mu.Lock()
		lastHash, tracked := idx.hashes[path]
		idx.mu.Unlock()
		if !tracked {
			continue // removed concurrently
		}

		abs := filepath.Join(idx.root, path)
		data, err := os.ReadFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				if rmErr := idx.RemovePath(ctx, path); rmErr != nil {
					return result, rmErr
				}
				result.Removed++
			}
			continue
		}
		if contentHash(data) == lastHash {
			continue
		}
		if err := idx.IndexPath(ctx, path); err != nil {
			return result, fmt.Errorf("reindex %s: %w", path, err)
		}
		result.Reindexed++
	}
	return result, nil
}

// Search embeds a query and returns the most similar indexed chunks.
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	vector, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return idx.store.SimilaritySearch(ctx, vector, limit)
}

// Close releases the index's vector-store resources.
func (idx *Index) Close() error {
	return idx.store.Close()
}
