package rag

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentsmithy/agentsmithy/internal/rag/chunker"
	"github.com/agentsmithy/agentsmithy/internal/rag/store"
)

// fakeEmbedder produces a deterministic low-dimensional vector from a
// text's hash, so similarity search is exercisable without a real API call.
type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		vec := make([]float32, 8)
		for j := range vec {
			vec[j] = float32(sum[j]) / 255.0
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Name() string      { return "fake" }
func (f *fakeEmbedder) Dimension() int    { return 8 }
func (f *fakeEmbedder) MaxBatchSize() int { return 64 }

func newTestIndex(root string) *Index {
	c := chunker.NewRecursiveCharacterTextSplitter(chunker.Config{ChunkSize: 200, ChunkOverlap: 0, KeepSeparators: true})
	return NewIndex(root, c, &fakeEmbedder{}, store.NewMemoryStore(8))
}

func TestIndexPathThenSearchFindsChunk(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.md"), []byte("# Title\n\nHello from the indexed file.\n"), 0o644); err != nil {
		t.Fatalf("setup write: %v", err)
	}

	idx := newTestIndex(root)
	if err := idx.IndexPath(context.Background(), "notes.md"); err != nil {
		t.Fatalf("index path: %v", err)
	}

	results, err := idx.Search(context.Background(), "Hello from the indexed file.", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one search result")
	}
	if results[0].Chunk.Path != "notes.md" {
		t.Fatalf("expected match in notes.md, got %s", results[0].Chunk.Path)
	}
}

func TestRemovePathDropsChunks(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("some content here"), 0o644)

	idx := newTestIndex(root)
	if err := idx.IndexPath(context.Background(), "a.txt"); err != nil {
		t.Fatalf("index path: %v", err)
	}
	if err := idx.RemovePath(context.Background(), "a.txt"); err != nil {
		t.Fatalf("remove path: %v", err)
	}

	results, err := idx.Search(context.Background(), "some content here", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.Chunk.Path == "a.txt" {
			t.Fatal("expected a.txt chunks to be gone after RemovePath")
		}
	}
}

func TestFullSyncReindexesChangedAndRemovesDeleted(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "changed.txt"), []byte("version one"), 0o644)
	os.WriteFile(filepath.Join(root, "deleted.txt"), []byte("will be removed"), 0o644)
	os.WriteFile(filepath.Join(root, "stable.txt"), []byte("never changes"), 0o644)

	idx := newTestIndex(root)
	ctx := context.Background()
	for _, p := range []string{"changed.txt", "deleted.txt", "stable.txt"} {
		if err := idx.IndexPath(ctx, p); err != nil {
			t.Fatalf("index %s: %v", p, err)
		}
	}

	os.WriteFile(filepath.Join(root, "changed.txt"), []byte("version two, different content"), 0o644)
	os.Remove(filepath.Join(root, "deleted.txt"))

	result, err := idx.FullSync(ctx)
	if err != nil {
		t.Fatalf("full sync: %v", err)
	}
	if result.Checked != 3 {
		t.Fatalf("expected 3 checked, got %d", result.Checked)
	}
	if result.Reindexed != 1 {
		t.Fatalf("expected 1 reindexed, got %d", result.Reindexed)
	}
	if result.Removed != 1 {
		t.Fatalf("expected 1 removed, got %d", result.Removed)
	}

	idx.mu.Lock()
	_, stillTracked := idx.hashes["deleted.txt"]
	idx.mu.Unlock()
	if stillTracked {
		t.Fatal("expected deleted.txt to no longer be tracked after FullSync")
	}
}
