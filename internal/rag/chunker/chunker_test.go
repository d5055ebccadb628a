package chunker

import (
	"strings"
	"testing"

	"github.com/agentsmithy/agentsmithy/internal/rag/parser"
)

func TestRecursiveSplitterRespectsChunkSize(t *testing.T) {
	s := NewRecursiveCharacterTextSplitter(Config{ChunkSize: 50, ChunkOverlap: 0, MinChunkSize: 1, KeepSeparators: true})
	content := strings.Repeat("word ", 40)

	chunks, err := s.Chunk("txt", &parser.ParseResult{Content: content})
	if err != nil {
		t.Fatalf("chunk failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long content, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Content) > 50+10 { // small slack for separator retention
			t.Fatalf("chunk exceeds target size: %d chars", len(c.Content))
		}
	}
}

func TestRecursiveSplitterEmptyContent(t *testing.T) {
	s := NewRecursiveCharacterTextSplitter(DefaultConfig())
	chunks, err := s.Chunk("txt", &parser.ParseResult{Content: "   \n  "})
	if err != nil {
		t.Fatalf("chunk failed: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for blank content, got %d", len(chunks))
	}
}

func TestRecursiveSplitterAddsOverlap(t *testing.T) {
	s := NewRecursiveCharacterTextSplitter(Config{ChunkSize: 30, ChunkOverlap: 10, MinChunkSize: 1, KeepSeparators: true})
	content := strings.Repeat("abcdefghij ", 20)

	chunks, err := s.Chunk("txt", &parser.ParseResult{Content: content})
	if err != nil {
		t.Fatalf("chunk failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// Every chunk after the first should share a prefix with the tail of
	// the previous chunk, proving overlap was applied.
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1].Content
		if len(prevTail) > 10 {
			prevTail = prevTail[len(prevTail)-10:]
		}
		if !strings.HasPrefix(chunks[i].Content, prevTail) {
			t.Fatalf("chunk %d does not start with previous chunk's tail", i)
		}
	}
}

func TestRecursiveSplitterUsesMarkdownSeparatorsForMarkdownExt(t *testing.T) {
	s := NewRecursiveCharacterTextSplitter(Config{ChunkSize: 20, ChunkOverlap: 0, MinChunkSize: 1, KeepSeparators: true})
	content := "intro\n## Section One\nbody one\n## Section Two\nbody two"

	chunks, err := s.Chunk("md", &parser.ParseResult{
		Content: content,
		Sections: []parser.Section{
			{Title: "Section One", StartOffset: strings.Index(content, "## Section One")},
			{Title: "Section Two", StartOffset: strings.Index(content, "## Section Two")},
		},
	})
	if err != nil {
		t.Fatalf("chunk failed: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, c := range chunks {
		if c.Section != "" && c.Section != "Section One" && c.Section != "Section Two" {
			t.Fatalf("unexpected section label %q", c.Section)
		}
	}
}

func TestSimpleTokenCounter(t *testing.T) {
	c := &SimpleTokenCounter{CharsPerToken: 4}
	if got := c.Count("12345678"); got != 2 {
		t.Fatalf("expected 2 tokens for 8 chars, got %d", got)
	}
	if got := (&SimpleTokenCounter{}).Count("1234"); got != 1 {
		t.Fatalf("expected default chars-per-token to apply, got %d", got)
	}
}
