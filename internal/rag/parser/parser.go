// Package parser provides content parsing for the RAG indexing pipeline:
// extracting plain text and logical sections from the files the agent
// reads or writes.
package parser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Parser defines the interface for file-content parsers.
type Parser interface {
	// Parse extracts content and section structure from a file's bytes.
	Parse(ctx context.Context, reader io.Reader) (*ParseResult, error)

	// Name returns the parser name for logging and debugging.
	Name() string

	// SupportedExtensions returns the file extensions this parser handles.
	SupportedExtensions() []string
}

// ParseResult contains the output of a parsing operation.
type ParseResult struct {
	// Content is the extracted text content.
	Content string

	// Sections contains identified document sections (for structure-aware chunking).
	Sections []Section
}

// Section represents a logical section of a document.
type Section struct {
	// Title is the section heading.
	Title string

	// Level is the heading level (1-6 for markdown, 0 for unstructured text).
	Level int

	// Content is the section content.
	Content string

	// StartOffset is the character offset where this section starts.
	StartOffset int

	// EndOffset is the character offset where this section ends.
	EndOffset int
}

// Registry manages available parsers, dispatching by file extension.
type Registry struct {
	mu            sync.RWMutex
	parsersByExt  map[string]Parser
	defaultParser Parser
}

// NewRegistry creates a new parser registry.
func NewRegistry() *Registry {
	return &Registry{parsersByExt: make(map[string]Parser)}
}

// Register adds a parser to the registry for all its supported extensions.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.SupportedExtensions() {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		r.parsersByExt[ext] = p
	}
}

// SetDefault sets the parser used when no extension-specific parser matches.
func (r *Registry) SetDefault(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultParser = p
}

// GetByExtension returns the parser registered for a given file extension.
func (r *Registry) GetByExtension(ext string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	p, ok := r.parsersByExt[ext]
	return p, ok
}

// Get returns the best parser for the given extension, falling back to the
// default parser.
func (r *Registry) Get(ext string) (Parser, error) {
	if ext != "" {
		if p, ok := r.GetByExtension(ext); ok {
			return p, nil
		}
	}
	r.mu.RLock()
	defaultParser := r.defaultParser
	r.mu.RUnlock()
	if defaultParser != nil {
		return defaultParser, nil
	}
	return nil, fmt.Errorf("no parser found for extension %q", ext)
}

// DefaultRegistry is the shared registry Parse dispatches through. It starts
// empty; parser/text and parser/markdown's Register funcs install into it.
var DefaultRegistry = NewRegistry()

// Parse is a convenience function that uses the default registry.
func Parse(ctx context.Context, reader io.Reader, ext string) (*ParseResult, error) {
	p, err := DefaultRegistry.Get(ext)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, reader)
}
