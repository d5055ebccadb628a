package parser

import (
	"context"
	"io"
	"strings"
	"testing"
)

// namedParser is a minimal Parser for registry-dispatch tests.
type namedParser struct {
	name string
	exts []string
}

func (n *namedParser) Parse(ctx context.Context, r io.Reader) (*ParseResult, error) {
	return &ParseResult{Content: strings.ToUpper(n.name)}, nil
}
func (n *namedParser) Name() string                  { return n.name }
func (n *namedParser) SupportedExtensions() []string { return n.exts }

func TestRegistryDispatchesByExtension(t *testing.T) {
	r := NewRegistry()
	md := &namedParser{name: "markdown", exts: []string{".md"}}
	txt := &namedParser{name: "text", exts: []string{".txt"}}
	r.Register(md)
	r.Register(txt)
	r.SetDefault(txt)

	p, err := r.Get("md")
	if err != nil {
		t.Fatalf("get md: %v", err)
	}
	if p.Name() != "markdown" {
		t.Fatalf("expected markdown parser, got %s", p.Name())
	}

	p, err = r.Get("unknown")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	if p.Name() != "text" {
		t.Fatalf("expected fallback to default parser, got %s", p.Name())
	}
}

func TestRegistryGetWithoutDefaultErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("md"); err == nil {
		t.Fatal("expected error when no parser and no default registered")
	}
}

func TestRegistryExtensionLookupIsCaseInsensitiveAndDotTolerant(t *testing.T) {
	r := NewRegistry()
	r.Register(&namedParser{name: "markdown", exts: []string{".MD"}})

	if _, ok := r.GetByExtension("md"); !ok {
		t.Fatal("expected lowercase lookup to match uppercase-registered extension")
	}
	if _, ok := r.GetByExtension(".md"); !ok {
		t.Fatal("expected dotted lookup to match")
	}
}

func TestParseConvenienceFuncUsesDefaultRegistry(t *testing.T) {
	saved := DefaultRegistry
	defer func() { DefaultRegistry = saved }()
	DefaultRegistry = NewRegistry()
	DefaultRegistry.Register(&namedParser{name: "stub", exts: []string{".stub"}})

	result, err := Parse(context.Background(), strings.NewReader("irrelevant"), "stub")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.Content != "STUB" {
		t.Fatalf("expected STUB content, got %q", result.Content)
	}
}
