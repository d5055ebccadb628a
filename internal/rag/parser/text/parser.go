// Package text provides the fallback parser for source files and plain
// text: everything that isn't Markdown. Source code is treated as plain
// text with paragraph-shaped (blank-line-separated) sections, which is
// good enough to give the chunker something more structured than raw
// character offsets.
package text

import (
	"context"
	"io"
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/rag/parser"
)

// Parser parses plain text and source files.
type Parser struct{}

// New creates a new plain text parser.
func New() *Parser { return &Parser{} }

// Name returns the parser name.
func (p *Parser) Name() string { return "text" }

// SupportedExtensions returns the file extensions this parser handles.
// It is also installed as the registry's default, so unlisted extensions
// (.go, .py, .ts, ...) still parse through it.
func (p *Parser) SupportedExtensions() []string {
	return []string{".txt", ".text", ".csv", ".tsv", ".json", ".xml", ".log"}
}

// Parse extracts content and paragraph sections from a text file.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) (*parser.ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	content := string(data)
	return &parser.ParseResult{
		Content:  strings.TrimSpace(content),
		Sections: extractParagraphSections(content),
	}, nil
}

// extractParagraphSections splits content into paragraph-based sections.
func extractParagraphSections(content string) []parser.Section {
	var sections []parser.Section
	offset := 0
	for i, para := range splitParagraphs(content) {
		idx := strings.Index(content[offset:], para)
		if idx < 0 {
			continue
		}
		start := offset + idx
		end := start + len(para)
		sections = append(sections, parser.Section{
			Title:       sectionTitle(para, i+1),
			Content:     para,
			StartOffset: start,
			EndOffset:   end,
		})
		offset = end
	}
	return sections
}

func splitParagraphs(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(content, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sectionTitle(content string, index int) string {
	firstLine := content
	if idx := strings.Index(content, "\n"); idx > 0 {
		firstLine = strings.TrimSpace(content[:idx])
	}
	if len(firstLine) > 50 {
		firstLine = firstLine[:50] + "..."
	}
	return firstLine
}

// Register installs the text parser as the registry's default.
func Register() {
	p := New()
	parser.DefaultRegistry.Register(p)
	parser.DefaultRegistry.SetDefault(p)
}
