// Package markdown provides a heading-aware parser for Markdown documents.
package markdown

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/rag/parser"
)

// Parser parses Markdown documents, extracting content and heading structure.
type Parser struct{}

// New creates a new Markdown parser.
func New() *Parser { return &Parser{} }

// Name returns the parser name.
func (p *Parser) Name() string { return "markdown" }

// SupportedExtensions returns the file extensions this parser handles.
func (p *Parser) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdown", ".mkd"}
}

// Parse extracts content and section structure from a Markdown document.
// Leading YAML frontmatter is stripped rather than indexed, since it rarely
// contributes useful retrieval signal and would otherwise pollute the first
// chunk.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) (*parser.ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	_, body := stripFrontmatter(string(data))
	return &parser.ParseResult{
		Content:  strings.TrimSpace(body),
		Sections: extractSections(body),
	}, nil
}

// stripFrontmatter separates a leading "---"-delimited YAML block from the
// document body. The frontmatter text is returned but not parsed.
func stripFrontmatter(content string) (frontmatter, body string) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "---") {
		return "", content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 3 {
		return "", content
	}
	endIndex := -1
	for i := 1; i < len(lines); i++ {
		if t := strings.TrimSpace(lines[i]); t == "---" || t == "..." {
			endIndex = i
			break
		}
	}
	if endIndex == -1 {
		return "", content
	}
	return strings.Join(lines[1:endIndex], "\n"), strings.Join(lines[endIndex+1:], "\n")
}

var headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// extractSections identifies logical sections based on ATX-style headings.
func extractSections(content string) []parser.Section {
	var sections []parser.Section
	var current *parser.Section
	var buf strings.Builder
	offset := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lineLen := len(line) + 1
		if i == len(lines)-1 {
			lineLen = len(line)
		}

		if matches := headingRegex.FindStringSubmatch(strings.TrimSpace(line)); len(matches) == 3 {
			if current != nil {
				current.Content = strings.TrimSpace(buf.String())
				current.EndOffset = offset
				sections = append(sections, *current)
				buf.Reset()
			}
			current = &parser.Section{
				Title:       strings.TrimSpace(matches[2]),
				Level:       len(matches[1]),
				StartOffset: offset,
			}
		} else if current != nil {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
		offset += lineLen
	}

	if current != nil {
		current.Content = strings.TrimSpace(buf.String())
		current.EndOffset = offset
		sections = append(sections, *current)
	}
	return sections
}

// Register installs the Markdown parser with the default registry.
func Register() {
	parser.DefaultRegistry.Register(New())
}
