package chunker

import (
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/rag/parser"
)

// RecursiveCharacterTextSplitter implements a recursive chunking strategy.
// It tries to split on larger separators first, then falls back to smaller
// ones. This is similar to LangChain's RecursiveCharacterTextSplitter.
type RecursiveCharacterTextSplitter struct {
	config       Config
	tokenCounter TokenCounter
}

// DefaultSeparators returns the default separator hierarchy for source and
// plain-text files. Splits are attempted in order, from largest semantic
// units to smallest.
var DefaultSeparators = []string{
	"\n\n", // paragraph/function break
	"\n",   // line break
	". ",   // sentence end
	"? ",
	"! ",
	"; ",
	": ",
	", ",
	" ",
	"", // character, last resort
}

// MarkdownSeparators are separators optimized for Markdown documents.
var MarkdownSeparators = []string{
	"\n## ",
	"\n### ",
	"\n#### ",
	"\n\n",
	"\n",
	". ",
	" ",
	"",
}

var markdownExts = map[string]bool{"md": true, "markdown": true, "mdown": true, "mkd": true}

// NewRecursiveCharacterTextSplitter creates a new recursive text splitter.
func NewRecursiveCharacterTextSplitter(cfg Config) *RecursiveCharacterTextSplitter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = DefaultConfig().ChunkOverlap
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = DefaultConfig().MinChunkSize
	}
	return &RecursiveCharacterTextSplitter{
		config:       cfg,
		tokenCounter: &SimpleTokenCounter{CharsPerToken: 4},
	}
}

// WithTokenCounter sets a custom token counter.
func (s *RecursiveCharacterTextSplitter) WithTokenCounter(tc TokenCounter) *RecursiveCharacterTextSplitter {
	s.tokenCounter = tc
	return s
}

// Name returns the chunker name.
func (s *RecursiveCharacterTextSplitter) Name() string { return "recursive_character" }

// Chunk splits parsed content into chunks using recursive character
// splitting, picking the Markdown separator hierarchy for Markdown files.
func (s *RecursiveCharacterTextSplitter) Chunk(ext string, parseResult *parser.ParseResult) ([]Chunk, error) {
	content := parseResult.Content
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	separators := DefaultSeparators
	if markdownExts[strings.ToLower(strings.TrimPrefix(ext, "."))] {
		separators = MarkdownSeparators
	}

	raw := s.splitText(content, separators)
	merged := s.mergeChunksWithOverlap(raw)

	chunks := make([]Chunk, 0, len(merged))
	for _, c := range merged {
		chunks = append(chunks, Chunk{
			Content:     c.Content,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
			Section:     findSection(parseResult.Sections, c.StartOffset),
		})
	}
	return chunks, nil
}

// splitText recursively splits text using the separator hierarchy.
func (s *RecursiveCharacterTextSplitter) splitText(text string, separators []string) []Chunk {
	if len(text) == 0 {
		return nil
	}

	separator := ""
	for _, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			break
		}
	}

	var splits []string
	if separator == "" {
		splits = make([]string, 0, len(text))
		for _, r := range text {
			splits = append(splits, string(r))
		}
	} else {
		splits = strings.Split(text, separator)
	}

	var result []Chunk
	var currentChunk strings.Builder
	startOffset := 0

	for i, split := range splits {
		piece := split
		if s.config.KeepSeparators && separator != "" && i < len(splits)-1 {
			piece = split + separator
		}

		if currentChunk.Len() > 0 && currentChunk.Len()+len(piece) > s.config.ChunkSize {
			chunkContent := strings.TrimSpace(currentChunk.String())
			if len(chunkContent) >= s.config.MinChunkSize || (len(result) == 0 && chunkContent != "") {
				result = append(result, Chunk{
					Content:     chunkContent,
					StartOffset: startOffset,
					EndOffset:   startOffset + len(chunkContent),
				})
			} else if chunkContent != "" {
				result[len(result)-1].Content += "\n" + chunkContent
			}
			currentChunk.Reset()
			startOffset += len(chunkContent)
		}

		if len(piece) > s.config.ChunkSize && len(separators) > 1 {
			if currentChunk.Len() > 0 {
				chunkContent := strings.TrimSpace(currentChunk.String())
				if len(chunkContent) >= s.config.MinChunkSize || (len(result) == 0 && chunkContent != "") {
					result = append(result, Chunk{
						Content:     chunkContent,
						StartOffset: startOffset,
						EndOffset:   startOffset + len(chunkContent),
					})
				} else if chunkContent != "" {
					result[len(result)-1].Content += "\n" + chunkContent
				}
				startOffset += len(chunkContent)
				currentChunk.Reset()
			}

			subChunks := s.splitText(piece, separators[1:])
			for _, sub := range subChunks {
				sub.StartOffset += startOffset
				sub.EndOffset += startOffset
				result = append(result, sub)
			}
			startOffset += len(piece)
		} else {
			currentChunk.WriteString(piece)
		}
	}

	if currentChunk.Len() > 0 {
		chunkContent := strings.TrimSpace(currentChunk.String())
		if len(chunkContent) >= s.config.MinChunkSize || (len(result) == 0 && chunkContent != "") {
			result = append(result, Chunk{
				Content:     chunkContent,
				StartOffset: startOffset,
				EndOffset:   startOffset + len(chunkContent),
			})
		} else if chunkContent != "" {
			result[len(result)-1].Content += "\n" + chunkContent
		}
	}

	return result
}

// mergeChunksWithOverlap adds overlap between consecutive chunks.
func (s *RecursiveCharacterTextSplitter) mergeChunksWithOverlap(chunks []Chunk) []Chunk {
	if len(chunks) <= 1 || s.config.ChunkOverlap <= 0 {
		return chunks
	}

	result := make([]Chunk, len(chunks))
	for i, chunk := range chunks {
		if i == 0 {
			result[i] = chunk
			continue
		}
		prev := chunks[i-1]
		overlap := s.config.ChunkOverlap
		if overlap > len(prev.Content) {
			overlap = len(prev.Content)
		}
		overlapText := prev.Content[len(prev.Content)-overlap:]
		result[i] = Chunk{
			Content:     overlapText + chunk.Content,
			StartOffset: chunk.StartOffset - overlap,
			EndOffset:   chunk.EndOffset,
			Section:     chunk.Section,
		}
	}
	return result
}

// findSection finds the section title for a given offset.
func findSection(sections []parser.Section, offset int) string {
	for i := len(sections) - 1; i >= 0; i-- {
		if offset >= sections[i].StartOffset {
			return sections[i].Title
		}
	}
	return ""
}
