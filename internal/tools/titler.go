package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/llm"
)

// ProviderTitleSummarizer implements TitleSummarizer using the same
// provider/model a dialog's turns already stream completions from, rather
// than a separate summarization backend.
type ProviderTitleSummarizer struct {
	Provider llm.Provider
	Model    string
}

// SummarizeTitle asks the provider for a short, plain-text title covering
// the opening exchange.
func (s *ProviderTitleSummarizer) SummarizeTitle(ctx context.Context, firstUserMessage, firstAssistantMessage string) (string, error) {
	prompt := fmt.Sprintf(
		"Generate a short, descriptive title (max 6 words, no quotes or punctuation at the end) for a conversation that begins:\n\nUser: %s\n\nAssistant: %s\n\nRespond with only the title.",
		firstUserMessage, firstAssistantMessage,
	)
	req := &llm.CompletionRequest{
		Model:     s.Model,
		System:    "You write short, descriptive conversation titles.",
		Messages:  []llm.CompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: 32,
	}
	chunks, err := s.Provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("title request: %w", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("title stream: %w", chunk.Error)
		}
		sb.WriteString(chunk.Text)
	}
	return strings.Trim(strings.TrimSpace(sb.String()), `"'`), nil
}
