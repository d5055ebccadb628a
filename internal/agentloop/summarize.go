package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/llm"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// SummarizeConfig configures when and how the dialog's oldest messages are
// folded into a persisted summary ("history summarization").
type SummarizeConfig struct {
	// TokenThreshold is the prepared-prompt size, in characters divided by
	// ~4 (a rough token estimate, since providers tokenize differently),
	// above which summarization runs before the next LLM call.
	TokenThreshold int
	// KeepRecentMessages is how many of the newest messages are left out of
	// the summarized prefix regardless of threshold.
	KeepRecentMessages int
	// MaxSummaryLength bounds the summary's length in characters.
	MaxSummaryLength int
}

// DefaultSummarizeConfig returns the baseline thresholds used when a Loop
// isn't given explicit summarization settings.
func DefaultSummarizeConfig() SummarizeConfig {
	return SummarizeConfig{TokenThreshold: 6000, KeepRecentMessages: 10, MaxSummaryLength: 2000}
}

// summarizer generates rolling summaries of a dialog's older messages using
// the same provider the loop streams completions from, rather than a
// separate summarization backend.
type summarizer struct {
	provider llm.Provider
	model    string
	cfg      SummarizeConfig
}

func newSummarizer(provider llm.Provider, model string, cfg SummarizeConfig) *summarizer {
	if cfg.TokenThreshold <= 0 {
		cfg.TokenThreshold = 6000
	}
	if cfg.KeepRecentMessages <= 0 {
		cfg.KeepRecentMessages = 10
	}
	if cfg.MaxSummaryLength <= 0 {
		cfg.MaxSummaryLength = 2000
	}
	return &summarizer{provider: provider, model: model, cfg: cfg}
}

// estimatedTokens approximates a prompt's token count from its character
// length; good enough to decide whether to summarize, not to bill usage.
func estimatedTokens(history []models.Message) int {
	chars := 0
	for _, m := range history {
		chars += messageChars(m)
	}
	return chars / 4
}

// shouldSummarize reports whether the prepared prompt, built from history
// plus the incoming user message, exceeds the configured token threshold.
func (s *summarizer) shouldSummarize(history []models.Message, incoming string) bool {
	return estimatedTokens(history)+len(incoming)/4 > s.cfg.TokenThreshold
}

// messagesToSummarize returns the oldest prefix of history to fold into a
// summary, leaving the configured number of recent messages untouched.
func (s *summarizer) messagesToSummarize(history []models.Message) []models.Message {
	if len(history) <= s.cfg.KeepRecentMessages {
		return nil
	}
	return history[:len(history)-s.cfg.KeepRecentMessages]
}

// summarize produces a new summary covering toSummarize, replacing any
// summary already persisted for the dialog. The caller is responsible for
// persisting the result via dialogstore.
func (s *summarizer) summarize(ctx context.Context, toSummarize []models.Message) (string, error) {
	if len(toSummarize) == 0 {
		return "", nil
	}

	req := &llm.CompletionRequest{
		Model:     s.model,
		System:    "You summarize developer tool conversations concisely and factually.",
		Messages:  []llm.CompletionMessage{{Role: "user", Content: buildSummarizationPrompt(toSummarize, s.cfg.MaxSummaryLength)}},
		MaxTokens: 1024,
	}
	chunks, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarization request: %w", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("summarization stream: %w", chunk.Error)
		}
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}

// buildSummarizationPrompt renders a role-labeled transcript of the
// messages to summarize, including each tool call's name and each tool
// result's lazy summary rather than its full body.
func buildSummarizationPrompt(messages []models.Message, maxLength int) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation concisely. ")
	fmt.Fprintf(&sb, "Keep the summary under %d characters. ", maxLength)
	sb.WriteString("Focus on: key topics discussed, decisions made, pending tasks, and tool executions and their outcomes.\n\n")

	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&sb, "\n  [called tool: %s]", tc.Name)
		}
		if m.ToolResult != nil {
			fmt.Fprintf(&sb, "\n  [tool result (%s): %s]", m.ToolResult.Status, m.ToolResult.Summary)
		}
		sb.WriteString("\n\n")
	}

	sb.WriteString("---\nProvide a concise summary:")
	return sb.String()
}
