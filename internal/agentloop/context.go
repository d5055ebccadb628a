package agentloop

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/llm"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// PackOptions bounds how much history is folded into one prompt. Since
// models.ToolResultRef already carries only a summary and a bounded
// preview, there is nothing left here to truncate per-message; the budget
// only governs how many whole messages make it into the window.
type PackOptions struct {
	MaxMessages int
	MaxChars    int
}

// DefaultPackOptions returns the baseline message/char budget used when a
// Loop isn't given explicit pack options.
func DefaultPackOptions() PackOptions {
	return PackOptions{MaxMessages: 60, MaxChars: 30000}
}

// buildSystemPrompt assembles the system prompt: base instructions, host
// environment, optional persisted summary, and the caller's code context.
func buildSystemPrompt(base string, summary *models.DialogSummary, chatCtx models.ChatContext) string {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "Host: %s/%s, shell: %s\n", runtime.GOOS, runtime.GOARCH, shellName())

	if summary != nil && summary.Content != "" {
		sb.WriteString("\nSummary of earlier conversation:\n")
		sb.WriteString(summary.Content)
		sb.WriteString("\n")
	}

	if chatCtx.CurrentFile != nil {
		f := chatCtx.CurrentFile
		fmt.Fprintf(&sb, "\nCurrent file: %s (%s)\n```%s\n%s\n```\n", f.Path, f.Language, f.Language, f.Content)
		if f.Selection != nil {
			fmt.Fprintf(&sb, "Selected text:\n```\n%s\n```\n", *f.Selection)
		}
	}
	if len(chatCtx.OpenFiles) > 0 {
		fmt.Fprintf(&sb, "\nOther open files: %s\n", strings.Join(chatCtx.OpenFiles, ", "))
	}

	return sb.String()
}

func shellName() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// packMessages converts persisted dialog history into provider-agnostic
// completion messages, selecting the newest messages that fit the budget
// then restoring chronological order.
func packMessages(history []models.Message, opts PackOptions) []llm.CompletionMessage {
	selected := make([]models.Message, 0, len(history))
	totalChars, totalMsgs := 0, 0
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		chars := messageChars(m)
		if totalMsgs+1 > opts.MaxMessages || totalChars+chars > opts.MaxChars {
			break
		}
		selected = append(selected, m)
		totalMsgs++
		totalChars += chars
	}
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}

	out := make([]llm.CompletionMessage, 0, len(selected))
	for _, m := range selected {
		out = append(out, toCompletionMessage(m))
	}
	return out
}

func messageChars(m models.Message) int {
	chars := len(m.Content)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	if m.ToolResult != nil {
		chars += len(m.ToolResult.Summary) + len(m.ToolResult.TruncatedPreview)
	}
	return chars
}

func toCompletionMessage(m models.Message) llm.CompletionMessage {
	switch m.Role {
	case models.RoleTool:
		if m.ToolResult == nil {
			return llm.CompletionMessage{Role: "tool"}
		}
		return llm.CompletionMessage{
			Role: "tool",
			ToolResults: []models.ToolResult{{
				ToolCallID: m.ToolResult.ToolCallID,
				Content:    toolResultRefContent(m.ToolResult),
				IsError:    m.ToolResult.Status == "error",
			}},
		}
	case models.RoleAssistant:
		return llm.CompletionMessage{Role: "assistant", Content: m.Content, ToolCalls: m.ToolCalls}
	default:
		return llm.CompletionMessage{Role: "user", Content: m.Content}
	}
}

// toolResultRefContent is what the model actually sees for a past tool
// call: its summary and bounded preview, never the full stored body. The
// model must call get_tool_result if it needs more.
func toolResultRefContent(ref *models.ToolResultRef) string {
	if ref.TruncatedPreview == "" {
		return ref.Summary
	}
	return ref.Summary + "\n" + ref.TruncatedPreview
}
