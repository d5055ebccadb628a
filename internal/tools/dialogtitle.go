package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/toolexec"
)

// TitleSummarizer produces a short dialog title from the opening exchange.
// Satisfied by an internal/llm provider configured for the summarization
// workload.
type TitleSummarizer interface {
	SummarizeTitle(ctx context.Context, firstUserMessage, firstAssistantMessage string) (string, error)
}

// DialogTitler persists the generated title into dialog metadata.
// Satisfied by *internal/dialogstore.Store.
type DialogTitler interface {
	SetTitle(ctx context.Context, dialogID, title string) error
}

const maxDialogTitleLen = 80

// generateDialogTitleTool implements generate_dialog_title: summarizes the
// opening exchange into a short title and persists it.
type generateDialogTitleTool struct {
	summarizer TitleSummarizer
	store      DialogTitler
}

func newGenerateDialogTitleTool(summarizer TitleSummarizer, store DialogTitler) *generateDialogTitleTool {
	return &generateDialogTitleTool{summarizer: summarizer, store: store}
}

func (t *generateDialogTitleTool) Name() string                { return "generate_dialog_title" }
func (t *generateDialogTitleTool) LockKind() toolexec.LockKind { return toolexec.LockNone }

func (t *generateDialogTitleTool) Execute(ctx context.Context, tc *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	var req struct {
		FirstUserMessage      string `json:"first_user_message"`
		FirstAssistantMessage string `json:"first_assistant_message"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, agentserr.New(agentserr.KindValidation, "invalid_tool_input", err)
	}
	if strings.TrimSpace(req.FirstUserMessage) == "" {
		return nil, agentserr.Newf(agentserr.KindValidation, "missing_first_user_message", "first_user_message is required")
	}
	if t.summarizer == nil {
		return nil, agentserr.Newf(agentserr.KindInternal, "summarizer_unavailable", "no title summarizer configured")
	}

	title, err := t.summarizer.SummarizeTitle(ctx, req.FirstUserMessage, req.FirstAssistantMessage)
	if err != nil {
		return nil, agentserr.New(agentserr.KindProviderError, "summarize_title_failed", err)
	}
	title = strings.TrimSpace(title)
	if len(title) > maxDialogTitleLen {
		title = title[:maxDialogTitleLen]
	}
	if title == "" {
		title = fallbackTitle(req.FirstUserMessage)
	}

	if tc != nil && tc.DialogID != "" && t.store != nil {
		if err := t.store.SetTitle(ctx, tc.DialogID, title); err != nil {
			return nil, err
		}
	}

	payload, _ := json.Marshal(map[string]string{"title": title})
	return &toolexec.Result{Content: string(payload)}, nil
}

func fallbackTitle(firstUserMessage string) string {
	title := strings.TrimSpace(firstUserMessage)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > maxDialogTitleLen {
		title = title[:maxDialogTitleLen]
	}
	return title
}
