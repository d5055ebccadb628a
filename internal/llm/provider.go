// Package llm defines the provider-agnostic interface the agent loop uses to
// talk to Anthropic, OpenAI, and Gemini, plus the shared request/response
// types each provider adapter converts to and from its own wire format.
package llm

import (
	"context"
	"encoding/json"

	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// Provider is implemented by each concrete LLM backend (anthropic, openai,
// gemini). Implementations must be safe for concurrent use: the agent loop
// may call Complete for independent dialogs from separate goroutines.
type Provider interface {
	// Complete sends a prompt and returns a channel of streamed chunks. The
	// channel is closed when the stream ends, whether by completion, error,
	// or context cancellation.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier ("anthropic", "openai", "gemini").
	Name() string

	// Models returns the models this provider exposes.
	Models() []Model

	// SupportsTools reports whether this provider can be given ToolSpecs.
	SupportsTools() bool
}

// CompletionRequest is one turn's worth of context sent to a provider.
type CompletionRequest struct {
	Model                string
	System               string
	Messages             []CompletionMessage
	Tools                []ToolSpec
	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// CompletionMessage is one entry of conversation history, in the shape the
// agent loop assembles it from dialogstore messages before calling Complete.
type CompletionMessage struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// ToolSpec describes one tool available for the model to call. It carries
// just enough to build a provider's native tool definition; execution is the
// agent loop's concern, not the provider's.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// CompletionChunk is one piece of a streamed response.
type CompletionChunk struct {
	Text          string
	Thinking      string
	ThinkingStart bool
	ThinkingEnd   bool
	ToolCall      *models.ToolCall
	Done          bool
	Error         error
	InputTokens   int
	OutputTokens  int
}

// Model describes one model a provider exposes.
type Model struct {
	ID             string
	Name           string
	ContextSize    int
	SupportsVision bool
}
