// Package anthropic implements llm.Provider against Anthropic's Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/agentsmithy/agentsmithy/internal/llm"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// Provider implements llm.Provider for Anthropic's Claude API: streaming
// completions, tool use, and extended thinking.
type Provider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// Config holds the parameters needed to construct a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// New creates an Anthropic provider from Config.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Models() []llm.Model {
	return []llm.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

func (p *Provider) SupportsTools() bool { return true }

// Complete sends req to Claude and returns a channel of streamed chunks.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	chunks := make(chan *llm.CompletionChunk)

	go func() {
		defer close(chunks)

		model := p.getModel(req.Model)
		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			wrapped := p.wrapError(err, model)
			if !p.isRetryableError(wrapped) {
				chunks <- &llm.CompletionChunk{Error: wrapped}
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &llm.CompletionChunk{Error: ctx.Err()}
					return
				case <-time.After(backoff):
					continue
				}
			}
		}
		if err != nil {
			chunks <- &llm.CompletionChunk{Error: fmt.Errorf("anthropic: max retries exceeded: %w", p.wrapError(err, model))}
			return
		}

		p.processStream(stream, chunks, model)
	}()

	return chunks, nil
}

func (p *Provider) createStream(ctx context.Context, req *llm.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents caps consecutive no-op SSE events before the stream
// is treated as malformed, protecting against a flooding stream.
const maxEmptyStreamEvents = 300

func (p *Provider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *llm.CompletionChunk, model string) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0
	inThinkingBlock := false
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinkingBlock = true
				chunks <- &llm.CompletionChunk{ThinkingStart: true}
				processed = true
			case "tool_use":
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &llm.CompletionChunk{Text: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &llm.CompletionChunk{Thinking: delta.Thinking}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if inThinkingBlock {
				chunks <- &llm.CompletionChunk{ThinkingEnd: true}
				inThinkingBlock = false
				processed = true
			} else if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				chunks <- &llm.CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
				processed = true
			}

		case "message_delta":
			if usage := event.AsMessageDelta().Usage; usage.OutputTokens > 0 {
				outputTokens = int(usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- &llm.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &llm.CompletionChunk{Error: p.wrapError(errors.New("anthropic stream error"), model)}
			return
		}

		if processed {
			emptyEventCount = 0
		} else if emptyEventCount++; emptyEventCount >= maxEmptyStreamEvents {
			chunks <- &llm.CompletionChunk{Error: p.wrapError(
				fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEventCount), model)}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &llm.CompletionChunk{Error: p.wrapError(err, model)}
	}
}

func (p *Provider) convertMessages(messages []llm.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *Provider) convertTools(tools []llm.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *Provider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *Provider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

func (p *Provider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := llm.GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	errMsg := err.Error()
	for _, s := range []string{"rate_limit", "429", "too many requests", "500", "502", "503", "504",
		"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(errMsg, s) {
			return true
		}
	}
	return false
}

func (p *Provider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if llm.IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := llm.NewProviderError("anthropic", model, err).WithStatus(apiErr.StatusCode)
		providerErr = providerErr.WithRequestID(apiErr.RequestID)
		return providerErr
	}
	return llm.NewProviderError("anthropic", model, err)
}

var _ llm.Provider = (*Provider)(nil)
