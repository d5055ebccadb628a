// Package openai implements llm.Provider against OpenAI's chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/llm"
	"github.com/agentsmithy/agentsmithy/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// Provider implements llm.Provider for OpenAI's chat completion API.
type Provider struct {
	client       *openai.Client
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

// New creates an OpenAI provider from Config.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Models() []llm.Model {
	return []llm.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
	}
}

func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// Complete sends req to OpenAI and returns a channel of streamed chunks.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	messages := p.convertMessages(req.Messages, req.System)

	chatReq := openai.ChatCompletionRequest{
		Model:    p.getModel(req.Model),
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !p.isRetryableError(lastErr) {
			return nil, p.wrapError(lastErr, chatReq.Model)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", p.wrapError(lastErr, chatReq.Model))
	}

	chunks := make(chan *llm.CompletionChunk)
	go p.processStream(ctx, stream, chunks, chatReq.Model)
	return chunks, nil
}

func (p *Provider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *llm.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)

	for {
		select {
		case <-ctx.Done():
			chunks <- &llm.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				for _, tc := range toolCalls {
					if tc.ID != "" && tc.Name != "" {
						chunks <- &llm.CompletionChunk{ToolCall: tc}
					}
				}
				chunks <- &llm.CompletionChunk{Done: true}
				return
			}
			chunks <- &llm.CompletionChunk{Error: p.wrapError(err, model), Done: true}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &llm.CompletionChunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				current := string(toolCalls[index].Input)
				toolCalls[index].Input = json.RawMessage(current + tc.Function.Arguments)
			}
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			for _, tc := range toolCalls {
				if tc.ID != "" && tc.Name != "" {
					chunks <- &llm.CompletionChunk{ToolCall: tc}
				}
			}
			toolCalls = make(map[int]*models.ToolCall)
		}
	}
}

func (p *Provider) convertMessages(messages []llm.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:       tc.ID,
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: tc.Name, Arguments: string(tc.Input)},
					}
				}
			}
			result = append(result, oaiMsg)

		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		default: // user, system
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return result
}

func (p *Provider) convertTools(tools []llm.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func (p *Provider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
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

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.NewProviderError("openai", model, err).WithStatus(apiErr.HTTPStatusCode).WithCode(fmt.Sprint(apiErr.Code))
	}
	return llm.NewProviderError("openai", model, err)
}

var _ llm.Provider = (*Provider)(nil)
