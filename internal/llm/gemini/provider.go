// Package gemini implements llm.Provider against Google's Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/llm"
	"github.com/agentsmithy/agentsmithy/pkg/models"
	"google.golang.org/genai"
)

// Provider implements llm.Provider for Google's Gemini models.
type Provider struct {
	client       *genai.Client
	base         llm.BaseProvider
	defaultModel string
}

// Config holds the parameters needed to construct a Provider.
type Config struct {
	APIKey       string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// New creates a Gemini provider from Config.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &Provider{
		client:       client,
		base:         llm.NewBaseProvider("gemini", cfg.MaxRetries, cfg.RetryDelay),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Models() []llm.Model {
	return []llm.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000, SupportsVision: true},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextSize: 1000000, SupportsVision: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2000000, SupportsVision: true},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextSize: 1000000, SupportsVision: true},
	}
}

func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// Complete sends req to Gemini and returns a channel of streamed chunks.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	chunks := make(chan *llm.CompletionChunk)

	go func() {
		defer close(chunks)

		model := p.getModel(req.Model)
		contents := p.convertMessages(req.Messages)
		config := p.buildConfig(req)

		err := p.base.Retry(ctx, p.isRetryableError, func() error {
			streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			if err := p.processStream(ctx, streamIter, chunks); err != nil {
				return p.wrapError(err, model)
			}
			return nil
		})

		if err != nil {
			if ctx.Err() != nil {
				chunks <- &llm.CompletionChunk{Error: ctx.Err()}
				return
			}
			chunks <- &llm.CompletionChunk{Error: p.wrapError(err, model)}
			return
		}

		chunks <- &llm.CompletionChunk{Done: true}
	}()

	return chunks, nil
}

func (p *Provider) processStream(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *llm.CompletionChunk) error {
	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					chunks <- &llm.CompletionChunk{Text: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					chunks <- &llm.CompletionChunk{ToolCall: &models.ToolCall{
						ID:    generateToolCallID(part.FunctionCall.Name),
						Name:  part.FunctionCall.Name,
						Input: argsJSON,
					}}
				}
			}
		}
	}
	return nil
}

// convertMessages converts provider-agnostic messages to Gemini content. System
// messages are dropped; they travel via buildConfig's SystemInstruction instead.
// Gemini has no vision support here since CompletionMessage carries no attachments.
func (p *Provider) convertMessages(messages []llm.CompletionMessage) []*genai.Content {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case "assistant":
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{"result": tr.Content, "error": tr.IsError}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     getToolNameFromID(tr.ToolCallID, messages),
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result
}

func (p *Provider) convertTools(tools []llm.ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		var schema *genai.Schema
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			schema = &genai.Schema{Type: genai.TypeObject}
		}
		decls[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (p *Provider) buildConfig(req *llm.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = p.convertTools(req.Tools)
	}

	return config
}

func (p *Provider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := llm.GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	errMsg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "too many requests", "resource exhausted", "quota",
		"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout",
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

	providerErr := llm.NewProviderError("gemini", model, err)
	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "401"), strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403"), strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "404"), strings.Contains(errMsg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(errMsg, "429"), strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr
}

// generateToolCallID makes up an ID for a tool call, since Gemini doesn't
// assign one the way Anthropic and OpenAI do.
func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// getToolNameFromID recovers a tool call's name by scanning prior messages
// for the matching ToolCall, falling back to parsing the generated ID.
func getToolNameFromID(toolCallID string, messages []llm.CompletionMessage) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

var _ llm.Provider = (*Provider)(nil)
