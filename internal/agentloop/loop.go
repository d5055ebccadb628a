// Package agentloop drives one dialog turn end to end: checkpointing,
// prompt assembly, the stream/execute-tools iteration, and
// persistence of every message, reasoning block, and tool result it
// produces. It is the wiring point between internal/llm, internal/toolexec,
// internal/dialogstore, internal/versioning, internal/rag, and internal/sse.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/dialogstore"
	"github.com/agentsmithy/agentsmithy/internal/llm"
	"github.com/agentsmithy/agentsmithy/internal/rag"
	"github.com/agentsmithy/agentsmithy/internal/sse"
	"github.com/agentsmithy/agentsmithy/internal/toolexec"
	"github.com/agentsmithy/agentsmithy/internal/versioning"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// defaultMaxIterations bounds the number of stream/execute-tools round
// trips a single turn may take before it is forced to exit with
// "tool_loop_exceeded".
const defaultMaxIterations = 10

// Config wires everything one Loop needs to run a dialog's turns.
type Config struct {
	Provider    llm.Provider
	Model       string
	MaxTokens   int
	Tools       []llm.ToolSpec
	Thinking    bool
	ThinkingMax int

	Executor   *toolexec.Executor
	Store      *dialogstore.Store
	Versioning *versioning.Tracker
	RAG        *rag.Index

	ProjectRoot      string
	SystemPromptBase string
	PackOptions      PackOptions
	Summarize        SummarizeConfig
	MaxIterations    int

	Logger   *slog.Logger
	Observer LLMObserver
	Tracer   Tracer
}

// LLMObserver receives a notification after every completion request
// finishes, for external metrics collection. Optional: a nil Observer on
// Config is a no-op.
type LLMObserver interface {
	ObserveLLMRequest(provider, model, status string, duration time.Duration)
}

// Tracer creates spans around a turn and its LLM requests. Optional: a nil
// Tracer on Config is a no-op.
type Tracer interface {
	StartTurn(ctx context.Context, dialogID string) (context.Context, func(error))
	StartLLMRequest(ctx context.Context, provider, model string) (context.Context, func(error))
}

func (c Config) sanitized() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.PackOptions.MaxMessages <= 0 && c.PackOptions.MaxChars <= 0 {
		c.PackOptions = DefaultPackOptions()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Loop runs turns for one project's dialogs.
type Loop struct {
	cfg        Config
	summarizer *summarizer
}

// New builds a Loop from cfg.
func New(cfg Config) *Loop {
	cfg = cfg.sanitized()
	return &Loop{
		cfg:        cfg,
		summarizer: newSummarizer(cfg.Provider, cfg.Model, cfg.Summarize),
	}
}

// Run executes one full dialog turn: checkpoint, persist the user message,
// RAG FullSync, build the prompt, iterate the stream/execute-tools loop
// until the assistant produces a final answer (or the turn fails), emitting
// every event to sink. It returns the terminal error, if
// any; sink has already received the corresponding `error` and `done`
// events by the time Run returns.
func (l *Loop) Run(ctx context.Context, dialogID, userContent string, chatCtx models.ChatContext, sink sse.Sink) error {
	if l.cfg.Tracer != nil {
		var endSpan func(error)
		ctx, endSpan = l.cfg.Tracer.StartTurn(ctx, dialogID)
		var runErr error
		defer func() { endSpan(runErr) }()
		runErr = l.run(ctx, dialogID, userContent, chatCtx, sink)
		return runErr
	}
	return l.run(ctx, dialogID, userContent, chatCtx, sink)
}

func (l *Loop) run(ctx context.Context, dialogID, userContent string, chatCtx models.ChatContext, sink sse.Sink) error {
	emitter := sse.New(dialogID, sink)

	checkpoint, session, err := l.openTurn(ctx, userContent)
	if err != nil {
		return l.fail(ctx, emitter, err)
	}
	emitter.User(ctx, string(checkpoint), session)

	userMsg := &models.Message{
		DialogID:     dialogID,
		Role:         models.RoleUser,
		Content:      userContent,
		CheckpointID: string(checkpoint),
		SessionName:  session,
	}
	if _, err := l.cfg.Store.AppendMessage(ctx, userMsg); err != nil {
		return l.fail(ctx, emitter, err)
	}

	if l.cfg.RAG != nil {
		if _, err := l.cfg.RAG.FullSync(ctx); err != nil {
			l.cfg.Logger.Warn("rag full sync failed", "dialog_id", dialogID, "error", err)
		}
	}

	history, err := l.cfg.Store.GetHistory(ctx, dialogID, -1)
	if err != nil {
		return l.fail(ctx, emitter, err)
	}
	summary, err := l.cfg.Store.GetSummary(ctx, dialogID)
	if err != nil {
		return l.fail(ctx, emitter, err)
	}

	history, summary, err = l.maybeSummarize(ctx, emitter, dialogID, history, summary)
	if err != nil {
		return l.fail(ctx, emitter, err)
	}

	system := buildSystemPrompt(l.cfg.SystemPromptBase, summary, chatCtx)
	// history already includes the user message appended above, as its
	// last entry, so the packed window needs no further append.
	messages := packMessages(history, l.cfg.PackOptions)

	for iteration := 0; ; iteration++ {
		if iteration >= l.cfg.MaxIterations {
			err := agentserr.Newf(agentserr.KindInternal, "tool_loop_exceeded",
				"exceeded %d tool-use iterations", l.cfg.MaxIterations).WithDialogID(dialogID)
			return l.fail(ctx, emitter, err)
		}

		select {
		case <-ctx.Done():
			return l.fail(ctx, emitter, agentserr.New(agentserr.KindCancelled, "turn_cancelled", ctx.Err()).WithDialogID(dialogID))
		default:
		}

		text, toolCalls, streamErr := l.streamOnce(ctx, emitter, system, messages)
		var assistantMsgIdx int
		if text != "" || len(toolCalls) > 0 {
			// Persist whatever the provider produced before the stream broke
			// off, partial or not, so a disconnect or provider failure never
			// silently drops output the user already saw.
			assistantMsg := &models.Message{DialogID: dialogID, Role: models.RoleAssistant, Content: text, ToolCalls: toolCalls}
			idx, err := l.cfg.Store.AppendMessage(ctx, assistantMsg)
			if err != nil {
				if streamErr == nil {
					return l.fail(ctx, emitter, err)
				}
				l.cfg.Logger.Warn("failed to persist partial assistant message", "dialog_id", dialogID, "error", err)
			}
			assistantMsgIdx = idx
		}
		if streamErr != nil {
			return l.fail(ctx, emitter, streamErr)
		}

		if len(toolCalls) == 0 {
			emitter.Done(ctx)
			return nil
		}

		messages = append(messages, llm.CompletionMessage{Role: "assistant", Content: text, ToolCalls: toolCalls})

		toolResults, err := l.executeTools(ctx, emitter, dialogID, string(checkpoint), assistantMsgIdx, toolCalls)
		if err != nil {
			return l.fail(ctx, emitter, err)
		}
		for _, tr := range toolResults {
			messages = append(messages, llm.CompletionMessage{Role: "tool", ToolResults: []models.ToolResult{tr}})
		}
	}
}

// openTurn creates the pre-message checkpoint and reports the dialog's
// active session: each user message is recorded with the checkpoint
// created immediately before it.
func (l *Loop) openTurn(ctx context.Context, userContent string) (versioning.Hash, string, error) {
	if l.cfg.Versioning == nil {
		return "", "", agentserr.Newf(agentserr.KindInternal, "versioning_unavailable", "no checkpoint tracker configured")
	}
	checkpoint, err := l.cfg.Versioning.CreateCheckpoint("Before user message: " + truncateForMessage(userContent, 50))
	if err != nil {
		return "", "", agentserr.New(agentserr.KindInternal, "create_checkpoint_failed", err)
	}
	session, err := l.cfg.Versioning.ActiveSession()
	if err != nil {
		return "", "", agentserr.New(agentserr.KindInternal, "active_session_failed", err)
	}
	return checkpoint, session, nil
}

func truncateForMessage(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// maybeSummarize folds the oldest part of history into a persisted summary
// if the prepared prompt would exceed the configured threshold, pruning the
// tool-result store entries it covers.
func (l *Loop) maybeSummarize(
	ctx context.Context, emitter *sse.Emitter, dialogID string,
	history []models.Message, summary *models.DialogSummary,
) ([]models.Message, *models.DialogSummary, error) {
	if !l.summarizer.shouldSummarize(history, "") {
		return history, summary, nil
	}

	toSummarize := l.summarizer.messagesToSummarize(history)
	if len(toSummarize) == 0 {
		return history, summary, nil
	}

	emitter.SummaryStart(ctx)
	content, err := l.summarizer.summarize(ctx, toSummarize)
	if err != nil {
		return nil, nil, agentserr.New(agentserr.KindProviderError, "summarize_failed", err)
	}
	emitter.SummaryEnd(ctx, content)

	coversUpTo := toSummarize[len(toSummarize)-1].Idx
	if err := l.cfg.Store.PutSummary(ctx, dialogID, content, coversUpTo); err != nil {
		return nil, nil, err
	}

	var prunedIDs []string
	for _, m := range toSummarize {
		if m.ToolResult != nil {
			prunedIDs = append(prunedIDs, m.ToolResult.ToolCallID)
		}
	}
	if len(prunedIDs) > 0 {
		if err := l.cfg.Store.PruneToolResults(ctx, dialogID, prunedIDs); err != nil {
			l.cfg.Logger.Warn("prune tool results failed", "dialog_id", dialogID, "error", err)
		}
	}

	remaining := history[len(toSummarize):]
	newSummary := &models.DialogSummary{DialogID: dialogID, Content: content, CoversUpToIdx: coversUpTo}
	return remaining, newSummary, nil
}

// streamOnce drives one LLM completion to exhaustion, forwarding text and
// reasoning deltas to emitter and reconstructing any tool calls the
// provider emits. Provider adapters already reassemble each tool call's
// name/input by the time it reaches CompletionChunk.ToolCall, so this just
// collects them in arrival order.
func (l *Loop) streamOnce(
	ctx context.Context, emitter *sse.Emitter, system string, messages []llm.CompletionMessage,
) (string, []models.ToolCall, error) {
	req := &llm.CompletionRequest{
		Model:                l.cfg.Model,
		System:               system,
		Messages:             messages,
		Tools:                l.cfg.Tools,
		MaxTokens:            l.cfg.MaxTokens,
		EnableThinking:       l.cfg.Thinking,
		ThinkingBudgetTokens: l.cfg.ThinkingMax,
	}
	endSpan := func(error) {}
	if l.cfg.Tracer != nil {
		ctx, endSpan = l.cfg.Tracer.StartLLMRequest(ctx, l.cfg.Provider.Name(), l.cfg.Model)
	}

	start := time.Now()
	chunks, err := l.cfg.Provider.Complete(ctx, req)
	if err != nil {
		l.observeLLMRequest(start, "error")
		endSpan(err)
		return "", nil, agentserr.New(agentserr.KindProviderError, "completion_request_failed", err)
	}

	var text string
	var toolCalls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			emitter.ChatEnd(ctx)
			emitter.ReasoningEnd(ctx)
			l.observeLLMRequest(start, "error")
			endSpan(chunk.Error)
			return text, toolCalls, agentserr.New(agentserr.KindProviderError, "completion_stream_failed", chunk.Error)
		}
		if chunk.Thinking != "" {
			emitter.Reasoning(ctx, chunk.Thinking)
		}
		if chunk.Text != "" {
			text += chunk.Text
			emitter.Chat(ctx, chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			break
		}
	}
	emitter.ChatEnd(ctx)
	emitter.ReasoningEnd(ctx)
	l.observeLLMRequest(start, "success")
	endSpan(nil)
	return text, toolCalls, nil
}

func (l *Loop) observeLLMRequest(start time.Time, status string) {
	if l.cfg.Observer == nil {
		return
	}
	l.cfg.Observer.ObserveLLMRequest(l.cfg.Provider.Name(), l.cfg.Model, status, time.Since(start))
}

// executeTools runs a turn's reconstructed tool calls and persists a
// tool-role message with a lazy reference for each. checkpointID and
// assistantMsgIdx identify the turn's checkpoint and requesting assistant
// message, recorded alongside each file edit in the audit trail.
func (l *Loop) executeTools(
	ctx context.Context, emitter *sse.Emitter, dialogID, checkpointID string, assistantMsgIdx int, calls []models.ToolCall,
) ([]models.ToolResult, error) {
	currentTurnIDs := make(map[string]bool, len(calls))
	for _, c := range calls {
		currentTurnIDs[c.ID] = true
	}

	for _, c := range calls {
		emitter.ToolCall(ctx, c.ID, c.Name, c.Input)
	}

	var malformed []models.ToolCall
	var valid []models.ToolCall
	for _, c := range calls {
		if json.Valid(c.Input) {
			valid = append(valid, c)
		} else {
			malformed = append(malformed, c)
		}
	}

	tc := &toolexec.ToolContext{
		ProjectRoot:        l.cfg.ProjectRoot,
		DialogID:           dialogID,
		Versioning:         l.cfg.Versioning,
		RAG:                l.cfg.RAG,
		Results:            l.cfg.Store,
		CurrentTurnCallIDs: currentTurnIDs,
		EmitFileEdit: func(path, diff string) {
			emitter.FileEdit(ctx, path, diff)
		},
		RecordFileEdit: func(path, diff string) {
			rec := &models.FileEditRecord{
				DialogID:     dialogID,
				FilePath:     path,
				Diff:         diff,
				CheckpointID: checkpointID,
				MessageIdx:   assistantMsgIdx,
			}
			if err := l.cfg.Store.AppendFileEdit(ctx, rec); err != nil {
				l.cfg.Logger.Warn("append file edit failed", "dialog_id", dialogID, "path", path, "error", err)
			}
		},
	}

	callResults := l.cfg.Executor.ExecuteAll(ctx, tc, valid)
	byID := make(map[string]*toolexec.CallResult, len(callResults))
	for _, r := range callResults {
		byID[r.ToolCallID] = r
	}
	for _, c := range malformed {
		byID[c.ID] = &toolexec.CallResult{
			ToolCallID: c.ID,
			ToolName:   c.Name,
			Err: agentserr.New(agentserr.KindValidation, "parse",
				fmt.Errorf("malformed tool call arguments")).WithToolCallID(c.ID),
		}
	}

	out := make([]models.ToolResult, 0, len(calls))
	for _, c := range calls {
		wire, err := l.persistToolResult(ctx, dialogID, c, byID[c.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, wire)
	}
	return out, nil
}

// persistToolResult stores a call's full structured result out-of-band,
// appends the dialog's lazy tool-role message, and returns the simple
// models.ToolResult shape the next LLM call sees.
func (l *Loop) persistToolResult(ctx context.Context, dialogID string, call models.ToolCall, r *toolexec.CallResult) (models.ToolResult, error) {
	status := "ok"
	var fullJSON []byte
	var result *toolexec.Result
	var summary string

	if r != nil && r.Err != nil {
		status = "error"
		code := "exception"
		if aerr, ok := agentserr.As(r.Err); ok {
			code = string(aerr.Kind)
			if aerr.Code == "parse" {
				code = "parse"
			}
		}
		payload := map[string]any{"type": "tool_error", "name": call.Name, "code": code, "error": r.Err.Error(), "error_type": code}
		fullJSON, _ = json.Marshal(payload)
		result = &toolexec.Result{Content: r.Err.Error(), IsError: true}
		summary = "Tool call failed"
	} else if r != nil && r.Result != nil {
		result = r.Result
		if result.IsError {
			status = "error"
		}
		if result.StructuredJSON != nil {
			fullJSON = result.StructuredJSON
		} else {
			fullJSON = []byte(result.Content)
		}
		summary = deriveSummary(call.Name, call.Input, result)
	}

	if err := l.cfg.Store.PutToolResult(ctx, dialogID, call.ID, call.Name, status, fullJSON); err != nil {
		return models.ToolResult{}, err
	}

	content := ""
	if result != nil {
		content = result.Content
	}
	ref := &models.ToolResultRef{
		ToolCallID:       call.ID,
		ToolName:         call.Name,
		Status:           status,
		SizeBytes:        len(fullJSON),
		Summary:          summary,
		TruncatedPreview: truncatedPreview(content),
		ResultRef:        call.ID,
	}

	toolMsg := &models.Message{DialogID: dialogID, Role: models.RoleTool, ToolResult: ref}
	if _, err := l.cfg.Store.AppendMessage(ctx, toolMsg); err != nil {
		return models.ToolResult{}, err
	}

	return models.ToolResult{ToolCallID: call.ID, Content: toolResultRefContent(ref), IsError: status == "error"}, nil
}

// fail emits the terminal error/done pair for a turn that could not
// continue, logs it, and returns it unchanged so the caller can map it to
// an HTTP/transport-level response.
func (l *Loop) fail(ctx context.Context, emitter *sse.Emitter, err error) error {
	code := "internal"
	if aerr, ok := agentserr.As(err); ok {
		code = aerr.Code
		if code == "" {
			code = string(aerr.Kind)
		}
	}
	emitter.Error(ctx, code, err.Error())
	emitter.Done(ctx)
	l.cfg.Logger.Error("agent turn failed", "error", err)
	return err
}
