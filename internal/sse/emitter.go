package sse

import (
	"context"
	"encoding/json"

	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// Emitter builds one dialog turn's event stream and enforces the wire
// ordering contract: chat_start/chat_end and reasoning_start/reasoning_end
// form properly nested, non-interleaving brackets; tool_call never appears
// inside an open chat bracket; error is always followed by exactly one
// done; done is always last. Callers never construct models.Event directly
// for a bracketed type — the open/close calls below track state and close
// stray-open brackets automatically so a caller cannot violate the contract
// by forgetting to close one.
type Emitter struct {
	dialogID string
	sink     Sink

	chatOpen      bool
	reasoningOpen bool
	errorSent     bool
	doneSent      bool
}

// New creates an Emitter for one dialog's turn, dispatching to sink.
func New(dialogID string, sink Sink) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Emitter{dialogID: dialogID, sink: sink}
}

func (e *Emitter) emit(ctx context.Context, ev models.Event) {
	if e.doneSent {
		return
	}
	ev.DialogID = e.dialogID
	e.sink.Emit(ctx, ev)
}

// User emits the turn-opening event, echoing the checkpoint and session
// active when the user's message was recorded.
func (e *Emitter) User(ctx context.Context, checkpoint, session string) {
	e.emit(ctx, models.Event{Type: models.EventUser, User: &models.UserEventPayload{Checkpoint: checkpoint, Session: session}})
}

// Chat emits one chat text delta, opening the chat bracket first if it
// isn't already open. Reasoning, if open, is closed first since the two
// brackets never interleave.
func (e *Emitter) Chat(ctx context.Context, text string) {
	e.closeReasoning(ctx)
	if !e.chatOpen {
		e.emit(ctx, models.Event{Type: models.EventChatStart})
		e.chatOpen = true
	}
	e.emit(ctx, models.Event{Type: models.EventChat, Content: text})
}

// ChatEnd closes the chat bracket, if open. No-op otherwise.
func (e *Emitter) ChatEnd(ctx context.Context) {
	if e.chatOpen {
		e.emit(ctx, models.Event{Type: models.EventChatEnd})
		e.chatOpen = false
	}
}

// Reasoning emits one reasoning text delta, opening the reasoning bracket
// first if it isn't already open. Chat, if open, is closed first.
func (e *Emitter) Reasoning(ctx context.Context, text string) {
	e.ChatEnd(ctx)
	if !e.reasoningOpen {
		e.emit(ctx, models.Event{Type: models.EventReasoningStart})
		e.reasoningOpen = true
	}
	e.emit(ctx, models.Event{Type: models.EventReasoning, Content: text})
}

func (e *Emitter) closeReasoning(ctx context.Context) {
	if e.reasoningOpen {
		e.emit(ctx, models.Event{Type: models.EventReasoningEnd})
		e.reasoningOpen = false
	}
}

// ReasoningEnd closes the reasoning bracket, if open. No-op otherwise.
func (e *Emitter) ReasoningEnd(ctx context.Context) {
	e.closeReasoning(ctx)
}

// SummaryStart opens the summarization bracket, closing any open
// chat/reasoning bracket first. The caller computes the summary between
// SummaryStart and SummaryEnd.
func (e *Emitter) SummaryStart(ctx context.Context) {
	e.closeBrackets(ctx)
	e.emit(ctx, models.Event{Type: models.EventSummaryStart})
}

// SummaryEnd closes the summarization bracket, carrying the computed
// summary content.
func (e *Emitter) SummaryEnd(ctx context.Context, content string) {
	e.emit(ctx, models.Event{Type: models.EventSummaryEnd, Content: content})
}

// ToolCall emits a reconstructed tool call. tool_call may
// appear only between chat brackets or after chat_end, never inside one, so
// any open bracket is closed first.
func (e *Emitter) ToolCall(ctx context.Context, toolCallID, name string, args json.RawMessage) {
	e.closeBrackets(ctx)
	e.emit(ctx, models.Event{
		Type:     models.EventToolCall,
		ToolCall: &models.ToolCallEventPayload{ToolCallID: toolCallID, Name: name, Args: args},
	})
}

// FileEdit emits the unified diff of one tool-driven file mutation.
func (e *Emitter) FileEdit(ctx context.Context, file, diff string) {
	e.closeBrackets(ctx)
	e.emit(ctx, models.Event{Type: models.EventFileEdit, FileEdit: &models.FileEditEventPayload{File: file, Diff: diff}})
}

// Error closes any open bracket and emits the terminal error event. It does
// not emit done; call Done explicitly so a caller can run cleanup between
// the two.
func (e *Emitter) Error(ctx context.Context, code, message string) {
	if e.errorSent {
		return
	}
	e.closeBrackets(ctx)
	e.emit(ctx, models.Event{Type: models.EventError, Error: &models.ErrorEventPayload{Code: code, Message: message}})
	e.errorSent = true
}

// Done closes any still-open bracket and emits the stream-final done event.
// Safe to call more than once; only the first call emits anything.
func (e *Emitter) Done(ctx context.Context) {
	if e.doneSent {
		return
	}
	e.closeBrackets(ctx)
	e.emit(ctx, models.Event{Type: models.EventDone})
	e.doneSent = true
}

func (e *Emitter) closeBrackets(ctx context.Context) {
	e.closeReasoning(ctx)
	e.ChatEnd(ctx)
}
