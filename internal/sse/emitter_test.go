package sse

import (
	"context"
	"testing"

	"github.com/agentsmithy/agentsmithy/pkg/models"
)

type recordingSink struct {
	events []models.Event
}

func (s *recordingSink) Emit(ctx context.Context, e models.Event) {
	s.events = append(s.events, e)
}

func (s *recordingSink) types() []models.EventType {
	out := make([]models.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func assertTypes(t *testing.T, got []models.EventType, want ...models.EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestChatBracketAutoOpensAndCloses(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	e := New("d1", sink)

	e.Chat(ctx, "hello")
	e.Chat(ctx, " world")
	e.ChatEnd(ctx)
	e.Done(ctx)

	assertTypes(t, sink.types(),
		models.EventChatStart, models.EventChat, models.EventChat, models.EventChatEnd, models.EventDone)
}

func TestReasoningClosesChatFirst(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	e := New("d1", sink)

	e.Chat(ctx, "partial")
	e.Reasoning(ctx, "thinking")
	e.Done(ctx)

	assertTypes(t, sink.types(),
		models.EventChatStart, models.EventChat, models.EventChatEnd,
		models.EventReasoningStart, models.EventReasoning, models.EventReasoningEnd, models.EventDone)
}

func TestToolCallNeverInsideOpenChatBracket(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	e := New("d1", sink)

	e.Chat(ctx, "I'll read the file")
	e.ToolCall(ctx, "call_1", "read_file", nil)
	e.Done(ctx)

	got := sink.types()
	assertTypes(t, got, models.EventChatStart, models.EventChat, models.EventChatEnd, models.EventToolCall, models.EventDone)
}

func TestErrorIsFollowedByExactlyOneDone(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	e := New("d1", sink)

	e.Chat(ctx, "working")
	e.Error(ctx, "shutdown", "server shutting down")
	e.Done(ctx)
	e.Done(ctx) // second call must be a no-op

	assertTypes(t, sink.types(),
		models.EventChatStart, models.EventChat, models.EventChatEnd, models.EventError, models.EventDone)
}

func TestDoneIsAlwaysLastAndIdempotent(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	e := New("d1", sink)

	e.Reasoning(ctx, "thinking")
	e.Done(ctx)
	e.Chat(ctx, "too late")
	e.Done(ctx)

	got := sink.types()
	if got[len(got)-1] != models.EventDone {
		t.Fatalf("last event = %v, want done", got[len(got)-1])
	}
	doneCount := 0
	for _, ty := range got {
		if ty == models.EventDone {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Fatalf("done emitted %d times, want 1", doneCount)
	}
}

func TestEveryEventCarriesDialogID(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	e := New("dialog-42", sink)

	e.User(ctx, "C0", "session_1")
	e.Chat(ctx, "hi")
	e.Done(ctx)

	for _, ev := range sink.events {
		if ev.DialogID != "dialog-42" {
			t.Fatalf("event %v has DialogID %q, want dialog-42", ev.Type, ev.DialogID)
		}
	}
}
