// Package sse builds and enforces the ordering contract of the chat
// pipeline's server-sent event stream.
package sse

import (
	"context"

	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// Sink receives events as the emitter produces them. Implementations must be
// safe to call from a single goroutine at a time (the emitter never calls
// concurrently) but may themselves fan out concurrently downstream.
type Sink interface {
	Emit(ctx context.Context, e models.Event)
}

// ChanSink forwards events to a channel, blocking until the event is
// consumed or ctx is done. Unlike a dropping sink, an SSE stream cannot
// silently lose a tool_call or error event, so this sink never discards.
type ChanSink struct {
	ch chan<- models.Event
}

// NewChanSink wraps ch as a Sink.
func NewChanSink(ch chan<- models.Event) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends e to the channel, or returns without sending if ctx is done.
func (s *ChanSink) Emit(ctx context.Context, e models.Event) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	}
}

// MultiSink fans an event out to every non-nil sink in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a MultiSink, dropping nil entries.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches e to every wrapped sink.
func (s *MultiSink) Emit(ctx context.Context, e models.Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// NopSink discards every event. Useful in tests that only care about a
// loop's return value, not its stream.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(ctx context.Context, e models.Event) {}
