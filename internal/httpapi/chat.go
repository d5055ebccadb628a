package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/sse"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// writerSink frames every event as one `data: <json>\n\n` line and flushes
// immediately, so the client sees each event as soon as it is emitted.
type writerSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *writerSink) Emit(ctx context.Context, ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return
	}
	if _, err := s.w.Write(data); err != nil {
		return
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return
	}
	s.flusher.Flush()
}

var _ sse.Sink = (*writerSink)(nil)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		writeError(w, http.StatusServiceUnavailable, agentserr.ErrShuttingDown)
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, agentserr.Newf(agentserr.KindValidation, "bad_request", "invalid JSON body: %v", err))
		return
	}

	wantsStream := req.Stream && strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	if !wantsStream {
		s.handleChatBuffered(w, r, req)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, agentserr.Newf(agentserr.KindInternal, "no_flush", "response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &writerSink{w: w, flusher: flusher}
	_, _ = s.chat.Chat(r.Context(), req, sink)
}

// bufferedSink accumulates every event in memory for the non-streaming
// response path, where the client gets one assembled JSON result instead of
// a live event-by-event stream.
type bufferedSink struct {
	events []models.Event
}

func (s *bufferedSink) Emit(ctx context.Context, ev models.Event) {
	s.events = append(s.events, ev)
}

func (s *Server) handleChatBuffered(w http.ResponseWriter, r *http.Request, req models.ChatRequest) {
	sink := &bufferedSink{}
	dialogID, err := s.chat.Chat(r.Context(), req, sink)

	var content, reasoning string
	var errEvent *models.ErrorEventPayload
	for _, ev := range sink.events {
		switch ev.Type {
		case models.EventChat:
			content += ev.Content
		case models.EventReasoning:
			reasoning += ev.Content
		case models.EventError:
			errEvent = ev.Error
		}
	}

	resp := struct {
		DialogID  string                     `json:"dialog_id"`
		Content   string                     `json:"content"`
		Reasoning string                     `json:"reasoning,omitempty"`
		Error     *models.ErrorEventPayload  `json:"error,omitempty"`
	}{DialogID: dialogID, Content: content, Reasoning: reasoning, Error: errEvent}

	status := http.StatusOK
	if err != nil && errEvent == nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.status.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status       string                      `json:"status"`
		Port         int                         `json:"port"`
		PID          int                         `json:"pid"`
		ServerStatus models.ServerStatusValue    `json:"server_status"`
		ConfigValid  bool                        `json:"config_valid"`
		ConfigErrors []string                    `json:"config_errors,omitempty"`
	}{
		Status:       "ok",
		Port:         snap.Port,
		PID:          snap.ServerPID,
		ServerStatus: snap.ServerStatus,
		ConfigValid:  snap.ConfigValid,
		ConfigErrors: snap.ConfigErrors,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	code := "internal"
	if e, ok := agentserr.As(err); ok {
		code = string(e.Kind)
		status = statusForKind(e.Kind)
	}
	writeJSON(w, status, struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}{Error: err.Error(), Code: code})
}

func statusForKind(k agentserr.Kind) int {
	switch k {
	case agentserr.KindValidation:
		return http.StatusBadRequest
	case agentserr.KindNotFound:
		return http.StatusNotFound
	case agentserr.KindConflict:
		return http.StatusConflict
	case agentserr.KindPermission:
		return http.StatusForbidden
	case agentserr.KindTimeout:
		return http.StatusGatewayTimeout
	case agentserr.KindCancelled:
		return 499
	case agentserr.KindShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
