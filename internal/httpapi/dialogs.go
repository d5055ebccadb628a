package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/dialogstore"
	"github.com/agentsmithy/agentsmithy/internal/versioning"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

func (s *Server) handleListDialogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	dialogs, err := s.store.ListDialogs(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Dialogs []*models.Dialog `json:"dialogs"`
	}{Dialogs: dialogs})
}

func (s *Server) handleCreateDialog(w http.ResponseWriter, r *http.Request) {
	dialog, err := s.chat.CreateDialog(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, dialog)
}

func (s *Server) handleGetDialog(w http.ResponseWriter, r *http.Request) {
	dialog, err := s.store.GetDialog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, dialog)
}

func (s *Server) handlePatchDialog(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title *string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, agentserr.Newf(agentserr.KindValidation, "bad_request", "invalid JSON body: %v", err))
		return
	}
	if body.Title == nil {
		writeError(w, http.StatusBadRequest, agentserr.Newf(agentserr.KindValidation, "missing_title", "title is required"))
		return
	}
	if err := s.store.SetTitle(r.Context(), r.PathValue("id"), *body.Title); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dialog, err := s.store.GetDialog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, dialog)
}

// handleDeleteDialog removes a dialog's store rows and its on-disk
// checkpoints/ directory, refusing while a turn is in flight against it.
func (s *Server) handleDeleteDialog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.chat.DeleteDialog(r.Context(), id); err != nil {
		if agentserr.Is(err, agentserr.KindNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetCurrentDialog(w http.ResponseWriter, r *http.Request) {
	dialog, err := s.chat.CurrentDialog(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if dialog == nil {
		writeJSON(w, http.StatusOK, struct {
			CurrentDialogID string `json:"current_dialog_id"`
		}{})
		return
	}
	writeJSON(w, http.StatusOK, dialog)
}

func (s *Server) handleSetCurrentDialog(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, agentserr.Newf(agentserr.KindValidation, "missing_id", "id query parameter is required"))
		return
	}
	dialog, err := s.chat.SetCurrentDialog(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, dialog)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	dialogID := r.PathValue("id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	before, _ := strconv.Atoi(r.URL.Query().Get("before"))

	messages, err := s.store.GetHistory(r.Context(), dialogID, -1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	window := messages
	if before > 0 {
		cut := 0
		for cut < len(window) && window[cut].Idx < before {
			cut++
		}
		window = window[:cut]
	}
	hasMore := len(window) > limit
	firstOffset := 0
	if hasMore {
		firstOffset = len(window) - limit
		window = window[firstOffset:]
	}

	var events []models.Event
	for _, m := range window {
		events = append(events, messageToEvents(m)...)
	}

	resp := struct {
		Events      []models.Event `json:"events"`
		TotalEvents int            `json:"total_events"`
		HasMore     bool           `json:"has_more"`
		FirstIdx    int            `json:"first_idx"`
		LastIdx     int            `json:"last_idx"`
	}{Events: events, TotalEvents: len(messages), HasMore: hasMore}
	if len(window) > 0 {
		resp.FirstIdx = window[0].Idx
		resp.LastIdx = window[len(window)-1].Idx
	}
	writeJSON(w, http.StatusOK, resp)
}

// messageToEvents reconstructs the wire events a persisted message implies:
// a user message replays as `user`, an assistant message as one `chat` plus
// one `tool_call` per pending tool call, and a tool message as a `tool_call`
// naming the call id and tool its result answers. This is a coarser reconstruction than the live
// stream (no start/end brackets, no reasoning/summary framing, which are
// not persisted on the message itself) but carries every field a client
// needs to rebuild the transcript.
func messageToEvents(m models.Message) []models.Event {
	switch m.Role {
	case models.RoleUser:
		return []models.Event{{
			Type:     models.EventUser,
			DialogID: m.DialogID,
			Content:  m.Content,
			User:     &models.UserEventPayload{Checkpoint: m.CheckpointID, Session: m.SessionName},
		}}
	case models.RoleAssistant:
		events := []models.Event{{Type: models.EventChat, DialogID: m.DialogID, Content: m.Content}}
		for _, tc := range m.ToolCalls {
			events = append(events, models.Event{
				Type:     models.EventToolCall,
				DialogID: m.DialogID,
				ToolCall: &models.ToolCallEventPayload{ToolCallID: tc.ID, Name: tc.Name, Args: tc.Input},
			})
		}
		return events
	case models.RoleTool:
		if m.ToolResult == nil {
			return nil
		}
		return []models.Event{{
			Type:     models.EventToolCall,
			DialogID: m.DialogID,
			ToolCall: &models.ToolCallEventPayload{ToolCallID: m.ToolResult.ToolCallID, Name: m.ToolResult.ToolName},
		}}
	default:
		return nil
	}
}

func (s *Server) handleListToolResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.ListToolResults(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ToolResults []dialogstore.ToolResultMeta `json:"tool_results"`
	}{ToolResults: results})
}

func (s *Server) handleGetToolResult(w http.ResponseWriter, r *http.Request) {
	body, err := s.store.GetToolResult(r.Context(), r.PathValue("id"), r.PathValue("call_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	tracker, err := s.chat.Tracker(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	checkpoints, err := tracker.ListCheckpoints()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dialog, err := s.store.GetDialog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Checkpoints       []versioning.CheckpointSummary `json:"checkpoints"`
		InitialCheckpoint string                          `json:"initial_checkpoint"`
	}{Checkpoints: checkpoints, InitialCheckpoint: dialog.InitialCheckpoint})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CheckpointID string `json:"checkpoint_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CheckpointID == "" {
		writeError(w, http.StatusBadRequest, agentserr.Newf(agentserr.KindValidation, "bad_request", "checkpoint_id is required"))
		return
	}
	tracker, err := s.chat.Tracker(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	result, err := tracker.RestoreCheckpoint(versioning.Hash(body.CheckpointID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		RestoredTo    string `json:"restored_to"`
		NewCheckpoint string `json:"new_checkpoint"`
	}{RestoredTo: string(result.RestoredTo), NewCheckpoint: string(result.NewCheckpoint)})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	dialogID := r.PathValue("id")
	tracker, err := s.chat.Tracker(dialogID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	result, err := tracker.ApproveAll(body.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.SetActiveSession(r.Context(), dialogID, result.NewSession); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.MarkApproved(r.Context(), dialogID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ApprovedCommit  string `json:"approved_commit"`
		NewSession      string `json:"new_session"`
		CommitsApproved int    `json:"commits_approved"`
	}{ApprovedCommit: string(result.ApprovedCommit), NewSession: result.NewSession, CommitsApproved: result.CommitsApproved})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	dialogID := r.PathValue("id")
	tracker, err := s.chat.Tracker(dialogID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	result, err := tracker.ResetToApproved()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.SetActiveSession(r.Context(), dialogID, result.NewSession); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ResetTo    string `json:"reset_to"`
		NewSession string `json:"new_session"`
	}{ResetTo: string(result.ResetTo), NewSession: result.NewSession})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	dialogID := r.PathValue("id")
	dialog, err := s.store.GetDialog(r.Context(), dialogID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	tracker, err := s.chat.Tracker(dialogID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	activeSession, err := tracker.ActiveSession()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	changed, err := tracker.GetStagedFiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	files := make([]models.ChangedFile, 0, len(changed))
	for _, c := range changed {
		f := models.ChangedFile{
			Path:       c.Path,
			Status:     models.ChangedFileStatus(c.Status),
			Additions:  c.Additions,
			Deletions:  c.Deletions,
			IsBinary:   c.IsBinary,
			IsTooLarge: c.IsTooLarge,
		}
		if c.Diff != "" {
			f.Diff = &c.Diff
		}
		if c.BaseContent != "" {
			f.BaseContent = &c.BaseContent
		}
		files = append(files, f)
	}

	writeJSON(w, http.StatusOK, struct {
		ActiveSession   string                `json:"active_session"`
		SessionRef      string                `json:"session_ref"`
		HasUnapproved   bool                  `json:"has_unapproved"`
		LastApprovedAt  *string               `json:"last_approved_at,omitempty"`
		ChangedFiles    []models.ChangedFile  `json:"changed_files"`
	}{
		ActiveSession:  activeSession,
		SessionRef:     activeSession,
		HasUnapproved:  len(changed) > 0,
		LastApprovedAt: formatTime(dialog.LastApprovedAt),
		ChangedFiles:   files,
	})
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}
