// Package chatservice implements request ingress for one project: dialog
// selection and creation, the per-dialog turn lock, and graceful shutdown,
// wrapping internal/agentloop's per-turn behavior with everything that
// exists only once per project rather than once per turn.
package chatservice

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/agentsmithy/agentsmithy/internal/agentloop"
	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/dialogstore"
	"github.com/agentsmithy/agentsmithy/internal/llm"
	"github.com/agentsmithy/agentsmithy/internal/project"
	"github.com/agentsmithy/agentsmithy/internal/rag"
	"github.com/agentsmithy/agentsmithy/internal/sse"
	"github.com/agentsmithy/agentsmithy/internal/toolexec"
	"github.com/agentsmithy/agentsmithy/internal/versioning"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// Config wires the project-scoped dependencies every dialog's Loop shares:
// everything except the checkpoint Tracker, which is scoped to a single
// dialog's own checkpoints/ directory and so is built per dialog instead.
type Config struct {
	Project  *project.Project
	Store    *dialogstore.Store
	Executor *toolexec.Executor
	RAG      *rag.Index

	Provider    llm.Provider
	Model       string
	MaxTokens   int
	Tools       []llm.ToolSpec
	Thinking    bool
	ThinkingMax int

	SystemPromptBase string
	PackOptions      agentloop.PackOptions
	Summarize        agentloop.SummarizeConfig
	MaxIterations    int

	Logger   *slog.Logger
	Observer agentloop.LLMObserver
	Tracer   agentloop.Tracer
}

// Service runs chat turns for every dialog in one project, enforcing that at
// most one turn is in flight per dialog at a time and resolving which
// dialog an incoming request targets.
type Service struct {
	cfg     Config
	locker  *dialogstore.TurnLocker
	current *currentDialogPointer
	logger  *slog.Logger

	mu       sync.Mutex
	trackers map[string]*versioning.Tracker
	loops    map[string]*agentloop.Loop

	shuttingDown atomic.Bool
}

// New builds a Service for one project.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		locker:   dialogstore.NewTurnLocker(),
		current:  newCurrentDialogPointer(cfg.Project.DialogIndexPath()),
		logger:   cfg.Logger,
		trackers: make(map[string]*versioning.Tracker),
		loops:    make(map[string]*agentloop.Loop),
	}
}

// Shutdown marks the service as shutting down: subsequent Chat calls are
// rejected with a shutdown error instead of starting a new turn. It does
// not itself cancel turns already in flight; the caller does that by
// cancelling the context each Chat call was given.
func (s *Service) Shutdown() {
	s.shuttingDown.Store(true)
}

// Chat resolves the dialog a request targets (creating one if none is
// specified and no dialog is current), acquires its turn lock, and runs one
// full turn, forwarding every event to sink. It returns the dialog the turn
// ran against and the turn's terminal error, if any.
func (s *Service) Chat(ctx context.Context, req models.ChatRequest, sink sse.Sink) (string, error) {
	if s.shuttingDown.Load() {
		emitter := sse.New(req.DialogID, sink)
		emitter.Error(ctx, "shutdown", agentserr.ErrShuttingDown.Error())
		emitter.Done(ctx)
		return req.DialogID, agentserr.ErrShuttingDown
	}

	content := latestUserContent(req.Messages)
	if content == "" {
		return "", agentserr.Newf(agentserr.KindValidation, "empty_message", "request has no user message")
	}

	dialog, err := s.resolveDialog(ctx, req.DialogID)
	if err != nil {
		return "", err
	}
	if err := s.current.set(dialog.ID); err != nil {
		s.logger.Warn("failed to persist current dialog pointer", "dialog_id", dialog.ID, "error", err)
	}

	release, err := s.locker.TryLock(dialog.ID)
	if err != nil {
		emitter := sse.New(dialog.ID, sink)
		emitter.Error(ctx, "dialog_locked", err.Error())
		emitter.Done(ctx)
		return dialog.ID, err
	}
	defer release()

	loop, err := s.loopFor(dialog.ID)
	if err != nil {
		emitter := sse.New(dialog.ID, sink)
		emitter.Error(ctx, "internal", err.Error())
		emitter.Done(ctx)
		return dialog.ID, err
	}

	return dialog.ID, loop.Run(ctx, dialog.ID, content, req.Context, sink)
}

// CreateDialog creates a fresh dialog without running a turn against it,
// used by POST /api/dialogs. It does not change the current-dialog pointer:
// a dialog only becomes current once a chat turn actually targets it, or a
// caller explicitly sets it via SetCurrentDialog.
func (s *Service) CreateDialog(ctx context.Context) (*models.Dialog, error) {
	return s.createDialog(ctx)
}

// CurrentDialog returns the dialog the current-dialog pointer resolves to,
// or nil if none is set yet.
func (s *Service) CurrentDialog(ctx context.Context) (*models.Dialog, error) {
	currentID, err := s.current.get()
	if err != nil {
		return nil, err
	}
	if currentID == "" {
		return nil, nil
	}
	dialog, err := s.cfg.Store.GetDialog(ctx, currentID)
	if agentserr.Is(err, agentserr.KindNotFound) {
		return nil, nil
	}
	return dialog, err
}

// SetCurrentDialog validates id exists, then makes it the current dialog.
func (s *Service) SetCurrentDialog(ctx context.Context, id string) (*models.Dialog, error) {
	dialog, err := s.cfg.Store.GetDialog(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.current.set(dialog.ID); err != nil {
		return nil, err
	}
	return dialog, nil
}

// resolveDialog implements dialog selection: an explicit dialog_id wins,
// otherwise the current-dialog pointer is used, and if that is empty or
// stale a fresh dialog is created and becomes current.
func (s *Service) resolveDialog(ctx context.Context, requested string) (*models.Dialog, error) {
	if requested != "" {
		return s.cfg.Store.GetDialog(ctx, requested)
	}

	currentID, err := s.current.get()
	if err != nil {
		return nil, err
	}
	if currentID != "" {
		dialog, err := s.cfg.Store.GetDialog(ctx, currentID)
		if err == nil {
			return dialog, nil
		}
		if !agentserr.Is(err, agentserr.KindNotFound) {
			return nil, err
		}
	}

	return s.createDialog(ctx)
}

// createDialog opens a fresh checkpoint tracker for a new dialog id,
// snapshots the current workdir as its initial checkpoint, and records the
// dialog. The tracker is cached for subsequent turns via loopFor.
func (s *Service) createDialog(ctx context.Context) (*models.Dialog, error) {
	dialogID := uuid.NewString()
	if err := s.cfg.Project.EnsureDialogLayout(dialogID); err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "create_dialog_layout", err)
	}
	tracker, err := versioning.NewTracker(s.cfg.Project.Workdir, s.cfg.Project.CheckpointsRoot(dialogID))
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "create_dialog_tracker", err)
	}
	if s.cfg.RAG != nil {
		tracker.SetRAG(s.cfg.RAG)
	}
	initial, err := tracker.CreateCheckpoint("Initial dialog state")
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "create_initial_checkpoint", err)
	}

	dialog, err := s.cfg.Store.CreateDialogWithID(ctx, dialogID, string(initial))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.trackers[dialogID] = tracker
	s.mu.Unlock()
	return dialog, nil
}

// DeleteDialog removes a dialog entirely: it refuses while a turn is in
// flight, then drops the store rows, the cached tracker and loop, the
// current-dialog pointer if it names this dialog, and finally the dialog's
// on-disk checkpoints/ directory.
func (s *Service) DeleteDialog(ctx context.Context, dialogID string) error {
	release, err := s.locker.TryLock(dialogID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.cfg.Store.DeleteDialog(ctx, dialogID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.trackers, dialogID)
	delete(s.loops, dialogID)
	s.mu.Unlock()

	if err := s.current.clearIfCurrent(dialogID); err != nil {
		s.logger.Warn("failed to clear current dialog pointer after delete", "dialog_id", dialogID, "error", err)
	}

	if err := os.RemoveAll(s.cfg.Project.DialogDir(dialogID)); err != nil {
		s.logger.Warn("failed to remove dialog directory", "dialog_id", dialogID, "error", err)
	}
	return nil
}

// Tracker returns the cached checkpoint tracker for dialogID, opening one
// over its checkpoints/ directory on first use. httpapi's checkpoint,
// restore, approve, reset, and session-changed-files endpoints all read
// from the same Tracker a dialog's turns run against, rather than a second
// one layered on top of the same on-disk store.
func (s *Service) Tracker(dialogID string) (*versioning.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackerLocked(dialogID)
}

// trackerLocked assumes s.mu is already held.
func (s *Service) trackerLocked(dialogID string) (*versioning.Tracker, error) {
	if tracker, ok := s.trackers[dialogID]; ok {
		return tracker, nil
	}
	if err := s.cfg.Project.EnsureDialogLayout(dialogID); err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "dialog_layout", err)
	}
	tracker, err := versioning.NewTracker(s.cfg.Project.Workdir, s.cfg.Project.CheckpointsRoot(dialogID))
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "open_tracker", err)
	}
	if s.cfg.RAG != nil {
		tracker.SetRAG(s.cfg.RAG)
	}
	s.trackers[dialogID] = tracker
	return tracker, nil
}

// loopFor returns the cached Loop for dialogID, building one (and the
// Tracker it needs) on first use.
func (s *Service) loopFor(dialogID string) (*agentloop.Loop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loop, ok := s.loops[dialogID]; ok {
		return loop, nil
	}

	tracker, err := s.trackerLocked(dialogID)
	if err != nil {
		return nil, err
	}

	loop := agentloop.New(agentloop.Config{
		Provider:         s.cfg.Provider,
		Model:            s.cfg.Model,
		MaxTokens:        s.cfg.MaxTokens,
		Tools:            s.cfg.Tools,
		Thinking:         s.cfg.Thinking,
		ThinkingMax:      s.cfg.ThinkingMax,
		Executor:         s.cfg.Executor,
		Store:            s.cfg.Store,
		Versioning:       tracker,
		RAG:              s.cfg.RAG,
		ProjectRoot:      s.cfg.Project.Workdir,
		SystemPromptBase: s.cfg.SystemPromptBase,
		PackOptions:      s.cfg.PackOptions,
		Summarize:        s.cfg.Summarize,
		MaxIterations:    s.cfg.MaxIterations,
		Logger:           s.logger,
		Observer:         s.cfg.Observer,
		Tracer:           s.cfg.Tracer,
	})
	s.loops[dialogID] = loop
	return loop, nil
}

// latestUserContent returns the content of the last user-role message in
// messages, matching the client convention of resending the full visible
// transcript on every request.
func latestUserContent(messages []models.ChatRequestMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
