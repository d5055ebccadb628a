// Package httpapi implements AgentSmithy's HTTP+SSE surface: chat, health,
// dialog CRUD, history/tool-results/checkpoints/approve/reset/session, and
// config endpoints, all served from one project's handle.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/chatservice"
	"github.com/agentsmithy/agentsmithy/internal/dialogstore"
	"github.com/agentsmithy/agentsmithy/internal/observability"
	"github.com/agentsmithy/agentsmithy/internal/project"
	"github.com/agentsmithy/agentsmithy/internal/runtimestatus"
)

// Server wires the HTTP surface over one project's dependencies.
type Server struct {
	mux *http.ServeMux

	project *project.Project
	chat    *chatservice.Service
	store   *dialogstore.Store
	status  *runtimestatus.Handle
	metrics *observability.Metrics

	logger *slog.Logger

	shuttingDown atomic.Bool
}

// Config bundles everything NewServer needs.
type Config struct {
	Project *project.Project
	Chat    *chatservice.Service
	Store   *dialogstore.Store
	Status  *runtimestatus.Handle
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		mux:     http.NewServeMux(),
		project: cfg.Project,
		chat:    cfg.Chat,
		store:   cfg.Store,
		status:  cfg.Status,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/dialogs", s.handleListDialogs)
	s.mux.HandleFunc("POST /api/dialogs", s.handleCreateDialog)
	s.mux.HandleFunc("GET /api/dialogs/current", s.handleGetCurrentDialog)
	s.mux.HandleFunc("PATCH /api/dialogs/current", s.handleSetCurrentDialog)
	s.mux.HandleFunc("GET /api/dialogs/{id}", s.handleGetDialog)
	s.mux.HandleFunc("PATCH /api/dialogs/{id}", s.handlePatchDialog)
	s.mux.HandleFunc("DELETE /api/dialogs/{id}", s.handleDeleteDialog)

	s.mux.HandleFunc("GET /api/dialogs/{id}/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/dialogs/{id}/tool-results", s.handleListToolResults)
	s.mux.HandleFunc("GET /api/dialogs/{id}/tool-results/{call_id}", s.handleGetToolResult)
	s.mux.HandleFunc("GET /api/dialogs/{id}/checkpoints", s.handleListCheckpoints)
	s.mux.HandleFunc("POST /api/dialogs/{id}/restore", s.handleRestore)
	s.mux.HandleFunc("POST /api/dialogs/{id}/approve", s.handleApprove)
	s.mux.HandleFunc("POST /api/dialogs/{id}/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/dialogs/{id}/session", s.handleSession)

	s.mux.HandleFunc("GET /api/config", s.handleGetConfig)
	s.mux.HandleFunc("PUT /api/config", s.handlePutConfig)
	s.mux.HandleFunc("POST /api/config/rename", s.handleRenameConfigModel)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// ServeHTTP makes Server an http.Handler. When metrics are configured, every
// request's duration and status code are recorded under the matched route
// pattern rather than the raw path, to keep label cardinality bounded.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.mux.ServeHTTP(w, r)
		return
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	_, route := s.mux.Handler(r)
	s.metrics.ObserveHTTPRequest(r.Method, route, rec.status, time.Since(start))
}

// statusRecorder captures the status code a handler wrote, since
// http.ResponseWriter has no getter for it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Shutdown marks the server as shutting down: new /api/chat requests are
// rejected immediately, and GET /health starts reporting "stopping".
func (s *Server) Shutdown(ctx context.Context, httpServer *http.Server) error {
	s.shuttingDown.Store(true)
	s.chat.Shutdown()
	if s.status != nil {
		_ = s.status.Stopping()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	if s.status != nil {
		_ = s.status.Stopped()
	}
	return err
}
