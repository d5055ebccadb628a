package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/config"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(s.project.Workdir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, agentserr.New(agentserr.KindInternal, "load_config", err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutConfig replaces the global config layer wholesale: the body is
// decoded directly onto the current resolved config (so omitted fields keep
// their existing values) and the result is validated and persisted. The
// per-project overlay and environment variables are untouched; they still
// apply on top the next time config is loaded.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(s.project.Workdir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, agentserr.New(agentserr.KindInternal, "load_config", err))
		return
	}
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, agentserr.Newf(agentserr.KindValidation, "bad_request", "invalid JSON body: %v", err))
		return
	}
	if err := config.SaveGlobal(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, agentserr.New(agentserr.KindInternal, "save_config", err))
		return
	}

	reloaded, err := config.Load(s.project.Workdir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, agentserr.New(agentserr.KindInternal, "reload_config", err))
		return
	}
	writeJSON(w, http.StatusOK, reloaded)
}

// handleRenameConfigModel switches the active model for the current default
// provider, the one renamable entity config.Config exposes. It is a
// dedicated endpoint rather than a PUT field change because a model rename
// takes effect for the session's next turn without requiring a client to
// round-trip the full config document just to change one field.
func (s *Server) handleRenameConfigModel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Model == "" {
		writeError(w, http.StatusBadRequest, agentserr.Newf(agentserr.KindValidation, "bad_request", "model is required"))
		return
	}

	cfg, err := config.Load(s.project.Workdir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, agentserr.New(agentserr.KindInternal, "load_config", err))
		return
	}
	cfg.LLM.Model = body.Model
	if err := config.SaveGlobal(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, agentserr.New(agentserr.KindInternal, "save_config", err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
