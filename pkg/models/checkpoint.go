package models

import "time"

// Checkpoint is one commit object in a dialog's content-addressed object
// store: a point-in-time snapshot of the visible project tree.
type Checkpoint struct {
	CommitID   string    `json:"commit_id"`
	ParentID   string    `json:"parent_id,omitempty"`
	TreeHash   string    `json:"tree_hash"`
	Message    string    `json:"message"`
	AuthorTime time.Time `json:"author_time"`
}

// ServerStatusValue is the daemon lifecycle state persisted to status.json.
type ServerStatusValue string

const (
	ServerStarting ServerStatusValue = "starting"
	ServerReady    ServerStatusValue = "ready"
	ServerStopping ServerStatusValue = "stopping"
	ServerStopped  ServerStatusValue = "stopped"
	ServerError    ServerStatusValue = "error"
	ServerCrashed  ServerStatusValue = "crashed"
)

// ScanStatusValue describes the RAG initial-scan progress surfaced on
// status.json / GET /health.
type ScanStatusValue string

const (
	ScanIdle       ScanStatusValue = "idle"
	ScanInProgress ScanStatusValue = "in_progress"
	ScanComplete   ScanStatusValue = "complete"
)

// ServerStatus is the full contents of <workdir>/.agentsmithy/status.json.
type ServerStatus struct {
	ServerStatus     ServerStatusValue `json:"server_status"`
	ServerPID        int               `json:"server_pid"`
	Port             int               `json:"port"`
	ServerStartedAt  *time.Time        `json:"server_started_at,omitempty"`
	ServerUpdatedAt  time.Time         `json:"server_updated_at"`
	ServerError      string            `json:"server_error,omitempty"`
	ScanStatus       ScanStatusValue   `json:"scan_status"`
	ConfigValid      bool              `json:"config_valid"`
	ConfigErrors     []string          `json:"config_errors,omitempty"`
}
