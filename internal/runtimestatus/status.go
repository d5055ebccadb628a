// Package runtimestatus owns one project's status.json: the server lifecycle
// state machine, PID-liveness singleton enforcement, and scan/config-validity
// fields surfaced on GET /health. Writes are atomic (tempfile, fsync, rename)
// and serialized by an in-process mutex.
package runtimestatus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// ErrAlreadyRunning is returned by Acquire when another live process already
// owns the project's status.json.
var ErrAlreadyRunning = agentserr.Newf(agentserr.KindConflict, "server_already_running", "server already running in this workdir")

// Handle owns one project's status.json for the lifetime of one server
// process: every transition method writes the file atomically under mu.
type Handle struct {
	path string
	mu   sync.Mutex
	pid  int
}

// Acquire reads path (creating its parent directory if missing), checks for
// a live competing process, and returns a Handle transitioned to "starting"
// under the current PID. If a previous run's status is "starting", "ready",
// or "stopping" and its PID is still alive, it returns ErrAlreadyRunning
// without modifying the file. If the previous run's PID is dead, the status
// is rewritten to "crashed" (preserving its server_error) before this run's
// "starting" status is written over it.
func Acquire(path string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "create_status_dir", err)
	}

	prev, err := read(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, agentserr.New(agentserr.KindInternal, "read_status", err)
	}
	if prev != nil && isRunningState(prev.ServerStatus) && isProcessAlive(prev.ServerPID) {
		return nil, ErrAlreadyRunning
	}
	if prev != nil && isRunningState(prev.ServerStatus) && !isProcessAlive(prev.ServerPID) {
		prev.ServerStatus = models.ServerCrashed
		prev.ServerUpdatedAt = time.Now().UTC()
		if err := write(path, prev); err != nil {
			return nil, err
		}
	}

	h := &Handle{path: path, pid: os.Getpid()}
	now := time.Now().UTC()
	if err := h.writeLocked(&models.ServerStatus{
		ServerStatus:    models.ServerStarting,
		ServerPID:       h.pid,
		ServerStartedAt: &now,
		ServerUpdatedAt: now,
		ScanStatus:      models.ScanIdle,
	}); err != nil {
		return nil, err
	}
	return h, nil
}

func isRunningState(s models.ServerStatusValue) bool {
	switch s {
	case models.ServerStarting, models.ServerReady, models.ServerStopping:
		return true
	default:
		return false
	}
}

// isProcessAlive reports whether pid names a live process we can signal.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// SetPort records the bound port once the transport starts listening; called
// before Ready so GET /health can report a port even mid-startup.
func (h *Handle) SetPort(port int) error {
	return h.update(func(s *models.ServerStatus) { s.Port = port })
}

// SetConfigValidity records the outcome of loading and validating config. A
// missing API key does not belong in errs; callers only pass errors that
// should block the daemon from treating configuration as usable.
func (h *Handle) SetConfigValidity(valid bool, errs []string) error {
	return h.update(func(s *models.ServerStatus) {
		s.ConfigValid = valid
		s.ConfigErrors = errs
	})
}

// SetScanStatus records RAG initial-scan progress.
func (h *Handle) SetScanStatus(status models.ScanStatusValue) error {
	return h.update(func(s *models.ServerStatus) { s.ScanStatus = status })
}

// Ready transitions to "ready" once the HTTP transport is listening.
func (h *Handle) Ready() error {
	return h.update(func(s *models.ServerStatus) { s.ServerStatus = models.ServerReady })
}

// Stopping transitions to "stopping", called before the graceful-shutdown
// sequence begins.
func (h *Handle) Stopping() error {
	return h.update(func(s *models.ServerStatus) { s.ServerStatus = models.ServerStopping })
}

// Stopped transitions to "stopped" after cleanup completes.
func (h *Handle) Stopped() error {
	return h.update(func(s *models.ServerStatus) { s.ServerStatus = models.ServerStopped })
}

// Failed transitions to "error" with a message, used when startup fails
// before the transport ever listens.
func (h *Handle) Failed(message string) error {
	return h.update(func(s *models.ServerStatus) {
		s.ServerStatus = models.ServerError
		s.ServerError = message
	})
}

// Snapshot returns the current status document, used to serve GET /health.
func (h *Handle) Snapshot() (*models.ServerStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return read(h.path)
}

func (h *Handle) update(mutate func(*models.ServerStatus)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, err := read(h.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return agentserr.New(agentserr.KindInternal, "read_status", err)
		}
		current = &models.ServerStatus{ServerPID: h.pid}
	}
	mutate(current)
	current.ServerUpdatedAt = time.Now().UTC()
	return h.writeLocked(current)
}

// writeLocked assumes h.mu is already held.
func (h *Handle) writeLocked(status *models.ServerStatus) error {
	return write(h.path, status)
}

func read(path string) (*models.ServerStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s models.ServerStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "parse_status", err)
	}
	return &s, nil
}

// write performs an atomic tempfile-write, fsync, rename so a reader never
// observes a partially written status document.
func write(path string, status *models.ServerStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "marshal_status", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), fmt.Sprintf(".%s.tmp-*", filepath.Base(path)))
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "create_status_tempfile", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return agentserr.New(agentserr.KindInternal, "write_status_tempfile", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return agentserr.New(agentserr.KindInternal, "sync_status_tempfile", err)
	}
	if err := tmp.Close(); err != nil {
		return agentserr.New(agentserr.KindInternal, "close_status_tempfile", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return agentserr.New(agentserr.KindInternal, "rename_status", err)
	}
	return nil
}
