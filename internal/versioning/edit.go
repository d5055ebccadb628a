package versioning

import (
	"os"
	"path/filepath"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
)

// StartEdit snapshots the current on-disk bytes of the given paths (or
// records their absence) before a tool mutates them, so AbortEdit can put
// the workdir back exactly as it found it regardless of how many of the
// paths the tool actually touched (start_edit).
func (t *Tracker) StartEdit(paths []string) error {
	t.editMu.Lock()
	defer t.editMu.Unlock()

	for _, p := range paths {
		full := filepath.Join(t.workdir, p)
		content, err := os.ReadFile(full)
		if err != nil {
			if os.IsNotExist(err) {
				t.editCache[p] = &editSnapshot{existed: false}
				continue
			}
			return agentserr.New(agentserr.KindInternal, "start_edit_read", err)
		}
		t.editCache[p] = &editSnapshot{existed: true, content: content}
	}
	return nil
}

// FinalizeEdit commits to the tool's changes (finalize_edit), returning the
// pre-edit bytes StartEdit captured for each path so the caller can diff them
// against the post-edit content. A path that did not exist before the edit is
// returned with a nil slice, matching an "added" diff base.
func (t *Tracker) FinalizeEdit() map[string][]byte {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	before := make(map[string][]byte, len(t.editCache))
	for p, snap := range t.editCache {
		if snap.existed {
			before[p] = snap.content
		} else {
			before[p] = nil
		}
	}
	t.editCache = map[string]*editSnapshot{}
	return before
}

// AbortEdit restores every path captured by the most recent StartEdit to its
// pre-edit bytes (or removes it, if it did not exist before), used when a
// tool call fails partway through (abort_edit).
func (t *Tracker) AbortEdit() error {
	t.editMu.Lock()
	defer t.editMu.Unlock()

	for p, snap := range t.editCache {
		full := filepath.Join(t.workdir, p)
		if !snap.existed {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return agentserr.New(agentserr.KindInternal, "abort_edit_remove", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return agentserr.New(agentserr.KindInternal, "abort_edit_mkdir", err)
		}
		if err := os.WriteFile(full, snap.content, 0o644); err != nil {
			return agentserr.New(agentserr.KindInternal, "abort_edit_write", err)
		}
	}
	t.editCache = map[string]*editSnapshot{}
	return nil
}
