package versioning

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// RestoreResult reports what happened during a restore.
type RestoreResult struct {
	RestoredTo    Hash
	NewCheckpoint Hash
	SkippedPaths  []string
}

// RestoreCheckpoint materializes the given commit's tree onto the workdir,
// deleting paths that are no longer present, then records the restore
// itself as a new checkpoint on the active session so it is undoable
// (restore_checkpoint).
func (t *Tracker) RestoreCheckpoint(commitID Hash) (*RestoreResult, error) {
	t.mu.Lock()
	target, err := t.store.GetCommit(commitID)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	targetFlat, err := t.flattenTree(target.TreeHash)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}

	headTip, err := t.activeSessionTip()
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	var headFlat map[string]Hash
	if headTip != "" {
		headCommit, err := t.store.GetCommit(headTip)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		headFlat, err = t.flattenTree(headCommit.TreeHash)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	sf, err := loadStaging(t.dialogRoot)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}

	changed, skipped := t.materialize(headFlat, sf, targetFlat)

	if err := t.clearStaging(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	newCheckpoint, err := t.CreateCheckpoint(fmt.Sprintf("Restored to %s", commitID))
	if err != nil {
		return nil, err
	}

	t.reindexChanged(changed, targetFlat)

	return &RestoreResult{RestoredTo: commitID, NewCheckpoint: newCheckpoint, SkippedPaths: skipped}, nil
}

// reindexChanged emits a RAG re-index for every path materialize touched,
// restoring a path still present in targetFlat and dropping one that was
// deleted (restore_checkpoint step 7). A Tracker with no RAG attached is a
// no-op.
func (t *Tracker) reindexChanged(changed []string, targetFlat map[string]Hash) {
	if t.rag == nil {
		return
	}
	ctx := context.Background()
	for _, p := range changed {
		if _, stillPresent := targetFlat[p]; stillPresent {
			if err := t.rag.IndexPath(ctx, p); err != nil {
				slog.Warn("restore: failed to re-index path", "path", p, "error", err)
			}
		} else {
			if err := t.rag.RemovePath(ctx, p); err != nil {
				slog.Warn("restore: failed to remove path from index", "path", p, "error", err)
			}
		}
	}
}

// materialize deletes paths present in headFlat/staging but absent from
// targetFlat, writes every path in targetFlat, and prunes directories left
// empty by deletions. It is best-effort: unwritable paths are logged and
// added to the skipped list rather than aborting the whole operation
// (restore_checkpoint step 2, restore failures). It returns the union of
// every path it touched (deleted or written), for the RAG re-index that
// follows.
func (t *Tracker) materialize(headFlat map[string]Hash, staging *stagingFile, targetFlat map[string]Hash) (changed, skipped []string) {
	toDelete := map[string]struct{}{}
	for p := range headFlat {
		toDelete[p] = struct{}{}
	}
	for p := range staging.Entries {
		toDelete[p] = struct{}{}
	}
	for p := range targetFlat {
		delete(toDelete, p)
	}

	seen := map[string]struct{}{}
	for p := range toDelete {
		full := filepath.Join(t.workdir, p)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			slog.Warn("restore: failed to delete path", "path", p, "error", err)
			skipped = append(skipped, p)
			continue
		}
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			changed = append(changed, p)
		}
	}

	for p, hash := range targetFlat {
		full := filepath.Join(t.workdir, p)
		content, err := t.store.GetBlob(hash)
		if err != nil {
			slog.Warn("restore: failed to read blob", "path", p, "error", err)
			skipped = append(skipped, p)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			slog.Warn("restore: failed to create parent dir", "path", p, "error", err)
			skipped = append(skipped, p)
			continue
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			slog.Warn("restore: failed to write file", "path", p, "error", err)
			skipped = append(skipped, p)
			continue
		}
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			changed = append(changed, p)
		}
	}

	pruneEmptyDirs(t.workdir)
	return changed, skipped
}

// pruneEmptyDirs removes directories left empty by deletions, skipping the
// workdir root itself and AgentSmithy's own state directory.
func pruneEmptyDirs(workdir string) {
	var dirs []string
	_ = filepath.WalkDir(workdir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == workdir {
			return nil
		}
		rel, _ := filepath.Rel(workdir, path)
		if rel == ".agentsmithy" || strings.HasPrefix(rel, ".agentsmithy"+string(filepath.Separator)) {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	// Remove deepest-first so parents become empty in turn.
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
}
