// Package project resolves the on-disk layout rooted at one project's
// <workdir>/.agentsmithy/ directory: status file, dialog index, the shared
// messages database, and per-dialog checkpoint/tool-result directories.
package project

import (
	"os"
	"path/filepath"
)

// Project is a handle on one workdir's persisted-state tree.
type Project struct {
	Workdir string
	IDE     string
}

// New returns a Project rooted at workdir. workdir must already be an
// absolute path; New does not resolve or validate it.
func New(workdir, ide string) *Project {
	return &Project{Workdir: workdir, IDE: ide}
}

// Root is <workdir>/.agentsmithy.
func (p *Project) Root() string {
	return filepath.Join(p.Workdir, ".agentsmithy")
}

// StatusPath is <workdir>/.agentsmithy/status.json.
func (p *Project) StatusPath() string {
	return filepath.Join(p.Root(), "status.json")
}

// DialogsDir is <workdir>/.agentsmithy/dialogs.
func (p *Project) DialogsDir() string {
	return filepath.Join(p.Root(), "dialogs")
}

// DialogIndexPath is <workdir>/.agentsmithy/dialogs/index.json.
func (p *Project) DialogIndexPath() string {
	return filepath.Join(p.DialogsDir(), "index.json")
}

// MessagesDBPath is <workdir>/.agentsmithy/dialogs/messages.sqlite.
func (p *Project) MessagesDBPath() string {
	return filepath.Join(p.DialogsDir(), "messages.sqlite")
}

// DialogDir is <workdir>/.agentsmithy/dialogs/<dialogID>.
func (p *Project) DialogDir(dialogID string) string {
	return filepath.Join(p.DialogsDir(), dialogID)
}

// CheckpointsRoot is <workdir>/.agentsmithy/dialogs/<dialogID>/checkpoints,
// the dialogCheckpointsRoot argument versioning.NewTracker expects.
func (p *Project) CheckpointsRoot(dialogID string) string {
	return filepath.Join(p.DialogDir(dialogID), "checkpoints")
}

// RAGDir is <workdir>/.agentsmithy/rag/chroma_db, kept under that name
// regardless of which vector-store engine backs it.
func (p *Project) RAGDir() string {
	return filepath.Join(p.Root(), "rag", "chroma_db")
}

// EnsureLayout creates the directories a fresh project needs before any
// store is opened: the root, the dialogs directory, and the RAG directory.
// Per-dialog directories are created lazily by whatever first writes into
// them (the checkpoint tracker, the tool-result store).
func (p *Project) EnsureLayout() error {
	for _, dir := range []string{p.Root(), p.DialogsDir(), p.RAGDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDialogLayout creates one dialog's checkpoints directory ahead of
// opening its checkpoint tracker; tool results live in messages.sqlite
// rather than on disk, so there is nothing else to create per dialog.
func (p *Project) EnsureDialogLayout(dialogID string) error {
	return os.MkdirAll(p.CheckpointsRoot(dialogID), 0o755)
}
