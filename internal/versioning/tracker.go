package versioning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
)

// RAGIndexer is the narrow slice of the project's RAG index a Tracker needs
// to keep search results consistent with a restored workdir: re-embed a path
// that now has different content, or drop one a restore deleted. Satisfied
// by *rag.Index.
type RAGIndexer interface {
	IndexPath(ctx context.Context, path string) error
	RemovePath(ctx context.Context, path string) error
}

// Tracker is the per-dialog versioning engine: one Tracker instance owns the
// object store, refs, staging area, and session metadata rooted at
// <dialog_dir>/checkpoints for exactly one dialog. All mutating operations
// are serialized by mu: mutex-protected, serialized per dialog.
type Tracker struct {
	workdir    string // project root being snapshotted
	dialogRoot string // .../dialogs/<dialog_id>/checkpoints
	store      *Store
	ignore     *IgnoreMatcher
	rag        RAGIndexer

	mu sync.Mutex

	editMu    sync.Mutex
	editCache map[string]*editSnapshot
}

type editSnapshot struct {
	existed bool
	content []byte
}

// NewTracker opens (creating if necessary) the checkpoint store for one
// dialog. If no session exists yet, session_1 is created as the active
// session.
func NewTracker(workdir, dialogCheckpointsRoot string) (*Tracker, error) {
	store, err := NewStore(dialogCheckpointsRoot)
	if err != nil {
		return nil, err
	}
	ignore, err := LoadIgnoreMatcher(workdir)
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		workdir:    workdir,
		dialogRoot: dialogCheckpointsRoot,
		store:      store,
		ignore:     ignore,
		editCache:  map[string]*editSnapshot{},
	}

	mf, err := loadMetadata(dialogCheckpointsRoot)
	if err != nil {
		return nil, err
	}
	if mf.ActiveSession == "" {
		name := SessionRefName(1)
		mf.ActiveSession = name
		mf.Sessions[name] = SessionMeta{
			Name: name, RefName: name, Status: SessionActive, CreatedAt: time.Now(),
		}
		if err := mf.save(dialogCheckpointsRoot); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// SetRAG attaches the project's RAG index so RestoreCheckpoint can re-index
// paths a restore changes. A Tracker with no RAG attached skips that step,
// which is the case in tests that exercise checkpoints without a RAG index.
func (t *Tracker) SetRAG(rag RAGIndexer) {
	t.rag = rag
}

// ActiveSession returns the name of the currently active session.
func (t *Tracker) ActiveSession() (string, error) {
	mf, err := loadMetadata(t.dialogRoot)
	if err != nil {
		return "", err
	}
	return mf.ActiveSession, nil
}

func (t *Tracker) activeSessionTip() (Hash, error) {
	mf, err := loadMetadata(t.dialogRoot)
	if err != nil {
		return "", err
	}
	return t.store.ReadRef(mf.ActiveSession)
}

// CreateCheckpoint snapshots the current workdir+staging state as a new
// commit on the active session, advancing its ref. If nothing changed since
// the parent commit, no new commit is created and the parent hash is
// returned unchanged.
func (t *Tracker) CreateCheckpoint(message string) (Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	flat, err := t.buildFlatTree()
	if err != nil {
		return "", fmt.Errorf("build tree: %w", err)
	}
	treeHash, err := t.buildNestedTree(flat)
	if err != nil {
		return "", fmt.Errorf("persist tree: %w", err)
	}

	mf, err := loadMetadata(t.dialogRoot)
	if err != nil {
		return "", err
	}
	parent, err := t.store.ReadRef(mf.ActiveSession)
	if err != nil {
		return "", err
	}
	if parent == "" {
		parent, err = t.store.ReadRef(RefMain)
		if err != nil {
			return "", err
		}
	}

	if parent != "" {
		parentCommit, err := t.store.GetCommit(parent)
		if err != nil {
			return "", err
		}
		if parentCommit.TreeHash == treeHash {
			if err := t.clearStaging(); err != nil {
				return "", err
			}
			return parent, nil
		}
	}

	commit := &Commit{TreeHash: treeHash, ParentHash: parent, Message: message, AuthorTime: time.Now()}
	commitHash, err := t.store.PutCommit(commit)
	if err != nil {
		return "", err
	}
	if err := t.store.WriteRef(mf.ActiveSession, commitHash); err != nil {
		return "", err
	}

	sess := mf.Sessions[mf.ActiveSession]
	sess.CheckpointsCount++
	mf.Sessions[mf.ActiveSession] = sess
	if err := mf.save(t.dialogRoot); err != nil {
		return "", err
	}
	if err := t.clearStaging(); err != nil {
		return "", err
	}
	return commitHash, nil
}

func (t *Tracker) clearStaging() error {
	sf, err := loadStaging(t.dialogRoot)
	if err != nil {
		return err
	}
	sf.clear()
	return sf.save(t.dialogRoot)
}

// StageFile force-includes path's current on-disk content in the next
// checkpoint even if it matches an ignore rule.
func (t *Tracker) StageFile(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	content, err := os.ReadFile(filepath.Join(t.workdir, path))
	if err != nil {
		return agentserr.New(agentserr.KindNotFound, "stage_file_missing", err)
	}
	hash, err := t.store.PutBlob(content)
	if err != nil {
		return err
	}
	sf, err := loadStaging(t.dialogRoot)
	if err != nil {
		return err
	}
	sf.stageAdd(path, hash)
	return sf.save(t.dialogRoot)
}

// StageFileDeletion records path as force-removed from the next checkpoint,
// used by tools that delete an ignored or previously-staged file.
func (t *Tracker) StageFileDeletion(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sf, err := loadStaging(t.dialogRoot)
	if err != nil {
		return err
	}
	sf.stageRemove(path)
	return sf.save(t.dialogRoot)
}

// CheckpointSummary is the {commit_id, message} pair exposed over
// GET /api/dialogs/{id}/checkpoints.
type CheckpointSummary struct {
	CommitID string `json:"commit_id"`
	Message  string `json:"message"`
}

// ListCheckpoints returns the history reachable from the active session's
// tip, oldest first.
func (t *Tracker) ListCheckpoints() ([]CheckpointSummary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tip, err := t.activeSessionTip()
	if err != nil {
		return nil, err
	}
	var chain []CheckpointSummary
	for tip != "" {
		commit, err := t.store.GetCommit(tip)
		if err != nil {
			return nil, err
		}
		chain = append(chain, CheckpointSummary{CommitID: string(tip), Message: commit.Message})
		tip = commit.ParentHash
	}
	// reverse into oldest-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
