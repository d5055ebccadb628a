package versioning

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	workdir := t.TempDir()
	checkpoints := filepath.Join(t.TempDir(), "checkpoints")
	tr, err := NewTracker(workdir, checkpoints)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

func writeFile(t *testing.T, tr *Tracker, rel, content string) {
	t.Helper()
	full := filepath.Join(tr.workdir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestCreateCheckpointIsIdempotentWhenNothingChanged(t *testing.T) {
	tr := newTestTracker(t)
	writeFile(t, tr, "main.go", "package main\n")

	first, err := tr.CreateCheckpoint("initial")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	second, err := tr.CreateCheckpoint("no changes")
	if err != nil {
		t.Fatalf("CreateCheckpoint (no-op): %v", err)
	}
	if first != second {
		t.Fatalf("expected idempotent checkpoint, got %s then %s", first, second)
	}
}

func TestRestoreCheckpointRoundTrips(t *testing.T) {
	tr := newTestTracker(t)
	writeFile(t, tr, "a.txt", "v1")
	first, err := tr.CreateCheckpoint("v1")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	writeFile(t, tr, "a.txt", "v2")
	if _, err := tr.CreateCheckpoint("v2"); err != nil {
		t.Fatalf("CreateCheckpoint v2: %v", err)
	}

	if _, err := tr.RestoreCheckpoint(first); err != nil {
		t.Fatalf("RestoreCheckpoint: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(tr.workdir, "a.txt"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected restored content v1, got %q", got)
	}
}

type fakeRAGIndexer struct {
	indexed []string
	removed []string
}

func (f *fakeRAGIndexer) IndexPath(_ context.Context, path string) error {
	f.indexed = append(f.indexed, path)
	return nil
}
func (f *fakeRAGIndexer) RemovePath(_ context.Context, path string) error {
	f.removed = append(f.removed, path)
	return nil
}

func TestRestoreCheckpointReindexesChangedPaths(t *testing.T) {
	tr := newTestTracker(t)
	rag := &fakeRAGIndexer{}
	tr.SetRAG(rag)

	writeFile(t, tr, "a.txt", "v1")
	first, err := tr.CreateCheckpoint("v1")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	writeFile(t, tr, "a.txt", "v2")
	writeFile(t, tr, "b.txt", "new file")
	if _, err := tr.CreateCheckpoint("v2"); err != nil {
		t.Fatalf("CreateCheckpoint v2: %v", err)
	}

	if _, err := tr.RestoreCheckpoint(first); err != nil {
		t.Fatalf("RestoreCheckpoint: %v", err)
	}

	foundA := false
	for _, p := range rag.indexed {
		if p == "a.txt" {
			foundA = true
		}
	}
	if !foundA {
		t.Fatalf("expected a.txt re-indexed, got %v", rag.indexed)
	}
	if len(rag.removed) != 1 || rag.removed[0] != "b.txt" {
		t.Fatalf("expected b.txt removed from index, got %v", rag.removed)
	}
}

func TestApproveAllFastForwardsMain(t *testing.T) {
	tr := newTestTracker(t)
	writeFile(t, tr, "a.txt", "hello")
	tip, err := tr.CreateCheckpoint("add a.txt")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	result, err := tr.ApproveAll("approve")
	if err != nil {
		t.Fatalf("ApproveAll: %v", err)
	}
	if result.ApprovedCommit != tip {
		t.Fatalf("expected main to fast-forward to %s, got %s", tip, result.ApprovedCommit)
	}
	if result.NewSession != "session_2" {
		t.Fatalf("expected new session session_2, got %s", result.NewSession)
	}

	active, err := tr.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if active != "session_2" {
		t.Fatalf("expected active session session_2, got %s", active)
	}
}

func TestResetToApprovedDiscardsUnapprovedWork(t *testing.T) {
	tr := newTestTracker(t)
	writeFile(t, tr, "a.txt", "approved")
	if _, err := tr.CreateCheckpoint("base"); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	if _, err := tr.ApproveAll("approve base"); err != nil {
		t.Fatalf("ApproveAll: %v", err)
	}

	writeFile(t, tr, "a.txt", "unapproved edit")
	writeFile(t, tr, "b.txt", "new unapproved file")
	if _, err := tr.CreateCheckpoint("wip"); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	if _, err := tr.ResetToApproved(); err != nil {
		t.Fatalf("ResetToApproved: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(tr.workdir, "a.txt"))
	if err != nil {
		t.Fatalf("read a.txt: %v", err)
	}
	if string(got) != "approved" {
		t.Fatalf("expected a.txt reverted to 'approved', got %q", got)
	}
	if _, err := os.Stat(filepath.Join(tr.workdir, "b.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected b.txt to be removed by reset, stat err=%v", err)
	}
}

func TestGetStagedFilesReportsDiffAgainstMain(t *testing.T) {
	tr := newTestTracker(t)
	writeFile(t, tr, "a.txt", "line1\nline2\n")
	if _, err := tr.CreateCheckpoint("base"); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	if _, err := tr.ApproveAll("approve base"); err != nil {
		t.Fatalf("ApproveAll: %v", err)
	}

	writeFile(t, tr, "a.txt", "line1\nline2 changed\n")
	changed, err := tr.GetStagedFiles()
	if err != nil {
		t.Fatalf("GetStagedFiles: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("expected 1 changed file, got %d", len(changed))
	}
	if changed[0].Status != ChangeModified {
		t.Fatalf("expected modified status, got %s", changed[0].Status)
	}
	if changed[0].Additions == 0 && changed[0].Deletions == 0 {
		t.Fatalf("expected nonzero diff stats")
	}
}

func TestStartEditAbortEditRestoresOriginalBytes(t *testing.T) {
	tr := newTestTracker(t)
	writeFile(t, tr, "a.txt", "original")

	if err := tr.StartEdit([]string{"a.txt", "new.txt"}); err != nil {
		t.Fatalf("StartEdit: %v", err)
	}
	writeFile(t, tr, "a.txt", "mutated")
	writeFile(t, tr, "new.txt", "should be removed on abort")

	if err := tr.AbortEdit(); err != nil {
		t.Fatalf("AbortEdit: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(tr.workdir, "a.txt"))
	if err != nil {
		t.Fatalf("read a.txt: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("expected a.txt restored to 'original', got %q", got)
	}
	if _, err := os.Stat(filepath.Join(tr.workdir, "new.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected new.txt removed by abort, stat err=%v", err)
	}
}

func TestFinalizeEditKeepsChanges(t *testing.T) {
	tr := newTestTracker(t)
	writeFile(t, tr, "a.txt", "original")

	if err := tr.StartEdit([]string{"a.txt"}); err != nil {
		t.Fatalf("StartEdit: %v", err)
	}
	writeFile(t, tr, "a.txt", "mutated")
	before := tr.FinalizeEdit()

	if string(before["a.txt"]) != "original" {
		t.Fatalf("expected FinalizeEdit to return pre-edit content, got %q", before["a.txt"])
	}

	got, err := os.ReadFile(filepath.Join(tr.workdir, "a.txt"))
	if err != nil {
		t.Fatalf("read a.txt: %v", err)
	}
	if string(got) != "mutated" {
		t.Fatalf("expected a.txt to keep mutated content, got %q", got)
	}
}
