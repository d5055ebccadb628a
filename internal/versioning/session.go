package versioning

import "time"

// ApproveResult is the response shape for POST /api/dialogs/{id}/approve.
type ApproveResult struct {
	ApprovedCommit Hash
	NewSession     string
	CommitsApproved int
}

// ApproveAll fast-forwards main to the active session's tip, marks the
// session merged, and opens a fresh session on top of the new main
// (approve_all).
func (t *Tracker) ApproveAll(message string) (*ApproveResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mf, err := loadMetadata(t.dialogRoot)
	if err != nil {
		return nil, err
	}
	sessionTip, err := t.store.ReadRef(mf.ActiveSession)
	if err != nil {
		return nil, err
	}
	mainTip, err := t.store.ReadRef(RefMain)
	if err != nil {
		return nil, err
	}

	commitsApproved := 0
	if sessionTip != "" {
		cursor := sessionTip
		for cursor != "" && cursor != mainTip {
			commit, err := t.store.GetCommit(cursor)
			if err != nil {
				return nil, err
			}
			commitsApproved++
			cursor = commit.ParentHash
		}
		if err := t.store.WriteRef(RefMain, sessionTip); err != nil {
			return nil, err
		}
		mainTip = sessionTip
	}

	now := time.Now()
	closed := mf.Sessions[mf.ActiveSession]
	closed.Status = SessionMerged
	closed.ClosedAt = &now
	closed.ApprovedCommit = mainTip
	mf.Sessions[mf.ActiveSession] = closed

	nextNum, err := t.store.LatestSessionNumber()
	if err != nil {
		return nil, err
	}
	newName := SessionRefName(nextNum + 1)
	mf.Sessions[newName] = SessionMeta{Name: newName, RefName: newName, Status: SessionActive, CreatedAt: now}
	mf.ActiveSession = newName
	if err := t.store.WriteRef(newName, mainTip); err != nil {
		return nil, err
	}
	if err := mf.save(t.dialogRoot); err != nil {
		return nil, err
	}

	return &ApproveResult{ApprovedCommit: mainTip, NewSession: newName, CommitsApproved: commitsApproved}, nil
}

// ResetResult is the response shape for POST /api/dialogs/{id}/reset.
type ResetResult struct {
	ResetTo    Hash
	NewSession string
}

// ResetToApproved abandons the active session, materializes the workdir
// back to main's tip, clears staging, and opens a fresh session
// (reset_to_approved).
func (t *Tracker) ResetToApproved() (*ResetResult, error) {
	t.mu.Lock()

	mf, err := loadMetadata(t.dialogRoot)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	mainTip, err := t.store.ReadRef(RefMain)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}

	var targetFlat map[string]Hash
	if mainTip != "" {
		mainCommit, err := t.store.GetCommit(mainTip)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		targetFlat, err = t.flattenTree(mainCommit.TreeHash)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}

	sessionTip, err := t.store.ReadRef(mf.ActiveSession)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	var headFlat map[string]Hash
	if sessionTip != "" {
		sessionCommit, err := t.store.GetCommit(sessionTip)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		headFlat, err = t.flattenTree(sessionCommit.TreeHash)
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

	t.materialize(headFlat, sf, targetFlat)

	if err := t.clearStaging(); err != nil {
		t.mu.Unlock()
		return nil, err
	}

	now := time.Now()
	abandoned := mf.Sessions[mf.ActiveSession]
	abandoned.Status = SessionAbandoned
	abandoned.ClosedAt = &now
	mf.Sessions[mf.ActiveSession] = abandoned

	nextNum, err := t.store.LatestSessionNumber()
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	newName := SessionRefName(nextNum + 1)
	mf.Sessions[newName] = SessionMeta{Name: newName, RefName: newName, Status: SessionActive, CreatedAt: now}
	mf.ActiveSession = newName
	if err := t.store.WriteRef(newName, mainTip); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if err := mf.save(t.dialogRoot); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	return &ResetResult{ResetTo: mainTip, NewSession: newName}, nil
}
