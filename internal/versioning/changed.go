package versioning

const maxDiffableSize = 512 * 1024 // bytes; larger files are reported but not diffed

// ChangeStatus is the kind of change a path represents relative to main.
type ChangeStatus string

const (
	ChangeAdded    ChangeStatus = "added"
	ChangeModified ChangeStatus = "modified"
	ChangeDeleted  ChangeStatus = "deleted"
)

// ChangedFile describes one path's pending diff against main's tip, as
// returned by GetStagedFiles.
type ChangedFile struct {
	Path        string       `json:"path"`
	Status      ChangeStatus `json:"status"`
	Additions   int          `json:"additions"`
	Deletions   int          `json:"deletions"`
	Diff        string       `json:"diff,omitempty"`
	BaseContent string       `json:"base_content,omitempty"`
	IsBinary    bool         `json:"is_binary"`
	IsTooLarge  bool         `json:"is_too_large"`
}

// GetStagedFiles compares the active session's current effective tree
// (workdir + staging overrides) against main's tip and returns one entry
// per changed path.
func (t *Tracker) GetStagedFiles() ([]ChangedFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	headFlat, err := t.buildFlatTree()
	if err != nil {
		return nil, err
	}

	mainTip, err := t.store.ReadRef(RefMain)
	if err != nil {
		return nil, err
	}
	var baseFlat map[string]Hash
	if mainTip != "" {
		mainCommit, err := t.store.GetCommit(mainTip)
		if err != nil {
			return nil, err
		}
		baseFlat, err = t.flattenTree(mainCommit.TreeHash)
		if err != nil {
			return nil, err
		}
	}

	paths := map[string]struct{}{}
	for p := range headFlat {
		paths[p] = struct{}{}
	}
	for p := range baseFlat {
		paths[p] = struct{}{}
	}

	var changed []ChangedFile
	for p := range paths {
		headHash, inHead := headFlat[p]
		baseHash, inBase := baseFlat[p]
		if inHead && inBase && headHash == baseHash {
			continue
		}

		cf := ChangedFile{Path: p}
		switch {
		case inHead && !inBase:
			cf.Status = ChangeAdded
		case !inHead && inBase:
			cf.Status = ChangeDeleted
		default:
			cf.Status = ChangeModified
		}

		var oldContent, newContent []byte
		if inBase {
			oldContent, err = t.store.GetBlob(baseHash)
			if err != nil {
				return nil, err
			}
			cf.BaseContent = string(oldContent)
		}
		if inHead {
			newContent, err = t.store.GetBlob(headHash)
			if err != nil {
				return nil, err
			}
		}

		if isBinary(oldContent) || isBinary(newContent) {
			cf.IsBinary = true
			cf.BaseContent = ""
			changed = append(changed, cf)
			continue
		}
		if len(oldContent) > maxDiffableSize || len(newContent) > maxDiffableSize {
			cf.IsTooLarge = true
			cf.BaseContent = ""
			changed = append(changed, cf)
			continue
		}

		cf.Diff, cf.Additions, cf.Deletions = UnifiedDiff(p, oldContent, newContent)
		changed = append(changed, cf)
	}
	return changed, nil
}

func isBinary(content []byte) bool {
	limit := len(content)
	if limit > 8000 {
		limit = 8000
	}
	for _, b := range content[:limit] {
		if b == 0 {
			return true
		}
	}
	return false
}
