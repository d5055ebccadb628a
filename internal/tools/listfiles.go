package tools

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/toolexec"
	"github.com/agentsmithy/agentsmithy/internal/tools/files"
	"github.com/agentsmithy/agentsmithy/internal/versioning"
)

const maxListedFiles = 2000

// listFilesTool implements list_files: a recursive, gitignore-aware
// directory listing. Read-only: no lock.
type listFilesTool struct {
	root     string
	resolver files.Resolver
	ignore   *versioning.IgnoreMatcher
}

func newListFilesTool(root string) (*listFilesTool, error) {
	ignore, err := versioning.LoadIgnoreMatcher(root)
	if err != nil {
		return nil, err
	}
	return &listFilesTool{root: root, resolver: files.Resolver{Root: root}, ignore: ignore}, nil
}

func (t *listFilesTool) Name() string                { return "list_files" }
func (t *listFilesTool) LockKind() toolexec.LockKind { return toolexec.LockNone }

type listFilesEntry struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

func (t *listFilesTool) Execute(ctx context.Context, _ *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	var req struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, agentserr.New(agentserr.KindValidation, "invalid_tool_input", err)
	}
	if req.Path == "" {
		req.Path = "."
	}

	start, err := t.resolver.Resolve(req.Path)
	if err != nil {
		return nil, agentserr.New(agentserr.KindValidation, "invalid_path", err)
	}

	var entries []listFilesEntry
	truncated := false
	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if len(entries) >= maxListedFiles {
			truncated = true
			return fs.SkipAll
		}

		rel, relErr := filepath.Rel(t.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if t.ignore.Matches(rel) || (d.IsDir() && t.ignore.Matches(rel+"/")) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		entry := listFilesEntry{Path: rel, IsDir: d.IsDir()}
		if !d.IsDir() {
			if info, infoErr := d.Info(); infoErr == nil {
				entry.Size = info.Size()
			}
		}
		entries = append(entries, entry)

		if d.IsDir() && path != start && !req.Recursive {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "list_files_failed", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	payload, err := json.Marshal(map[string]any{
		"path":      req.Path,
		"entries":   entries,
		"count":     len(entries),
		"truncated": truncated,
	})
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "encode_result_failed", err)
	}
	return &toolexec.Result{Content: string(payload), StructuredJSON: payload}, nil
}
