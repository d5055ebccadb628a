package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/toolexec"
	"github.com/agentsmithy/agentsmithy/internal/tools/files"
	"github.com/agentsmithy/agentsmithy/internal/versioning"
)

const (
	maxSearchMatches     = 500
	maxSearchFileBytes   = 2 << 20 // 2 MiB: skip larger files as likely binary/generated
	maxSearchFilesWalked = 20000
)

// searchFilesTool implements search_files: a regex content search across
// workspace files, skipping ignored paths and binary-looking content.
// Read-only: no lock.
type searchFilesTool struct {
	root     string
	resolver files.Resolver
	ignore   *versioning.IgnoreMatcher
}

func newSearchFilesTool(root string) (*searchFilesTool, error) {
	ignore, err := versioning.LoadIgnoreMatcher(root)
	if err != nil {
		return nil, err
	}
	return &searchFilesTool{root: root, resolver: files.Resolver{Root: root}, ignore: ignore}, nil
}

func (t *searchFilesTool) Name() string                { return "search_files" }
func (t *searchFilesTool) LockKind() toolexec.LockKind { return toolexec.LockNone }

type searchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *searchFilesTool) Execute(ctx context.Context, _ *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	var req struct {
		Pattern    string `json:"pattern"`
		Path       string `json:"path"`
		MaxMatches int    `json:"max_matches"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, agentserr.New(agentserr.KindValidation, "invalid_tool_input", err)
	}
	if req.Pattern == "" {
		return nil, agentserr.Newf(agentserr.KindValidation, "missing_pattern", "pattern is required")
	}
	if req.Path == "" {
		req.Path = "."
	}
	limit := maxSearchMatches
	if req.MaxMatches > 0 && req.MaxMatches < limit {
		limit = req.MaxMatches
	}

	re, err := regexp.Compile(req.Pattern)
	if err != nil {
		return nil, agentserr.New(agentserr.KindValidation, "invalid_pattern", err)
	}

	start, err := t.resolver.Resolve(req.Path)
	if err != nil {
		return nil, agentserr.New(agentserr.KindValidation, "invalid_path", err)
	}

	var matches []searchMatch
	var filesWalked int
	truncated := false

	walkErr := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if len(matches) >= limit {
			truncated = true
			return fs.SkipAll
		}
		if ctx.Err() != nil {
			return ctx.Err()
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
		if d.IsDir() {
			return nil
		}

		filesWalked++
		if filesWalked > maxSearchFilesWalked {
			truncated = true
			return fs.SkipAll
		}

		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > maxSearchFileBytes {
			return nil
		}

		fileMatches, searchErr := searchFile(path, rel, re, limit-len(matches))
		if searchErr != nil {
			return nil
		}
		matches = append(matches, fileMatches...)
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return nil, agentserr.New(agentserr.KindInternal, "search_files_failed", walkErr)
	}

	payload, err := json.Marshal(map[string]any{
		"pattern":   req.Pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	})
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "encode_result_failed", err)
	}
	return &toolexec.Result{Content: string(payload), StructuredJSON: payload}, nil
}

func searchFile(absPath, relPath string, re *regexp.Regexp, remaining int) ([]searchMatch, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []searchMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() && len(out) < remaining {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			out = append(out, searchMatch{Path: relPath, Line: lineNo, Text: line})
		}
	}
	return out, scanner.Err()
}
