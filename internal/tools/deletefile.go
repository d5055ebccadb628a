package tools

import (
	"context"
	"encoding/json"
	"os"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/toolexec"
	"github.com/agentsmithy/agentsmithy/internal/tools/files"
	"github.com/agentsmithy/agentsmithy/internal/versioning"
)

// deleteFileTool implements delete_file: removes a file from the workspace,
// staging the deletion into the dialog's versioning tracker on success.
type deleteFileTool struct {
	resolver files.Resolver
}

func newDeleteFileTool(workspace string) *deleteFileTool {
	return &deleteFileTool{resolver: files.Resolver{Root: workspace}}
}

func (t *deleteFileTool) Name() string                { return "delete_file" }
func (t *deleteFileTool) LockKind() toolexec.LockKind { return toolexec.LockPath }

func (t *deleteFileTool) Path(input json.RawMessage) (string, error) {
	return extractPath(input)
}

func (t *deleteFileTool) Execute(ctx context.Context, tc *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	path, err := extractPath(input)
	if err != nil {
		return nil, err
	}

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return nil, agentserr.New(agentserr.KindValidation, "invalid_path", err)
	}

	if tc != nil && tc.Versioning != nil {
		if err := tc.Versioning.StartEdit([]string{path}); err != nil {
			return nil, agentserr.New(agentserr.KindInternal, "start_edit_failed", err)
		}
	}

	if err := os.Remove(resolved); err != nil {
		if tc != nil && tc.Versioning != nil {
			_ = tc.Versioning.AbortEdit()
		}
		if os.IsNotExist(err) {
			return nil, agentserr.New(agentserr.KindNotFound, "file_not_found", err)
		}
		return nil, agentserr.New(agentserr.KindInternal, "delete_failed", err)
	}

	var before []byte
	if tc != nil && tc.Versioning != nil {
		before = tc.Versioning.FinalizeEdit()[path]
		if err := tc.Versioning.StageFileDeletion(path); err != nil {
			return nil, agentserr.New(agentserr.KindInternal, "stage_deletion_failed", err)
		}
	}
	if tc != nil && tc.RAG != nil {
		_ = tc.RAG.RemovePath(ctx, path)
	}
	if tc != nil && (tc.EmitFileEdit != nil || tc.RecordFileEdit != nil) {
		diff, _, _ := versioning.UnifiedDiff(path, before, nil)
		if tc.EmitFileEdit != nil {
			tc.EmitFileEdit(path, diff)
		}
		if tc.RecordFileEdit != nil {
			tc.RecordFileEdit(path, diff)
		}
	}

	payload, _ := json.Marshal(map[string]any{"path": path, "deleted": true})
	return &toolexec.Result{Content: string(payload)}, nil
}
