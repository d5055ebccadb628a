// Package tools wires the file, exec, and websearch implementations into
// the 11 wire-contract tool names as toolexec.Tool adapters, alongside the
// tools with no prior implementation to adapt (list_files, search_files,
// delete_file, get_tool_result, generate_dialog_title).
package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/agent"
	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/toolexec"
	"github.com/agentsmithy/agentsmithy/internal/tools/exec"
	"github.com/agentsmithy/agentsmithy/internal/tools/files"
	"github.com/agentsmithy/agentsmithy/internal/tools/websearch"
	"github.com/agentsmithy/agentsmithy/internal/versioning"
)

// agentTool is the interface implemented by internal/agent's original tool
// set: Name/Description/Schema/Execute(ctx, json.RawMessage) (*agent.ToolResult, error).
type agentTool interface {
	Name() string
	Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error)
}

func convertResult(r *agent.ToolResult, err error) (*toolexec.Result, error) {
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "tool_execution_failed", err)
	}
	return &toolexec.Result{Content: r.Content, IsError: r.IsError}, nil
}

// readFileTool adapts files.ReadTool to read_file. Read-only: no lock.
type readFileTool struct{ inner *files.ReadTool }

func newReadFileTool(inner *files.ReadTool) *readFileTool { return &readFileTool{inner: inner} }
func (t *readFileTool) Name() string                      { return "read_file" }
func (t *readFileTool) LockKind() toolexec.LockKind       { return toolexec.LockNone }
func (t *readFileTool) Execute(ctx context.Context, _ *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	return convertResult(t.inner.Execute(ctx, input))
}

// pathInput is the shape shared by every path-scoped tool's input.
type pathInput struct {
	Path string `json:"path"`
}

func extractPath(input json.RawMessage) (string, error) {
	var p pathInput
	if err := json.Unmarshal(input, &p); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.Path) == "" {
		return "", agentserr.Newf(agentserr.KindValidation, "missing_path", "path is required")
	}
	return p.Path, nil
}

// writeToFileTool adapts files.WriteTool to write_to_file, staging the
// result into the dialog's versioning tracker on success.
type writeToFileTool struct{ inner *files.WriteTool }

func newWriteToFileTool(inner *files.WriteTool) *writeToFileTool { return &writeToFileTool{inner: inner} }
func (t *writeToFileTool) Name() string                          { return "write_to_file" }
func (t *writeToFileTool) LockKind() toolexec.LockKind            { return toolexec.LockPath }
func (t *writeToFileTool) Path(input json.RawMessage) (string, error) { return extractPath(input) }
func (t *writeToFileTool) Execute(ctx context.Context, tc *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	return withEditTracking(ctx, tc, input, t.inner.Execute)
}

// replaceInFileTool adapts files.EditTool to replace_in_file.
type replaceInFileTool struct{ inner *files.EditTool }

func newReplaceInFileTool(inner *files.EditTool) *replaceInFileTool {
	return &replaceInFileTool{inner: inner}
}
func (t *replaceInFileTool) Name() string               { return "replace_in_file" }
func (t *replaceInFileTool) LockKind() toolexec.LockKind { return toolexec.LockPath }
func (t *replaceInFileTool) Path(input json.RawMessage) (string, error) { return extractPath(input) }
func (t *replaceInFileTool) Execute(ctx context.Context, tc *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	return withEditTracking(ctx, tc, input, t.inner.Execute)
}

// withEditTracking wraps a file-mutating tool's Execute with the
// start_edit/finalize_edit/abort_edit and stage_file sequence
// requires, plus the RAG re-index and file_edit emit on success.
func withEditTracking(
	ctx context.Context,
	tc *toolexec.ToolContext,
	input json.RawMessage,
	execFn func(context.Context, json.RawMessage) (*agent.ToolResult, error),
) (*toolexec.Result, error) {
	path, err := extractPath(input)
	if err != nil {
		return nil, err
	}

	if tc != nil && tc.Versioning != nil {
		if err := tc.Versioning.StartEdit([]string{path}); err != nil {
			return nil, agentserr.New(agentserr.KindInternal, "start_edit_failed", err)
		}
	}

	result, execErr := execFn(ctx, input)

	if execErr != nil || (result != nil && result.IsError) {
		if tc != nil && tc.Versioning != nil {
			if abortErr := tc.Versioning.AbortEdit(); abortErr != nil {
				return nil, agentserr.New(agentserr.KindInternal, "abort_edit_failed", abortErr)
			}
		}
		return convertResult(result, execErr)
	}

	var before []byte
	if tc != nil && tc.Versioning != nil {
		before = tc.Versioning.FinalizeEdit()[path]
		if err := tc.Versioning.StageFile(path); err != nil {
			return nil, agentserr.New(agentserr.KindInternal, "stage_file_failed", err)
		}
	}
	if tc != nil && tc.RAG != nil {
		_ = tc.RAG.IndexPath(ctx, path)
	}
	if tc != nil && (tc.EmitFileEdit != nil || tc.RecordFileEdit != nil) {
		diff := computeEditDiff(tc.ProjectRoot, path, before)
		if tc.EmitFileEdit != nil {
			tc.EmitFileEdit(path, diff)
		}
		if tc.RecordFileEdit != nil {
			tc.RecordFileEdit(path, diff)
		}
	}

	return convertResult(result, execErr)
}

// computeEditDiff reads path's current on-disk content under projectRoot and
// renders a unified diff against before, the pre-edit snapshot FinalizeEdit
// returned (nil for a newly added file).
func computeEditDiff(projectRoot, path string, before []byte) string {
	after, _ := os.ReadFile(filepath.Join(projectRoot, path))
	diff, _, _ := versioning.UnifiedDiff(path, before, after)
	return diff
}

// runCommandTool adapts exec.Manager.RunCommand to run_command. It never
// stages files itself; any files it touches are picked up on the next
// checkpoint via workdir-vs-HEAD diff.
type runCommandTool struct{ manager *exec.Manager }

func newRunCommandTool(manager *exec.Manager) *runCommandTool { return &runCommandTool{manager: manager} }
func (t *runCommandTool) Name() string                        { return "run_command" }
func (t *runCommandTool) LockKind() toolexec.LockKind          { return toolexec.LockWorkdir }
func (t *runCommandTool) Execute(ctx context.Context, _ *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	var req struct {
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, agentserr.New(agentserr.KindValidation, "invalid_tool_input", err)
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, agentserr.Newf(agentserr.KindValidation, "missing_command", "command is required")
	}
	timeout := defaultCommandTimeout
	if req.TimeoutSeconds > 0 {
		timeout = secondsToDuration(req.TimeoutSeconds)
	}
	result, err := t.manager.RunCommand(ctx, req.Command, req.Cwd, req.Env, req.Input, timeout)
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "run_command_failed", err)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "encode_result_failed", err)
	}
	return &toolexec.Result{Content: string(payload), StructuredJSON: payload}, nil
}

// webSearchTool adapts websearch.WebSearchTool to web_search.
type webSearchTool struct{ inner *websearch.WebSearchTool }

func newWebSearchTool(inner *websearch.WebSearchTool) *webSearchTool { return &webSearchTool{inner: inner} }
func (t *webSearchTool) Name() string                                { return "web_search" }
func (t *webSearchTool) LockKind() toolexec.LockKind                 { return toolexec.LockNone }
func (t *webSearchTool) Execute(ctx context.Context, _ *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	return convertResult(t.inner.Execute(ctx, input))
}

// webFetchTool adapts websearch.WebFetchTool to web_fetch.
type webFetchTool struct{ inner *websearch.WebFetchTool }

func newWebFetchTool(inner *websearch.WebFetchTool) *webFetchTool { return &webFetchTool{inner: inner} }
func (t *webFetchTool) Name() string                              { return "web_fetch" }
func (t *webFetchTool) LockKind() toolexec.LockKind               { return toolexec.LockNone }
func (t *webFetchTool) Execute(ctx context.Context, _ *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	return convertResult(t.inner.Execute(ctx, input))
}
