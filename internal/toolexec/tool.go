// Package toolexec runs the 11 wire-contract tools with
// concurrency limits, retry/backoff, panic recovery, per-path/workdir
// locking, and execution metrics, reporting failures as agentserr.Error.
package toolexec

import (
	"context"
	"encoding/json"
)

// LockKind declares what, if anything, a tool must lock before running.
type LockKind int

const (
	// LockNone is used by read-only and network tools: read_file,
	// list_files, search_files, web_search, web_fetch, get_tool_result,
	// generate_dialog_title.
	LockNone LockKind = iota
	// LockPath is used by file-mutating tools: write_to_file,
	// replace_in_file, delete_file. The tool must implement PathExtractor.
	LockPath
	// LockWorkdir is used by run_command: held exclusively against every
	// path lock so a shell command never races a concurrent file edit.
	LockWorkdir
)

// Tool is one wire-contract tool implementation.
type Tool interface {
	// Name returns the wire-contract tool name, e.g. "write_to_file".
	Name() string
	// LockKind declares the locking this tool requires.
	LockKind() LockKind
	// Execute runs the tool against its raw JSON input and returns its
	// result content. Errors should be *agentserr.Error where possible.
	Execute(ctx context.Context, tc *ToolContext, input json.RawMessage) (*Result, error)
}

// RAGIndexer is the narrow slice of the RAG store that file-mutating tools
// need: re-indexing a path after a write, or dropping it after a delete.
// Satisfied by *rag.Index.
type RAGIndexer interface {
	IndexPath(ctx context.Context, path string) error
	RemovePath(ctx context.Context, path string) error
}

// Versioner is the narrow slice of a checkpoint Tracker that file-mutating
// tools drive directly: snapshot before the edit, commit
// or roll back after, then stage the result. Satisfied by
// *versioning.Tracker.
type Versioner interface {
	StartEdit(paths []string) error
	// FinalizeEdit commits the edit and returns each path's pre-edit bytes
	// (nil if the path did not exist before), for diffing against the
	// post-edit content.
	FinalizeEdit() map[string][]byte
	AbortEdit() error
	StageFile(path string) error
	StageFileDeletion(path string) error
}

// ResultStore is the narrow slice of the dialog store that get_tool_result
// reads from. Satisfied by *dialogstore.Store.
type ResultStore interface {
	GetToolResult(ctx context.Context, dialogID, toolCallID string) ([]byte, error)
}

// ToolContext carries the per-call dependencies every tool invocation
// receives (`ToolContext{project, dialog_id, versioning, rag,
// cancel_token, emit(event)}`); cancellation travels via the ctx argument
// passed alongside it rather than as a struct field.
type ToolContext struct {
	ProjectRoot string
	DialogID    string
	Versioning  Versioner
	RAG         RAGIndexer
	Results     ResultStore
	// CurrentTurnCallIDs holds the tool_call_ids dispatched in this turn, so
	// get_tool_result can refuse to read a call that hasn't finished yet:
	// it must refuse to return results of calls from the current turn.
	CurrentTurnCallIDs map[string]bool
	// EmitFileEdit reports a completed file mutation so the SSE layer can
	// forward a file_edit event; nil is a valid no-op for tools that never
	// touch files.
	EmitFileEdit func(path, diff string)
	// RecordFileEdit persists a completed file mutation to the dialog's
	// append-only file-edit audit trail; nil is a valid no-op for tools that
	// never touch files.
	RecordFileEdit func(path, diff string)
}

// PathExtractor is implemented by LockPath tools so the executor can
// determine which path to lock without knowing each tool's input schema.
type PathExtractor interface {
	Path(input json.RawMessage) (string, error)
}

// Result is a tool's raw execution output, before it is wrapped into a
// models.ToolResult or ToolResultRef by the agent loop.
type Result struct {
	Content string
	IsError bool
	// StructuredJSON is the full structured payload persisted out-of-band
	// for get_tool_result; if nil, Content is used as the full payload.
	StructuredJSON json.RawMessage
}
