package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution, pre-guard.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolResultRef is the lazy pointer kept in the message stream. The full
// structured JSON body lives out-of-band in the tool-result store and is
// fetched on demand via get_tool_result.
type ToolResultRef struct {
	ToolCallID       string `json:"tool_call_id"`
	ToolName         string `json:"tool_name"`
	Status           string `json:"status"` // ok | error
	SizeBytes        int    `json:"size_bytes"`
	Summary          string `json:"summary"`
	TruncatedPreview string `json:"truncated_preview"`
	ResultRef        string `json:"result_ref"`
}

// Message is one entry in a dialog's append-only, dense-indexed history.
type Message struct {
	DialogID  string    `json:"dialog_id"`
	Idx       int       `json:"idx"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// user-role fields
	CheckpointID string `json:"checkpoint_id,omitempty"`
	SessionName  string `json:"session_name,omitempty"`

	// assistant-role fields
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// tool-role fields
	ToolResult *ToolResultRef `json:"tool_result,omitempty"`
}

// ReasoningBlock is an optional, lazily-loaded reasoning trace attached to
// the assistant message that immediately follows it.
type ReasoningBlock struct {
	DialogID  string    `json:"dialog_id"`
	CreatedAt time.Time `json:"created_at"`
	Content   string    `json:"content"`
}

// FileEditRecord is an append-only audit trail entry for one tool-driven
// file write.
type FileEditRecord struct {
	DialogID           string    `json:"dialog_id"`
	FilePath           string    `json:"file_path"`
	CompressedUnifiedDiff []byte `json:"-"`
	Diff               string    `json:"diff"`
	CheckpointID       string    `json:"checkpoint_id"`
	MessageIdx         int       `json:"message_idx"`
	CreatedAt          time.Time `json:"created_at"`
}

// Dialog is a persisted conversation with its own history, sessions and
// checkpoint store.
type Dialog struct {
	ID                string     `json:"id"`
	Title             *string    `json:"title,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ActiveSession     string     `json:"active_session"`
	InitialCheckpoint string     `json:"initial_checkpoint"`
	LastApprovedAt    *time.Time `json:"last_approved_at,omitempty"`
}

// DialogSummary is the rolling compaction of a dialog's oldest messages,
// substituted for the messages it covers on subsequent turns.
type DialogSummary struct {
	DialogID      string    `json:"dialog_id"`
	Content       string    `json:"content"`
	CoversUpToIdx int       `json:"covers_up_to_idx"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionStatus is the lifecycle state of a checkpoint session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionMerged   SessionStatus = "merged"
	SessionAbandoned SessionStatus = "abandoned"
)

// CheckpointSession is a per-dialog work bucket accumulating commits until
// approved or reset.
type CheckpointSession struct {
	SessionName     string        `json:"session_name"`
	RefName         string        `json:"ref_name"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`
	ApprovedCommit  *string       `json:"approved_commit,omitempty"`
	CheckpointsCount int          `json:"checkpoints_count"`
}

// ChangedFileStatus is the status of a path relative to the approved tip.
type ChangedFileStatus string

const (
	FileAdded    ChangedFileStatus = "added"
	FileModified ChangedFileStatus = "modified"
	FileDeleted  ChangedFileStatus = "deleted"
)

// ChangedFile describes one entry of a working-tree-vs-main diff.
type ChangedFile struct {
	Path        string            `json:"path"`
	Status      ChangedFileStatus `json:"status"`
	Additions   int               `json:"additions"`
	Deletions   int               `json:"deletions"`
	Diff        *string           `json:"diff,omitempty"`
	BaseContent *string           `json:"base_content,omitempty"`
	IsBinary    bool              `json:"is_binary"`
	IsTooLarge  bool              `json:"is_too_large"`
}
