package tools

import (
	"encoding/json"

	"github.com/agentsmithy/agentsmithy/internal/llm"
)

func schemaOf(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}

// Specs returns the llm.ToolSpec for all 11 wire-contract tools Build
// registers, in the shape every provider adapter turns into its own native
// tool-use format. The name/description/schema for each tool mirror the
// inner implementation's own Description()/Schema() where one exists
// (internal/tools/files, internal/tools/websearch); the remaining tools
// have no separate inner implementation to mirror, so their schema is
// written directly from the input struct their Execute method decodes.
func Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "read_file",
			Description: "Read a file from the workspace with optional offset and byte limit.",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string", "description": "Path to the file (relative to workspace)."},
					"offset":    map[string]any{"type": "integer", "description": "Byte offset to start reading from (default: 0).", "minimum": 0},
					"max_bytes": map[string]any{"type": "integer", "description": "Maximum bytes to read (capped by tool default).", "minimum": 0},
				},
				"required": []string{"path"},
			}),
		},
		{
			Name:        "write_to_file",
			Description: "Write content to a file in the workspace (overwrites by default).",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string", "description": "Path to write (relative to workspace)."},
					"content": map[string]any{"type": "string", "description": "File contents to write."},
					"append":  map[string]any{"type": "boolean", "description": "Append instead of overwrite (default: false)."},
				},
				"required": []string{"path", "content"},
			}),
		},
		{
			Name:        "replace_in_file",
			Description: "Apply one or more find/replace edits to a file in the workspace.",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Path to edit (relative to workspace)."},
					"edits": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"old_text":    map[string]any{"type": "string", "description": "Text to replace."},
								"new_text":    map[string]any{"type": "string", "description": "Replacement text."},
								"replace_all": map[string]any{"type": "boolean", "description": "Replace all occurrences (default: false)."},
							},
							"required": []string{"old_text", "new_text"},
						},
					},
				},
				"required": []string{"path", "edits"},
			}),
		},
		{
			Name:        "delete_file",
			Description: "Delete a file from the workspace.",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Path to delete (relative to workspace)."},
				},
				"required": []string{"path"},
			}),
		},
		{
			Name:        "list_files",
			Description: "List files and directories under a workspace path.",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string", "description": "Directory to list (relative to workspace, default: \".\")."},
					"recursive": map[string]any{"type": "boolean", "description": "Recurse into subdirectories (default: false)."},
				},
			}),
		},
		{
			Name:        "search_files",
			Description: "Search file contents under a workspace path using a regular expression.",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern":     map[string]any{"type": "string", "description": "Regular expression to search for."},
					"path":        map[string]any{"type": "string", "description": "Directory to search under (relative to workspace, default: \".\")."},
					"max_matches": map[string]any{"type": "integer", "description": "Maximum matches to return.", "minimum": 1},
				},
				"required": []string{"pattern"},
			}),
		},
		{
			Name:        "run_command",
			Description: "Run a shell command in the workspace.",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command":         map[string]any{"type": "string", "description": "Shell command to execute."},
					"cwd":             map[string]any{"type": "string", "description": "Working directory relative to workspace (default: workspace root)."},
					"env":             map[string]any{"type": "object", "description": "Extra environment variables.", "additionalProperties": map[string]any{"type": "string"}},
					"input":           map[string]any{"type": "string", "description": "Text to write to the command's stdin."},
					"timeout_seconds": map[string]any{"type": "integer", "description": "Timeout in seconds (default: configured tool timeout).", "minimum": 0},
				},
				"required": []string{"command"},
			}),
		},
		{
			Name:        "web_search",
			Description: "Search the web for information. Supports web search, image search, and news search. Can optionally extract full content from result URLs.",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":           map[string]any{"type": "string", "description": "The search query"},
					"type":            map[string]any{"type": "string", "enum": []string{"web", "image", "news"}, "description": "Type of search to perform (default: web)"},
					"result_count":    map[string]any{"type": "integer", "description": "Number of results to return (default: 5, max: 20)", "minimum": 1, "maximum": 20},
					"extract_content": map[string]any{"type": "boolean", "description": "Whether to extract full content from result URLs (default: false)"},
					"backend":         map[string]any{"type": "string", "enum": []string{"searxng", "duckduckgo", "brave"}, "description": "Search backend to use (default: configured default)"},
				},
				"required": []string{"query"},
			}),
		},
		{
			Name:        "web_fetch",
			Description: "Fetch and extract readable content from a URL without full browser automation.",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":          map[string]any{"type": "string", "description": "URL to fetch (http/https only)"},
					"extract_mode": map[string]any{"type": "string", "enum": []string{"markdown", "text"}, "description": "Extraction mode (markdown or text). Default: markdown"},
					"max_chars":    map[string]any{"type": "integer", "description": "Maximum characters to return (default: 10000)", "minimum": 0},
				},
				"required": []string{"url"},
			}),
		},
		{
			Name:        "get_tool_result",
			Description: "Read the full structured result of an earlier tool call in this dialog. Cannot be used on calls from the current turn.",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tool_call_id": map[string]any{"type": "string", "description": "The tool_call_id to look up."},
				},
				"required": []string{"tool_call_id"},
			}),
		},
		{
			Name:        "generate_dialog_title",
			Description: "Summarize the opening exchange of a dialog into a short title and persist it.",
			Schema: schemaOf(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"first_user_message":      map[string]any{"type": "string", "description": "The dialog's first user message."},
					"first_assistant_message": map[string]any{"type": "string", "description": "The dialog's first assistant reply."},
				},
				"required": []string{"first_user_message"},
			}),
		},
	}
}
