package agentloop

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/toolexec"
)

const truncatedPreviewLimit = 500

// deriveSummary builds the one-line human summary stored in a
// models.ToolResultRef, per tool kind.
func deriveSummary(toolName string, input json.RawMessage, result *toolexec.Result) string {
	if result == nil {
		return ""
	}
	switch toolName {
	case "read_file":
		var req struct {
			Path string `json:"path"`
		}
		_ = json.Unmarshal(input, &req)
		lines := strings.Count(result.Content, "\n") + 1
		return fmt.Sprintf("Read file: %s (%d lines)", req.Path, lines)

	case "search_files":
		var payload struct {
			Matches []struct {
				Path string `json:"path"`
			} `json:"matches"`
			Count int `json:"count"`
		}
		if err := json.Unmarshal([]byte(result.Content), &payload); err == nil {
			files := map[string]struct{}{}
			for _, m := range payload.Matches {
				files[m.Path] = struct{}{}
			}
			return fmt.Sprintf("Found %d matches in %d files", payload.Count, len(files))
		}
		return "Searched files"

	case "run_command":
		var payload struct {
			ExitCode int    `json:"exit_code"`
			Stdout   string `json:"stdout"`
			Stderr   string `json:"stderr"`
		}
		if err := json.Unmarshal([]byte(result.Content), &payload); err == nil {
			return fmt.Sprintf("Exit %d, %d chars", payload.ExitCode, len(payload.Stdout)+len(payload.Stderr))
		}
		return "Ran command"

	case "list_files":
		var payload struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal([]byte(result.Content), &payload); err == nil {
			return fmt.Sprintf("Listed %d entries", payload.Count)
		}
		return "Listed files"

	case "write_to_file", "replace_in_file":
		var req struct {
			Path string `json:"path"`
		}
		_ = json.Unmarshal(input, &req)
		return fmt.Sprintf("Wrote file: %s", req.Path)

	case "delete_file":
		var req struct {
			Path string `json:"path"`
		}
		_ = json.Unmarshal(input, &req)
		return fmt.Sprintf("Deleted file: %s", req.Path)

	case "web_search":
		return "Searched the web"

	case "web_fetch":
		return fmt.Sprintf("Fetched %d chars", len(result.Content))

	case "generate_dialog_title":
		return "Generated dialog title"

	case "get_tool_result":
		return "Retrieved prior tool result"

	default:
		if result.IsError {
			return "Tool call failed"
		}
		return "Tool call completed"
	}
}

// truncatedPreview renders a whole-line-truncated preview of content capped
// at truncatedPreviewLimit characters, never cutting a line in half.
func truncatedPreview(content string) string {
	if len(content) <= truncatedPreviewLimit {
		return content
	}
	lines := strings.Split(content, "\n")
	var sb strings.Builder
	for _, line := range lines {
		if sb.Len()+len(line)+1 > truncatedPreviewLimit {
			break
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return content[:truncatedPreviewLimit]
	}
	return strings.TrimRight(sb.String(), "\n")
}
