package dialogstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
)

// PutToolResult stores a tool call's full structured result out-of-band,
// keyed by tool_call_id; the message stream only ever carries the lazy
// models.ToolResultRef pointer (get_tool_result).
func (s *Store) PutToolResult(ctx context.Context, dialogID, toolCallID, toolName, status string, fullJSON []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_results (dialog_id, tool_call_id, tool_name, status, full_json, size_bytes, created_at, pruned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		ON CONFLICT (dialog_id, tool_call_id) DO UPDATE
		SET tool_name = excluded.tool_name, status = excluded.status, full_json = excluded.full_json,
		    size_bytes = excluded.size_bytes
	`, dialogID, toolCallID, toolName, status, fullJSON, len(fullJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "put_tool_result", err)
	}
	return nil
}

// GetToolResult fetches a tool call's full result by id. It returns a
// not_found-kind agentserr.Error both when the id was never recorded and
// when it has since been pruned by history summarization, so callers do
// not need to distinguish the two cases.
func (s *Store) GetToolResult(ctx context.Context, dialogID, toolCallID string) ([]byte, error) {
	var fullJSON []byte
	var pruned bool
	err := s.db.QueryRowContext(ctx, `
		SELECT full_json, pruned FROM tool_results WHERE dialog_id = $1 AND tool_call_id = $2
	`, dialogID, toolCallID).Scan(&fullJSON, &pruned)
	if err == sql.ErrNoRows {
		return nil, agentserr.ErrResultExpired.WithToolCallID(toolCallID).WithDialogID(dialogID)
	}
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "get_tool_result", err)
	}
	if pruned {
		return nil, agentserr.ErrResultExpired.WithToolCallID(toolCallID).WithDialogID(dialogID)
	}
	return fullJSON, nil
}

// ToolResultMeta is the metadata row exposed over
// GET /api/dialogs/{id}/tool-results, without the (possibly large) body.
type ToolResultMeta struct {
	ToolCallID string    `json:"tool_call_id"`
	ToolName   string    `json:"tool_name"`
	Status     string    `json:"status"`
	SizeBytes  int       `json:"size_bytes"`
	Pruned     bool      `json:"pruned"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListToolResults returns metadata for every tool result recorded for a
// dialog, most recently created first.
func (s *Store) ListToolResults(ctx context.Context, dialogID string) ([]ToolResultMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_call_id, tool_name, status, size_bytes, pruned, created_at
		FROM tool_results WHERE dialog_id = $1 ORDER BY created_at DESC
	`, dialogID)
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "list_tool_results", err)
	}
	defer rows.Close()

	var out []ToolResultMeta
	for rows.Next() {
		var m ToolResultMeta
		var createdAt string
		var pruned bool
		if err := rows.Scan(&m.ToolCallID, &m.ToolName, &m.Status, &m.SizeBytes, &pruned, &createdAt); err != nil {
			return nil, agentserr.New(agentserr.KindInternal, "scan_tool_result_meta", err)
		}
		m.Pruned = pruned
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneToolResults marks the tool results named by toolCallIDs in dialogID
// as pruned and discards their stored bodies, called when history
// summarization folds those messages into a summary.
func (s *Store) PruneToolResults(ctx context.Context, dialogID string, toolCallIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "prune_tool_results_begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE tool_results SET pruned = 1, full_json = x'' WHERE dialog_id = $1 AND tool_call_id = $2
	`)
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "prune_tool_results_prepare", err)
	}
	defer stmt.Close()

	for _, id := range toolCallIDs {
		if _, err := stmt.ExecContext(ctx, dialogID, id); err != nil {
			return agentserr.New(agentserr.KindInternal, "prune_tool_results_exec", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return agentserr.New(agentserr.KindInternal, "prune_tool_results_commit", err)
	}
	return nil
}
