package dialogstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// AppendMessage assigns the next dense idx for msg.DialogID within the same
// transaction as the insert, and bumps the dialog's updated_at, matching
// an append-only, dense-indexed history.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, agentserr.New(agentserr.KindInternal, "append_message_begin", err)
	}
	defer tx.Rollback()

	var maxIdx sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(idx) FROM messages WHERE dialog_id = $1`, msg.DialogID).Scan(&maxIdx); err != nil {
		return 0, agentserr.New(agentserr.KindInternal, "append_message_max_idx", err)
	}
	idx := 0
	if maxIdx.Valid {
		idx = int(maxIdx.Int64) + 1
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var toolCallsJSON, toolResultJSON []byte
	if len(msg.ToolCalls) > 0 {
		toolCallsJSON, err = json.Marshal(msg.ToolCalls)
		if err != nil {
			return 0, agentserr.New(agentserr.KindInternal, "append_message_marshal_tool_calls", err)
		}
	}
	if msg.ToolResult != nil {
		toolResultJSON, err = json.Marshal(msg.ToolResult)
		if err != nil {
			return 0, agentserr.New(agentserr.KindInternal, "append_message_marshal_tool_result", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (dialog_id, idx, role, content, created_at, checkpoint_id, session_name, tool_calls, tool_result)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
	`, msg.DialogID, idx, string(msg.Role), msg.Content, msg.CreatedAt.Format(time.RFC3339Nano),
		msg.CheckpointID, msg.SessionName, nullableJSON(toolCallsJSON), nullableJSON(toolResultJSON))
	if err != nil {
		return 0, agentserr.New(agentserr.KindInternal, "append_message_insert", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE dialogs SET updated_at = $1 WHERE id = $2`,
		msg.CreatedAt.Format(time.RFC3339Nano), msg.DialogID); err != nil {
		return 0, agentserr.New(agentserr.KindInternal, "append_message_touch_dialog", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, agentserr.New(agentserr.KindInternal, "append_message_commit", err)
	}
	msg.Idx = idx
	return idx, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// GetHistory returns every message in the dialog with idx > afterIdx,
// ascending, used both for full replay and for resuming a summarized tail.
func (s *Store) GetHistory(ctx context.Context, dialogID string, afterIdx int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dialog_id, idx, role, content, created_at, COALESCE(checkpoint_id, ''), COALESCE(session_name, ''),
		       COALESCE(tool_calls, ''), COALESCE(tool_result, '')
		FROM messages WHERE dialog_id = $1 AND idx > $2 ORDER BY idx ASC
	`, dialogID, afterIdx)
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "get_history", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m              models.Message
			role           string
			createdAt      string
			toolCallsJSON  string
			toolResultJSON string
		)
		if err := rows.Scan(&m.DialogID, &m.Idx, &role, &m.Content, &createdAt, &m.CheckpointID, &m.SessionName,
			&toolCallsJSON, &toolResultJSON); err != nil {
			return nil, agentserr.New(agentserr.KindInternal, "scan_message", err)
		}
		m.Role = models.Role(role)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if toolCallsJSON != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON), &m.ToolCalls); err != nil {
				return nil, agentserr.New(agentserr.KindInternal, "unmarshal_tool_calls", err)
			}
		}
		if toolResultJSON != "" {
			var ref models.ToolResultRef
			if err := json.Unmarshal([]byte(toolResultJSON), &ref); err != nil {
				return nil, agentserr.New(agentserr.KindInternal, "unmarshal_tool_result", err)
			}
			m.ToolResult = &ref
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
