package dialogstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// PutReasoningBlock stores the reasoning trace bracketed by
// reasoning_start/reasoning_end for the assistant message at msgIdx.
func (s *Store) PutReasoningBlock(ctx context.Context, dialogID string, msgIdx int, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reasoning_blocks (dialog_id, msg_idx, content, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dialog_id, msg_idx) DO UPDATE SET content = excluded.content
	`, dialogID, msgIdx, content, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "put_reasoning_block", err)
	}
	return nil
}

// GetReasoningBlock lazily loads the reasoning trace for one message, or
// nil if the message carried none.
func (s *Store) GetReasoningBlock(ctx context.Context, dialogID string, msgIdx int) (*models.ReasoningBlock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dialog_id, content, created_at FROM reasoning_blocks WHERE dialog_id = $1 AND msg_idx = $2
	`, dialogID, msgIdx)

	var rb models.ReasoningBlock
	var createdAt string
	if err := row.Scan(&rb.DialogID, &rb.Content, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, agentserr.New(agentserr.KindInternal, "get_reasoning_block", err)
	}
	rb.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rb, nil
}
