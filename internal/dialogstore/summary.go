package dialogstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// PutSummary replaces the dialog's stored summary, covering every message
// with idx <= coversUpToIdx. A dialog has at most one summary at a time: the
// loop recomputes and overwrites it whenever the covered prefix grows.
func (s *Store) PutSummary(ctx context.Context, dialogID, content string, coversUpToIdx int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (dialog_id, content, covers_up_to_idx, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dialog_id) DO UPDATE SET content = excluded.content,
			covers_up_to_idx = excluded.covers_up_to_idx, created_at = excluded.created_at
	`, dialogID, content, coversUpToIdx, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "put_summary", err)
	}
	return nil
}

// GetSummary returns the dialog's stored summary, or nil if none has been
// computed yet.
func (s *Store) GetSummary(ctx context.Context, dialogID string) (*models.DialogSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dialog_id, content, covers_up_to_idx, created_at FROM summaries WHERE dialog_id = $1
	`, dialogID)

	var (
		sum       models.DialogSummary
		createdAt string
	)
	if err := row.Scan(&sum.DialogID, &sum.Content, &sum.CoversUpToIdx, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, agentserr.New(agentserr.KindInternal, "get_summary", err)
	}
	sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &sum, nil
}

// DeleteSummary removes a dialog's stored summary, used when a dialog is
// reset to a prior checkpoint and its compacted prefix no longer applies.
func (s *Store) DeleteSummary(ctx context.Context, dialogID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM summaries WHERE dialog_id = $1`, dialogID); err != nil {
		return agentserr.New(agentserr.KindInternal, "delete_summary", err)
	}
	return nil
}
