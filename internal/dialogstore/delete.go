package dialogstore

import (
	"context"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
)

// DeleteDialog removes a dialog and every row keyed to it: messages,
// reasoning blocks, tool results, the summary, and file-edit records. The
// dialog's on-disk checkpoints/ directory is not this store's concern; the
// caller removes that separately once the row deletion succeeds.
func (s *Store) DeleteDialog(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "delete_dialog_begin", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"file_edits", "tool_results", "reasoning_blocks", "summaries", "messages",
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE dialog_id = $1`, id); err != nil {
			return agentserr.New(agentserr.KindInternal, "delete_dialog", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM dialogs WHERE id = $1`, id)
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "delete_dialog", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "delete_dialog_rows", err)
	}
	if n == 0 {
		return agentserr.Newf(agentserr.KindNotFound, "dialog_not_found", "dialog %s not found", id)
	}

	if err := tx.Commit(); err != nil {
		return agentserr.New(agentserr.KindInternal, "delete_dialog_commit", err)
	}
	return nil
}
