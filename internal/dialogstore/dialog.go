package dialogstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// CreateDialog creates a new dialog rooted at initialCheckpoint, active on
// session_1, under a generated id.
func (s *Store) CreateDialog(ctx context.Context, initialCheckpoint string) (*models.Dialog, error) {
	return s.CreateDialogWithID(ctx, uuid.NewString(), initialCheckpoint)
}

// CreateDialogWithID creates a new dialog under a caller-supplied id. Used
// when the id must be known before the row is inserted, such as when it
// also names the dialog's checkpoint directory on disk.
func (s *Store) CreateDialogWithID(ctx context.Context, id, initialCheckpoint string) (*models.Dialog, error) {
	now := time.Now().UTC()
	d := &models.Dialog{
		ID:                id,
		CreatedAt:         now,
		UpdatedAt:         now,
		ActiveSession:     "session_1",
		InitialCheckpoint: initialCheckpoint,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dialogs (id, title, created_at, updated_at, active_session, initial_checkpoint, last_approved_at)
		VALUES ($1, NULL, $2, $3, $4, $5, NULL)
	`, d.ID, d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano), d.ActiveSession, d.InitialCheckpoint)
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "create_dialog", err)
	}
	return d, nil
}

// GetDialog fetches one dialog by id.
func (s *Store) GetDialog(ctx context.Context, id string) (*models.Dialog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at, active_session, initial_checkpoint, last_approved_at
		FROM dialogs WHERE id = $1
	`, id)
	return scanDialog(row)
}

// ListDialogs returns dialogs most-recently-updated first.
func (s *Store) ListDialogs(ctx context.Context, limit, offset int) ([]*models.Dialog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at, active_session, initial_checkpoint, last_approved_at
		FROM dialogs ORDER BY updated_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "list_dialogs", err)
	}
	defer rows.Close()

	var out []*models.Dialog
	for rows.Next() {
		d, err := scanDialogRows(rows)
		if err != nil {
			return nil, agentserr.New(agentserr.KindInternal, "scan_dialog", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetTitle updates a dialog's generated title.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE dialogs SET title = $1, updated_at = $2 WHERE id = $3`,
		title, time.Now().UTC().Format(time.RFC3339Nano), id)
	return checkUpdated(res, err, id)
}

// SetActiveSession updates a dialog's currently active checkpoint session.
func (s *Store) SetActiveSession(ctx context.Context, id, session string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE dialogs SET active_session = $1, updated_at = $2 WHERE id = $3`,
		session, time.Now().UTC().Format(time.RFC3339Nano), id)
	return checkUpdated(res, err, id)
}

// MarkApproved stamps last_approved_at with now.
func (s *Store) MarkApproved(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `UPDATE dialogs SET last_approved_at = $1, updated_at = $1 WHERE id = $2`, now, id)
	return checkUpdated(res, err, id)
}

// Touch bumps updated_at, used whenever a message is appended.
func (s *Store) Touch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE dialogs SET updated_at = $1 WHERE id = $2`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return checkUpdated(res, err, id)
}

func checkUpdated(res sql.Result, err error, id string) error {
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "update_dialog", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "update_dialog_rows", err)
	}
	if n == 0 {
		return agentserr.Newf(agentserr.KindNotFound, "dialog_not_found", "dialog %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDialog(row *sql.Row) (*models.Dialog, error) {
	return scanDialogGeneric(row)
}

func scanDialogRows(rows *sql.Rows) (*models.Dialog, error) {
	return scanDialogGeneric(rows)
}

func scanDialogGeneric(s rowScanner) (*models.Dialog, error) {
	var (
		d              models.Dialog
		title          sql.NullString
		createdAt      string
		updatedAt      string
		lastApprovedAt sql.NullString
	)
	if err := s.Scan(&d.ID, &title, &createdAt, &updatedAt, &d.ActiveSession, &d.InitialCheckpoint, &lastApprovedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, agentserr.New(agentserr.KindNotFound, "dialog_not_found", err)
		}
		return nil, agentserr.New(agentserr.KindInternal, "scan_dialog", err)
	}
	if title.Valid {
		d.Title = &title.String
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if lastApprovedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastApprovedAt.String)
		if err == nil {
			d.LastApprovedAt = &t
		}
	}
	return &d, nil
}
