package dialogstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// AppendFileEdit records one tool-driven file write in the append-only
// audit trail, gzip-compressing the unified diff before storage.
func (s *Store) AppendFileEdit(ctx context.Context, rec *models.FileEditRecord) error {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(rec.Diff)); err != nil {
		return agentserr.New(agentserr.KindInternal, "append_file_edit_gzip", err)
	}
	if err := gw.Close(); err != nil {
		return agentserr.New(agentserr.KindInternal, "append_file_edit_gzip_close", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_edits (dialog_id, file_path, diff_gzip, checkpoint_id, message_idx, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.DialogID, rec.FilePath, buf.Bytes(), rec.CheckpointID, rec.MessageIdx, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "append_file_edit", err)
	}
	return nil
}

// ListFileEdits returns the most recent file edits for a dialog, newest
// first, with diffs decompressed.
func (s *Store) ListFileEdits(ctx context.Context, dialogID string, limit int) ([]models.FileEditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT dialog_id, file_path, diff_gzip, checkpoint_id, message_idx, created_at
		FROM file_edits WHERE dialog_id = $1 ORDER BY created_at DESC LIMIT $2
	`, dialogID, limit)
	if err != nil {
		return nil, agentserr.New(agentserr.KindInternal, "list_file_edits", err)
	}
	defer rows.Close()

	var out []models.FileEditRecord
	for rows.Next() {
		var (
			rec       models.FileEditRecord
			gzipped   []byte
			createdAt string
		)
		if err := rows.Scan(&rec.DialogID, &rec.FilePath, &gzipped, &rec.CheckpointID, &rec.MessageIdx, &createdAt); err != nil {
			return nil, agentserr.New(agentserr.KindInternal, "scan_file_edit", err)
		}
		diff, err := gunzip(gzipped)
		if err != nil {
			return nil, agentserr.New(agentserr.KindInternal, "decompress_file_edit", err)
		}
		rec.Diff = diff
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func gunzip(data []byte) (string, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
