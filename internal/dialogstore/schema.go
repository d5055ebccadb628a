package dialogstore

const schemaDDL = `
CREATE TABLE IF NOT EXISTS dialogs (
	id                 TEXT PRIMARY KEY,
	title              TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	active_session     TEXT NOT NULL,
	initial_checkpoint TEXT NOT NULL,
	last_approved_at   TEXT
);

CREATE TABLE IF NOT EXISTS messages (
	dialog_id     TEXT NOT NULL,
	idx           INTEGER NOT NULL,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	checkpoint_id TEXT,
	session_name  TEXT,
	tool_calls    TEXT,
	tool_result   TEXT,
	PRIMARY KEY (dialog_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_messages_dialog ON messages (dialog_id, idx);

CREATE TABLE IF NOT EXISTS reasoning_blocks (
	dialog_id  TEXT NOT NULL,
	msg_idx    INTEGER NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (dialog_id, msg_idx)
);

CREATE TABLE IF NOT EXISTS tool_results (
	dialog_id    TEXT NOT NULL,
	tool_call_id TEXT NOT NULL,
	tool_name    TEXT NOT NULL,
	status       TEXT NOT NULL,
	full_json    BLOB NOT NULL,
	size_bytes   INTEGER NOT NULL,
	created_at   TEXT NOT NULL,
	pruned       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (dialog_id, tool_call_id)
);

CREATE TABLE IF NOT EXISTS summaries (
	dialog_id        TEXT PRIMARY KEY,
	content          TEXT NOT NULL,
	covers_up_to_idx INTEGER NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_edits (
	dialog_id     TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	diff_gzip     BLOB NOT NULL,
	checkpoint_id TEXT NOT NULL,
	message_idx   INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_edits_dialog ON file_edits (dialog_id, created_at);
`
