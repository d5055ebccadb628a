// Package dialogstore persists AgentSmithy's per-dialog message history,
// reasoning traces, out-of-band tool results, and file-edit audit trail in
// messages.sqlite, backed by modernc.org/sqlite.
package dialogstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed persistence layer for one project's dialogs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the messages.sqlite database at path
// and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open dialogstore: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite write serialization; reads share the same connection

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply dialogstore schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
