// Package store provides SQLite persistence for users, conversation
// turns, memory facts, and tasks.
package store

import (
	"database/sql"
	"fmt"
)

// Store manages all persisted assistant state. It wraps an injected
// *sql.DB so callers choose the driver (mattn/go-sqlite3 in production,
// modernc.org/sqlite in tests). SQLite serializes conflicting writes;
// all public methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// New creates a store on an existing database connection and runs
// migrations.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Open creates a store at the given database path using the registered
// "sqlite3" driver.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		preferences   TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		agent      TEXT NOT NULL,
		message    TEXT NOT NULL,
		response   TEXT NOT NULL,
		metadata   TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS memories (
		user_id    TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		context    TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(user_id, updated_at DESC);

	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		title        TEXT NOT NULL,
		description  TEXT,
		priority     TEXT NOT NULL DEFAULT 'medium',
		status       TEXT NOT NULL DEFAULT 'pending',
		due_date     TEXT,
		created_at   TEXT NOT NULL,
		completed_at TEXT,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, status);
	`
	_, err := s.db.Exec(schema)
	return err
}
