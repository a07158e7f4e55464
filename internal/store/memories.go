package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Memory is a durable fact remembered about a user. At most one live
// value exists per (user_id, key); a later write with the same key
// overwrites the value and refreshes the timestamp.
type Memory struct {
	UserID    uuid.UUID `json:"user_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Context   string    `json:"context,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetMemory upserts a memory fact with last-write-wins semantics.
func (s *Store) SetMemory(userID uuid.UUID, key, value, context string) (*Memory, error) {
	now := time.Now().UTC()

	var ctxVal sql.NullString
	if context != "" {
		ctxVal = sql.NullString{String: context, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO memories (user_id, key, value, context, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE
		SET value = excluded.value, context = excluded.context, updated_at = excluded.updated_at
	`, userID.String(), key, value, ctxVal, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("set memory %s: %w", key, err)
	}

	return &Memory{
		UserID:    userID,
		Key:       key,
		Value:     value,
		Context:   context,
		UpdatedAt: now,
	}, nil
}

// GetMemory retrieves a single memory fact. Returns ErrNotFound when
// the key has never been set.
func (s *Store) GetMemory(userID uuid.UUID, key string) (*Memory, error) {
	row := s.db.QueryRow(`
		SELECT user_id, key, value, context, updated_at
		FROM memories WHERE user_id = ? AND key = ?
	`, userID.String(), key)

	var m Memory
	var userStr, updatedStr string
	var ctxVal sql.NullString

	err := row.Scan(&userStr, &m.Key, &m.Value, &ctxVal, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}

	m.UserID, _ = uuid.Parse(userStr)
	if ctxVal.Valid {
		m.Context = ctxVal.String
	}
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &m, nil
}

// GetAllMemories returns a user's memory facts, newest first.
func (s *Store) GetAllMemories(userID uuid.UUID) ([]*Memory, error) {
	rows, err := s.db.Query(`
		SELECT user_id, key, value, context, updated_at
		FROM memories WHERE user_id = ?
		ORDER BY updated_at DESC
	`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		var m Memory
		var userStr, updatedStr string
		var ctxVal sql.NullString

		if err := rows.Scan(&userStr, &m.Key, &m.Value, &ctxVal, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.UserID, _ = uuid.Parse(userStr)
		if ctxVal.Valid {
			m.Context = ctxVal.String
		}
		m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
		memories = append(memories, &m)
	}
	return memories, rows.Err()
}

// DeleteMemory removes a memory fact. No error if the key was absent.
func (s *Store) DeleteMemory(userID uuid.UUID, key string) error {
	_, err := s.db.Exec(`DELETE FROM memories WHERE user_id = ? AND key = ?`,
		userID.String(), key)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", key, err)
	}
	return nil
}
