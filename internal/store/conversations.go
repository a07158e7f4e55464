package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Turn is one persisted (message, response) exchange, tagged with the
// agent that produced it. Turns are append-only; the core never mutates
// a past turn.
type Turn struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Agent     string         `json:"agent"`
	Message   string         `json:"message"`
	Response  string         `json:"response"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AddConversation appends a turn to a user's history.
func (s *Store) AddConversation(userID uuid.UUID, agent, message, response string, metadata map[string]any) (*Turn, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	var metaJSON sql.NullString
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO conversations (id, user_id, agent, message, response, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id.String(), userID.String(), agent, message, response, metaJSON, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return &Turn{
		ID:        id,
		UserID:    userID,
		Agent:     agent,
		Message:   message,
		Response:  response,
		Metadata:  metadata,
		CreatedAt: now,
	}, nil
}

// GetConversationHistory returns a user's most recent turns, newest
// first. If agent is non-empty, only that agent's turns are returned.
func (s *Store) GetConversationHistory(userID uuid.UUID, limit int, agent string) ([]*Turn, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, user_id, agent, message, response, metadata, created_at
		FROM conversations WHERE user_id = ?`
	args := []any{userID.String()}
	if agent != "" {
		query += ` AND agent = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func scanTurn(rows *sql.Rows) (*Turn, error) {
	var t Turn
	var idStr, userStr, createdStr string
	var meta sql.NullString

	err := rows.Scan(&idStr, &userStr, &t.Agent, &t.Message, &t.Response, &meta, &createdStr)
	if err != nil {
		return nil, fmt.Errorf("scan turn: %w", err)
	}

	t.ID, _ = uuid.Parse(idStr)
	t.UserID, _ = uuid.Parse(userStr)
	if meta.Valid && meta.String != "" {
		// Metadata is advisory; a corrupt blob should not hide the turn.
		_ = json.Unmarshal([]byte(meta.String), &t.Metadata)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &t, nil
}
