package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// User is a registered account. The core never deletes users.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Preferences  string    `json:"preferences,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CreateUser registers a new user with a pre-hashed password.
func (s *Store) CreateUser(username, passwordHash string) (*User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.Exec(`
		INSERT INTO users (id, username, password_hash, preferences, created_at)
		VALUES (?, ?, ?, '', ?)
	`, id.String(), username, passwordHash, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(id uuid.UUID) (*User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, username, password_hash, preferences, created_at
		FROM users WHERE id = ?
	`, id.String()))
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(username string) (*User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, username, password_hash, preferences, created_at
		FROM users WHERE username = ?
	`, username))
}

// VerifyPassword checks a plaintext password against the stored hash.
func (s *Store) VerifyPassword(username, password string) (bool, error) {
	u, err := s.GetUserByUsername(username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil, nil
}

// UpdatePreferences replaces a user's free-form preferences blob.
func (s *Store) UpdatePreferences(id uuid.UUID, preferences string) error {
	res, err := s.db.Exec(`UPDATE users SET preferences = ? WHERE id = ?`,
		preferences, id.String())
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	var idStr, createdStr string
	var prefs sql.NullString

	err := row.Scan(&idStr, &u.Username, &u.PasswordHash, &prefs, &createdStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.ID, _ = uuid.Parse(idStr)
	if prefs.Valid {
		u.Preferences = prefs.String
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	return &u, nil
}
