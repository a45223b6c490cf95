package storage

import (
	"database/sql"
	"time"
)

// SetSessionValue upserts a session-state key.
func (s *Store) SetSessionValue(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO session_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, toMillis(time.Now()),
	)
	return err
}

// GetSessionValue reads a session-state key. Returns ErrNotFound when the
// key was never set.
func (s *Store) GetSessionValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM session_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// DeleteSessionValue removes a session-state key. Deleting an absent key is
// a no-op.
func (s *Store) DeleteSessionValue(key string) error {
	_, err := s.db.Exec(`DELETE FROM session_state WHERE key = ?`, key)
	return err
}
