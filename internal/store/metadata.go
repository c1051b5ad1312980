package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetMetadata retrieves a session metadata value, or nil when the key is
// not set
func (s *SQLStore) GetMetadata(sessionID, key string) (*string, error) {
	var value string
	err := s.db.QueryRow(
		"SELECT value FROM session_metadata WHERE session_id = ? AND key = ?",
		sessionID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata %s: %w", key, err)
	}

	return &value, nil
}

// SetMetadata writes a session metadata value
func (s *SQLStore) SetMetadata(sessionID, key, value string) error {
	query := `
		INSERT INTO session_metadata (session_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query, sessionID, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}

	return nil
}

// DeleteMetadata removes a session metadata key
func (s *SQLStore) DeleteMetadata(sessionID, key string) error {
	_, err := s.db.Exec(
		"DELETE FROM session_metadata WHERE session_id = ? AND key = ?",
		sessionID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete metadata %s: %w", key, err)
	}

	return nil
}
