package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// sessionsColumns is the list of columns for the sessions table
// Column order must match scanSession()
const sessionsColumns = `id, mode, status, initial_cash, created_at, ended_at`

// CreateSession inserts a new session row
func (s *SQLStore) CreateSession(sess *domain.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("failed to create session: empty id")
	}

	query := `
		INSERT INTO sessions (id, mode, status, initial_cash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		sess.ID,
		string(sess.Mode),
		sess.Status,
		sess.InitialCash,
		sess.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	s.log.Info().
		Str("session_id", sess.ID).
		Str("mode", string(sess.Mode)).
		Float64("initial_cash", sess.InitialCash).
		Msg("Session created")

	return nil
}

// GetSession retrieves a session by ID. Returns ErrSessionNotFound when the
// session does not exist.
func (s *SQLStore) GetSession(id string) (*domain.Session, error) {
	query := "SELECT " + sessionsColumns + " FROM sessions WHERE id = ?"

	sess, err := scanSession(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return sess, nil
}

// GetActiveSession returns the most recently created session that is still
// active or halted, or ErrSessionNotFound when none exists.
func (s *SQLStore) GetActiveSession() (*domain.Session, error) {
	query := `
		SELECT ` + sessionsColumns + ` FROM sessions
		WHERE status IN (?, ?)
		ORDER BY created_at DESC
		LIMIT 1
	`

	sess, err := scanSession(s.db.QueryRow(query, domain.SessionActive, domain.SessionHalted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}

	return sess, nil
}

// UpdateSessionStatus changes the session lifecycle state
func (s *SQLStore) UpdateSessionStatus(id, status string) error {
	result, err := s.db.Exec("UPDATE sessions SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check session update: %w", err)
	}
	if affected == 0 {
		return domain.ErrSessionNotFound
	}

	s.log.Info().Str("session_id", id).Str("status", status).Msg("Session status updated")
	return nil
}

// EndSession marks a session ended and stamps the end time
func (s *SQLStore) EndSession(id string) error {
	result, err := s.db.Exec(
		"UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?",
		domain.SessionEnded, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check session end: %w", err)
	}
	if affected == 0 {
		return domain.ErrSessionNotFound
	}

	s.log.Info().Str("session_id", id).Msg("Session ended")
	return nil
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var mode string
	var createdAt int64
	var endedAt sql.NullInt64

	err := row.Scan(
		&sess.ID,
		&mode,
		&sess.Status,
		&sess.InitialCash,
		&createdAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Mode = domain.TradingMode(mode)
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0).UTC()
		sess.EndedAt = &t
	}

	return &sess, nil
}
