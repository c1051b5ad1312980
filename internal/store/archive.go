package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// ArchiveSnapshot stores one cycle's serialized price snapshot. The payload
// is msgpack; the cycle_id primary key makes the write idempotent.
func (s *SQLStore) ArchiveSnapshot(sessionID, cycleID string, payload []byte) error {
	query := `
		INSERT OR REPLACE INTO snapshot_archive (cycle_id, session_id, payload, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, cycleID, sessionID, payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to archive snapshot: %w", err)
	}

	return nil
}

// GetArchivedSnapshot retrieves an archived snapshot payload, or nil when
// the cycle was never archived
func (s *SQLStore) GetArchivedSnapshot(cycleID string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(
		"SELECT payload FROM snapshot_archive WHERE cycle_id = ?", cycleID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archived snapshot: %w", err)
	}

	return payload, nil
}

// PruneSnapshots drops all but the newest keep archived snapshots for a
// session
func (s *SQLStore) PruneSnapshots(sessionID string, keep int) error {
	query := `
		DELETE FROM snapshot_archive
		WHERE session_id = ? AND cycle_id NOT IN (
			SELECT cycle_id FROM snapshot_archive
			WHERE session_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)
	`

	_, err := s.db.Exec(query, sessionID, sessionID, keep)
	if err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}

	return nil
}

// AppendEquityPoint records one equity curve sample
func (s *SQLStore) AppendEquityPoint(p *domain.EquityPoint) error {
	query := `
		INSERT INTO equity_history (session_id, cycle_id, equity, cash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Exec(query, p.SessionID, p.CycleID, p.Equity, p.Cash, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append equity point: %w", err)
	}

	return nil
}

// EquityHistory returns up to limit most recent equity samples, oldest first
func (s *SQLStore) EquityHistory(sessionID string, limit int) ([]domain.EquityPoint, error) {
	query := `
		SELECT session_id, cycle_id, equity, cash, created_at FROM (
			SELECT id, session_id, cycle_id, equity, cash, created_at
			FROM equity_history
			WHERE session_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`

	rows, err := s.db.Query(query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get equity history: %w", err)
	}
	defer rows.Close()

	var points []domain.EquityPoint
	for rows.Next() {
		var p domain.EquityPoint
		var createdAt int64

		if err := rows.Scan(&p.SessionID, &p.CycleID, &p.Equity, &p.Cash, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}

		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity history: %w", err)
	}

	return points, nil
}
