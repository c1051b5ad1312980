package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// positionsColumns is the list of columns for the positions table
// Column order must match scanPosition()
const positionsColumns = `id, session_id, symbol, strategy, quantity, avg_entry_price, current_price, opened_at, updated_at`

// GetPosition retrieves one position. Returns ErrPositionNotFound when the
// (symbol, strategy) pair has no row in the session.
func (s *SQLStore) GetPosition(sessionID, symbol, strategy string) (*domain.Position, error) {
	query := "SELECT " + positionsColumns + " FROM positions WHERE session_id = ? AND symbol = ? AND strategy = ?"

	pos, err := scanPosition(s.db.QueryRow(query, sessionID, symbol, strategy))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	return pos, nil
}

// ListPositions returns all open positions in the session
func (s *SQLStore) ListPositions(sessionID string) ([]domain.Position, error) {
	query := "SELECT " + positionsColumns + " FROM positions WHERE session_id = ? ORDER BY symbol, strategy"

	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// UpsertPosition inserts or replaces the position row for the
// (session, symbol, strategy) key
func (s *SQLStore) UpsertPosition(p *domain.Position) error {
	query := `
		INSERT INTO positions (session_id, symbol, strategy, quantity, avg_entry_price, current_price, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, symbol, strategy) DO UPDATE SET
			quantity = excluded.quantity,
			avg_entry_price = excluded.avg_entry_price,
			current_price = excluded.current_price,
			updated_at = excluded.updated_at
	`

	openedAt := p.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now()
	}

	_, err := s.db.Exec(query,
		p.SessionID,
		p.Symbol,
		p.Strategy,
		p.Quantity,
		p.AvgEntryPrice,
		p.CurrentPrice,
		openedAt.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	return nil
}

// DeletePosition removes a position row after the position closes to zero
func (s *SQLStore) DeletePosition(sessionID, symbol, strategy string) error {
	_, err := s.db.Exec(
		"DELETE FROM positions WHERE session_id = ? AND symbol = ? AND strategy = ?",
		sessionID, symbol, strategy,
	)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}

	return nil
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var pos domain.Position
	var openedAt, updatedAt int64

	err := row.Scan(
		&pos.ID,
		&pos.SessionID,
		&pos.Symbol,
		&pos.Strategy,
		&pos.Quantity,
		&pos.AvgEntryPrice,
		&pos.CurrentPrice,
		&openedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	pos.OpenedAt = time.Unix(openedAt, 0).UTC()
	pos.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &pos, nil
}
