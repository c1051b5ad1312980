package store

import (
	"fmt"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// lotbookColumns is the list of columns for the lotbook table
// Column order must match scanLot()
const lotbookColumns = `id, session_id, symbol, strategy, trade_id, quantity, price, fee, created_at`

// SaveLot inserts a lot. The trade_id unique constraint makes the write
// idempotent; replaying a fill cannot create a second lot.
func (s *SQLStore) SaveLot(l *domain.Lot) error {
	if l.TradeID == "" {
		return fmt.Errorf("failed to save lot: empty trade_id")
	}

	query := `
		INSERT OR IGNORE INTO lotbook
		(session_id, symbol, strategy, trade_id, quantity, price, fee, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := s.db.Exec(query,
		l.SessionID,
		l.Symbol,
		l.Strategy,
		l.TradeID,
		l.Quantity,
		l.Price,
		l.Fee,
		createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save lot: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil && id > 0 {
		l.ID = id
	}

	return nil
}

// UpdateLot rewrites the remaining quantity and fee after a partial consume
func (s *SQLStore) UpdateLot(id int64, quantity, fee float64) error {
	result, err := s.db.Exec(
		"UPDATE lotbook SET quantity = ?, fee = ? WHERE id = ?",
		quantity, fee, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update lot: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check lot update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("failed to update lot %d: not found", id)
	}

	return nil
}

// DeleteLot removes a fully consumed lot
func (s *SQLStore) DeleteLot(id int64) error {
	_, err := s.db.Exec("DELETE FROM lotbook WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete lot: %w", err)
	}

	return nil
}

// ListLots returns all session lots in FIFO order (insertion order)
func (s *SQLStore) ListLots(sessionID string) ([]domain.Lot, error) {
	query := "SELECT " + lotbookColumns + " FROM lotbook WHERE session_id = ? ORDER BY id ASC"

	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	defer rows.Close()

	var lots []domain.Lot
	for rows.Next() {
		var l domain.Lot
		var createdAt int64

		err := rows.Scan(
			&l.ID,
			&l.SessionID,
			&l.Symbol,
			&l.Strategy,
			&l.TradeID,
			&l.Quantity,
			&l.Price,
			&l.Fee,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}

		l.CreatedAt = time.Unix(createdAt, 0).UTC()
		lots = append(lots, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}

	return lots, nil
}
