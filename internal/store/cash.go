package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// GetCashEquity retrieves the latest balance row for the session, or nil
// when the session has none yet
func (s *SQLStore) GetCashEquity(sessionID string) (*domain.CashEquity, error) {
	query := `
		SELECT session_id, cash, equity, previous_equity, realized_pnl, unrealized_pnl, fees_paid, updated_at
		FROM cash_equity WHERE session_id = ?
		ORDER BY id DESC LIMIT 1
	`

	var ce domain.CashEquity
	var updatedAt int64

	err := s.db.QueryRow(query, sessionID).Scan(
		&ce.SessionID,
		&ce.Cash,
		&ce.Equity,
		&ce.PreviousEquity,
		&ce.RealizedPnL,
		&ce.UnrealizedPnL,
		&ce.FeesPaid,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cash equity: %w", err)
	}

	ce.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &ce, nil
}

// SaveCashEquity appends a balance row for the session; the table keeps
// the full history and reads return the newest row. The caller verifies
// the write by reading back (CASH_SAVE_VERIFIED).
func (s *SQLStore) SaveCashEquity(ce *domain.CashEquity) error {
	query := `
		INSERT INTO cash_equity (session_id, cash, equity, previous_equity, realized_pnl, unrealized_pnl, fees_paid, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		ce.SessionID,
		ce.Cash,
		ce.Equity,
		ce.PreviousEquity,
		ce.RealizedPnL,
		ce.UnrealizedPnL,
		ce.FeesPaid,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save cash equity: %w", err)
	}

	return nil
}
