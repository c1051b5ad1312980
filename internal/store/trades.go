package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// tradesColumns is the list of columns for the trades table
// Column order must match scanTrade()
const tradesColumns = `id, session_id, trade_id, order_id, cycle_id, symbol, strategy, side, quantity, price, fees, realized_pnl, reason, executed_at, created_at`

// SaveTrade inserts an executed trade. Duplicate trade IDs are skipped so a
// replayed fill never double-counts.
func (s *SQLStore) SaveTrade(t *domain.Trade) error {
	if t.TradeID == "" {
		return fmt.Errorf("failed to save trade: empty trade_id")
	}

	exists, err := s.TradeExists(t.TradeID)
	if err != nil {
		return fmt.Errorf("failed to check for existing trade: %w", err)
	}
	if exists {
		s.log.Debug().
			Str("trade_id", t.TradeID).
			Msg("Trade already recorded, skipping duplicate")
		return nil
	}

	query := `
		INSERT INTO trades
		(session_id, trade_id, order_id, cycle_id, symbol, strategy, side,
		 quantity, price, fees, realized_pnl, reason, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	executedAt := t.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}

	_, err = s.db.Exec(query,
		t.SessionID,
		t.TradeID,
		t.OrderID,
		t.CycleID,
		t.Symbol,
		t.Strategy,
		string(t.Side),
		t.Quantity,
		t.Price,
		t.Fees,
		t.RealizedPnL,
		nullString(t.Reason),
		executedAt.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}

	s.log.Info().
		Str("trade_id", t.TradeID).
		Str("symbol", t.Symbol).
		Str("side", string(t.Side)).
		Float64("quantity", t.Quantity).
		Float64("price", t.Price).
		Msg("Trade saved")

	return nil
}

// TradeExists checks if a trade with the given trade_id already exists
func (s *SQLStore) TradeExists(tradeID string) (bool, error) {
	var exists int
	err := s.db.QueryRow("SELECT 1 FROM trades WHERE trade_id = ? LIMIT 1", tradeID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check trade existence: %w", err)
	}

	return true, nil
}

// ListTrades retrieves session trades, most recent first
func (s *SQLStore) ListTrades(sessionID string, limit int) ([]domain.Trade, error) {
	query := `
		SELECT ` + tradesColumns + ` FROM trades
		WHERE session_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// ListTradesSince retrieves session trades executed at or after the given
// time, oldest first. Used by the daily loss check and analytics rollups.
func (s *SQLStore) ListTradesSince(sessionID string, since time.Time) ([]domain.Trade, error) {
	query := `
		SELECT ` + tradesColumns + ` FROM trades
		WHERE session_id = ? AND executed_at >= ?
		ORDER BY executed_at ASC, id ASC
	`

	rows, err := s.db.Query(query, sessionID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list trades since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

func scanTrade(row rowScanner) (*domain.Trade, error) {
	var t domain.Trade
	var side string
	var reason sql.NullString
	var executedAt, createdAt int64

	err := row.Scan(
		&t.ID,
		&t.SessionID,
		&t.TradeID,
		&t.OrderID,
		&t.CycleID,
		&t.Symbol,
		&t.Strategy,
		&side,
		&t.Quantity,
		&t.Price,
		&t.Fees,
		&t.RealizedPnL,
		&reason,
		&executedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	t.Side = domain.Side(side)
	if reason.Valid {
		t.Reason = reason.String
	}
	t.ExecutedAt = time.Unix(executedAt, 0).UTC()
	t.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &t, nil
}
