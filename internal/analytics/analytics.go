// Package analytics maintains the reporting database: a mirror of executed
// trades, daily rollups and profit statistics. It is rebuildable from the
// state database; losing it never loses money, so writes here are never
// allowed to fail a trading cycle.
package analytics

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, analytics connection only
	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/database"
	"github.com/quartzline/rudder/internal/domain"
)

// Service owns the analytics database connection.
type Service struct {
	log zerolog.Logger
	db  *sql.DB
}

// New opens the analytics database at the given path and applies its
// schema. The connection is capped to a single writer; every query this
// package runs is short.
func New(path string, log zerolog.Logger) (*Service, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema, err := database.SchemaSQL("analytics")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load analytics schema: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply analytics schema: %w", err)
	}

	return &Service{
		log: log.With().Str("component", "analytics").Logger(),
		db:  db,
	}, nil
}

// Close releases the database connection
func (s *Service) Close() error {
	return s.db.Close()
}

// RecordTrade mirrors a committed trade into the ledger. Re-recording the
// same trade ID is a no-op, so the engine can retry safely.
func (s *Service) RecordTrade(t *domain.Trade) error {
	if t == nil {
		return fmt.Errorf("failed to record trade: nil trade")
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO trade_ledger
			(session_id, trade_id, cycle_id, symbol, strategy, side, quantity, price, fees, realized_pnl, reason, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID,
		t.TradeID,
		t.CycleID,
		t.Symbol,
		t.Strategy,
		string(t.Side),
		t.Quantity,
		t.Price,
		t.Fees,
		t.RealizedPnL,
		t.Reason,
		t.ExecutedAt.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record trade %s: %w", t.TradeID, err)
	}

	return nil
}

// TradeCount returns the number of ledger rows for a session
func (s *Service) TradeCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM trade_ledger WHERE session_id = ?", sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}
