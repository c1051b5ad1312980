// Package store persists session state: sessions, positions, trades, cash,
// the lot book and session metadata. The SQL implementation is the source
// of truth; the memory implementation backs tests.
package store

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/domain"
)

// Store is the persistence surface used by the portfolio and engine layers.
// All reads and writes are scoped to a session.
type Store interface {
	// Sessions
	CreateSession(s *domain.Session) error
	GetSession(id string) (*domain.Session, error)
	GetActiveSession() (*domain.Session, error)
	UpdateSessionStatus(id, status string) error
	EndSession(id string) error

	// Positions
	GetPosition(sessionID, symbol, strategy string) (*domain.Position, error)
	ListPositions(sessionID string) ([]domain.Position, error)
	UpsertPosition(p *domain.Position) error
	DeletePosition(sessionID, symbol, strategy string) error

	// Cash and equity
	GetCashEquity(sessionID string) (*domain.CashEquity, error)
	SaveCashEquity(ce *domain.CashEquity) error

	// Trades
	SaveTrade(t *domain.Trade) error
	TradeExists(tradeID string) (bool, error)
	ListTrades(sessionID string, limit int) ([]domain.Trade, error)
	ListTradesSince(sessionID string, since time.Time) ([]domain.Trade, error)

	// Lot book
	SaveLot(l *domain.Lot) error
	UpdateLot(id int64, quantity, fee float64) error
	DeleteLot(id int64) error
	ListLots(sessionID string) ([]domain.Lot, error)

	// Session metadata (JSON values keyed by string)
	GetMetadata(sessionID, key string) (*string, error)
	SetMetadata(sessionID, key, value string) error
	DeleteMetadata(sessionID, key string) error

	// Rolling score windows, keyed by (symbol, timeframe, strategy)
	AppendScore(sessionID string, key domain.WindowKey, score float64) error
	RecentScores(sessionID string, key domain.WindowKey, limit int) ([]float64, error)
	PruneScores(sessionID string, key domain.WindowKey, keep int) error

	// Snapshot archive
	ArchiveSnapshot(sessionID, cycleID string, payload []byte) error
	GetArchivedSnapshot(cycleID string) ([]byte, error)
	PruneSnapshots(sessionID string, keep int) error

	// Equity curve
	AppendEquityPoint(p *domain.EquityPoint) error
	EquityHistory(sessionID string, limit int) ([]domain.EquityPoint, error)
}

// SQLStore implements Store on the state database.
type SQLStore struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ Store = (*SQLStore)(nil)

// New creates a store backed by the given state database connection
func New(db *sql.DB, log zerolog.Logger) *SQLStore {
	return &SQLStore{
		db:  db,
		log: log.With().Str("repo", "state").Logger(),
	}
}

// Helper functions shared by the per-entity files

// rowScanner lets one scan function serve sql.Row and sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
