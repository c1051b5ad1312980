package analytics

import (
	"fmt"
	"time"
)

// DailyMetric is one UTC day's aggregated trading result.
type DailyMetric struct {
	Date        string  `json:"date"`
	SessionID   string  `json:"session_id"`
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	GrossPnL    float64 `json:"gross_pnl"`
	Fees        float64 `json:"fees"`
	NetPnL      float64 `json:"net_pnl"`
	WinRate     float64 `json:"win_rate"`
	EquityClose float64 `json:"equity_close"`
}

// Rollup aggregates one UTC day's ledger rows into daily_metrics. Running
// it again for the same day replaces the row, so the nightly job and a
// manual re-run cannot disagree.
func (s *Service) Rollup(sessionID string, day time.Time, equityClose float64) (*DailyMetric, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	m := DailyMetric{
		Date:        dayStart.Format("2006-01-02"),
		SessionID:   sessionID,
		EquityClose: equityClose,
	}

	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN realized_pnl > 1e-9 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN realized_pnl < -1e-9 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(realized_pnl), 0),
		       COALESCE(SUM(fees), 0)
		FROM trade_ledger
		WHERE session_id = ? AND executed_at >= ? AND executed_at < ?`,
		sessionID, dayStart.Unix(), dayEnd.Unix(),
	).Scan(&m.Trades, &m.Wins, &m.Losses, &m.GrossPnL, &m.Fees)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate day %s: %w", m.Date, err)
	}

	// Net subtracts the day's full fee drag. Entry fees surface again
	// inside realized P&L when their lots close, so net is conservative
	// when a lot closes on a later day.
	m.NetPnL = m.GrossPnL - m.Fees
	if decided := m.Wins + m.Losses; decided > 0 {
		m.WinRate = float64(m.Wins) / float64(decided)
	}

	_, err = s.db.Exec(`
		INSERT INTO daily_metrics
			(date, session_id, trades, wins, losses, gross_pnl, fees, net_pnl, win_rate, equity_close, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, session_id) DO UPDATE SET
			trades = excluded.trades,
			wins = excluded.wins,
			losses = excluded.losses,
			gross_pnl = excluded.gross_pnl,
			fees = excluded.fees,
			net_pnl = excluded.net_pnl,
			win_rate = excluded.win_rate,
			equity_close = excluded.equity_close`,
		m.Date, sessionID, m.Trades, m.Wins, m.Losses,
		m.GrossPnL, m.Fees, m.NetPnL, m.WinRate, equityClose, time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to write daily metrics for %s: %w", m.Date, err)
	}

	s.log.Info().
		Str("session_id", sessionID).
		Str("date", m.Date).
		Int("trades", m.Trades).
		Float64("net_pnl", m.NetPnL).
		Float64("win_rate", m.WinRate).
		Float64("equity_close", equityClose).
		Msg("DAILY_ROLLUP")

	return &m, nil
}

// DailySeries returns a session's daily rollups, oldest first
func (s *Service) DailySeries(sessionID string) ([]DailyMetric, error) {
	rows, err := s.db.Query(`
		SELECT date, session_id, trades, wins, losses, gross_pnl, fees, net_pnl, win_rate, equity_close
		FROM daily_metrics
		WHERE session_id = ?
		ORDER BY date ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily metrics: %w", err)
	}
	defer rows.Close()

	var series []DailyMetric
	for rows.Next() {
		var m DailyMetric
		if err := rows.Scan(
			&m.Date, &m.SessionID, &m.Trades, &m.Wins, &m.Losses,
			&m.GrossPnL, &m.Fees, &m.NetPnL, &m.WinRate, &m.EquityClose,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}
		series = append(series, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily metrics: %w", err)
	}

	return series, nil
}
