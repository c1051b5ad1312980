package analytics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary is the profit picture over a session's full ledger. The risk
// statistics come from the daily rollup series and stay zero until at
// least two days have been rolled up.
type Summary struct {
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	GrossPnL     float64 `json:"gross_pnl"`
	Fees         float64 `json:"fees"`
	NetPnL       float64 `json:"net_pnl"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	VaR95        float64 `json:"var_95"`
}

// Summary aggregates ledger and rollup statistics for a session
func (s *Service) Summary(sessionID string) (*Summary, error) {
	sum := &Summary{}

	var grossWin, grossLoss float64
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN realized_pnl > 1e-9 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN realized_pnl < -1e-9 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(realized_pnl), 0),
		       COALESCE(SUM(fees), 0),
		       COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN realized_pnl ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN -realized_pnl ELSE 0 END), 0)
		FROM trade_ledger
		WHERE session_id = ?`, sessionID,
	).Scan(&sum.Trades, &sum.Wins, &sum.Losses, &sum.GrossPnL, &sum.Fees, &grossWin, &grossLoss)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ledger: %w", err)
	}

	sum.NetPnL = sum.GrossPnL - sum.Fees
	if decided := sum.Wins + sum.Losses; decided > 0 {
		sum.WinRate = float64(sum.Wins) / float64(decided)
	}
	if sum.Wins > 0 {
		sum.AvgWin = grossWin / float64(sum.Wins)
	}
	if sum.Losses > 0 {
		sum.AvgLoss = grossLoss / float64(sum.Losses)
	}
	// Profit factor is undefined without losing trades; it reports zero
	// until the first loss lands.
	if grossLoss > 0 {
		sum.ProfitFactor = grossWin / grossLoss
	}

	series, err := s.DailySeries(sessionID)
	if err != nil {
		return nil, err
	}
	returns := dailyReturns(series)
	sum.Sharpe = sharpe(returns)
	sum.MaxDrawdown = maxDrawdown(series)
	sum.VaR95 = valueAtRisk(returns, 0.95)

	return sum, nil
}

// dailyReturns derives day-over-day equity returns from the rollup series
func dailyReturns(series []DailyMetric) []float64 {
	var out []float64
	for i := 1; i < len(series); i++ {
		prev := series[i-1].EquityClose
		if prev <= 0 {
			continue
		}
		out = append(out, (series[i].EquityClose-prev)/prev)
	}
	return out
}

// sharpe annualizes the mean over the sample deviation of daily returns.
// Crypto venues trade every day, so a year is 365 periods.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(365)
}

// maxDrawdown returns the largest peak-to-trough equity loss fraction
func maxDrawdown(series []DailyMetric) float64 {
	var peak, maxDD float64
	for _, m := range series {
		if m.EquityClose > peak {
			peak = m.EquityClose
		}
		if peak > 0 {
			dd := (peak - m.EquityClose) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// valueAtRisk returns the daily loss fraction not exceeded at the given
// confidence, as a positive number. Zero when the history is too short or
// has no losing days.
func valueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	q := stat.Quantile(1-confidence, stat.Empirical, sorted, nil)
	if q < 0 {
		return -q
	}
	return 0
}
