package portfolio

import (
	"fmt"
	"math"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// equityEpsilon is the tolerance for equity comparisons: one currency unit
// or one basis point of equity, whichever is larger.
func equityEpsilon(equity float64) float64 {
	return math.Max(1.0, 0.0001*math.Abs(equity))
}

// MarkPositions revalues every open position at the given per-symbol marks
// and persists the updated rows. A position whose symbol has no usable mark
// keeps its last valuation, falling back to its entry price if it was never
// valued. Returns the equity after revaluation.
func (p *Portfolio) MarkPositions(marks map[string]float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pos := range p.positions {
		mark, ok := marks[pos.Symbol]
		switch {
		case ok && mark > 0:
			pos.CurrentPrice = mark
		case pos.CurrentPrice <= 0:
			pos.CurrentPrice = pos.AvgEntryPrice
			p.log.Warn().
				Str("symbol", pos.Symbol).
				Str("strategy", pos.Strategy).
				Float64("entry", pos.AvgEntryPrice).
				Msg("no mark for position, valuing at entry")
		default:
			p.log.Warn().
				Str("symbol", pos.Symbol).
				Str("strategy", pos.Strategy).
				Float64("last_mark", pos.CurrentPrice).
				Msg("no mark for position, keeping last valuation")
		}
		pos.UpdatedAt = time.Now().UTC()
		if err := p.st.UpsertPosition(pos); err != nil {
			return p.balance.Equity, fmt.Errorf("failed to persist mark for %s: %w", pos.Key(), err)
		}
	}

	p.balance.PreviousEquity = p.balance.Equity
	p.balance.Equity = p.equityLocked()
	p.balance.UnrealizedPnL = p.unrealizedLocked()
	return p.balance.Equity, nil
}

// Reconcile recomputes equity from components at the end of a cycle and
// compares it against the tracked value. Drift beyond the tolerance means
// some path updated a component without going through the transaction
// guards; the recomputed value replaces the tracked one for the first few
// occurrences, after which the drift is only logged. The reconciled
// balance is persisted and a point is appended to the equity curve.
func (p *Portfolio) Reconcile(cycleID string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	recomputed := p.equityLocked()
	drift := recomputed - p.balance.Equity

	if math.Abs(drift) > equityEpsilon(p.balance.Equity) {
		if p.reconcileAttempts < maxReconcileAttempts {
			p.reconcileAttempts++
			p.log.Warn().
				Str("cycle_id", cycleID).
				Float64("tracked", p.balance.Equity).
				Float64("recomputed", recomputed).
				Float64("drift", drift).
				Float64("cash", p.balance.Cash).
				Float64("positions_value", p.positionsValueLocked()).
				Float64("realized", p.balance.RealizedPnL).
				Int("attempt", p.reconcileAttempts).
				Msg("EQUITY_DRIFT_DETECTED")
			p.balance.PreviousEquity = p.balance.Equity
			p.balance.Equity = recomputed
		} else {
			p.log.Error().
				Str("cycle_id", cycleID).
				Float64("tracked", p.balance.Equity).
				Float64("recomputed", recomputed).
				Float64("drift", drift).
				Msg("equity drift persists after repeated corrections, keeping tracked value")
		}
	} else {
		p.balance.PreviousEquity = p.balance.Equity
		p.balance.Equity = recomputed
	}
	p.balance.UnrealizedPnL = p.unrealizedLocked()

	if err := p.st.SaveCashEquity(&p.balance); err != nil {
		return p.balance.Equity, fmt.Errorf("failed to save reconciled balance: %w", err)
	}

	point := &domain.EquityPoint{
		CreatedAt: time.Now().UTC(),
		SessionID: p.sessionID,
		CycleID:   cycleID,
		Equity:    p.balance.Equity,
		Cash:      p.balance.Cash,
	}
	if err := p.st.AppendEquityPoint(point); err != nil {
		return p.balance.Equity, fmt.Errorf("failed to append equity point: %w", err)
	}

	return p.balance.Equity, nil
}
