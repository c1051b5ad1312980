package engine

import (
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// Status is the engine snapshot reported by the HTTP API.
type Status struct {
	SessionID     string             `json:"session_id"`
	Mode          domain.TradingMode `json:"mode"`
	Symbols       []string           `json:"symbols"`
	CycleCount    int64              `json:"cycle_count"`
	LastCycleAt   *time.Time         `json:"last_cycle_at,omitempty"`
	LastCycleTook string             `json:"last_cycle_took,omitempty"`
	LastCycleErr  string             `json:"last_cycle_error,omitempty"`
	Halted        bool               `json:"halted"`
	RiskOn        bool               `json:"risk_on"`
	Equity        float64            `json:"equity"`
	Cash          float64            `json:"cash"`
	RealizedPnL   float64            `json:"realized_pnl"`
	OpenPositions int                `json:"open_positions"`
}

// Status reports the engine's current state. Safe for concurrent use.
func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{
		Symbols:      e.cfg.Engine.Symbols,
		CycleCount:   e.cycleCount,
		LastCycleErr: e.lastCycleErr,
		Halted:       e.halted,
		RiskOn:       e.riskOn,
	}
	if e.session != nil {
		st.SessionID = e.session.ID
		st.Mode = e.session.Mode
	}
	if !e.lastCycleAt.IsZero() {
		at := e.lastCycleAt
		st.LastCycleAt = &at
		st.LastCycleTook = e.lastCycleTook.String()
	}
	e.mu.RUnlock()

	st.Equity = e.pf.Equity()
	st.Cash = e.pf.Cash()
	st.RealizedPnL = e.pf.RealizedPnL()
	st.OpenPositions = len(e.pf.Positions())
	return st
}
