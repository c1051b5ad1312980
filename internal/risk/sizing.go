package risk

import (
	"math"

	"github.com/quartzline/rudder/internal/domain"
)

// SizeRequest describes one preflighted entry candidate. Deployed is the
// gross notional across all open positions, SymbolDeployed the share
// already held in this symbol. RiskPct arrives resolved (risk-on may have
// raised it); SizeMult scales the target for pilot and exploration entries
// and is ignored when zero.
type SizeRequest struct {
	Symbol         string
	Side           domain.Side
	Entry          float64
	StopLoss       float64
	Equity         float64
	Deployed       float64
	SymbolDeployed float64
	RiskPct        float64
	SizeMult       float64
}

// SizePlan is the sized, capped and sliced entry. Slices hold per-child
// notional and sum to TargetNotional; the order builder quantizes each.
type SizePlan struct {
	RiskDollars    float64
	StopFrac       float64
	TargetNotional float64
	Quantity       float64
	CapReason      string
	Slices         []float64
}

// Size turns a candidate into an entry plan. The target risks
// equity*RiskPct against the stop distance, then session and symbol caps
// clamp it; the binding cap is recorded so traces can explain the size.
func (m *Manager) Size(req SizeRequest) (*SizePlan, domain.RejectReason) {
	if req.Entry <= 0 {
		return nil, domain.RejectPriceOutOfRange
	}
	if req.Equity <= 0 {
		return nil, domain.RejectBudgetExhausted
	}

	riskDollars := req.Equity * req.RiskPct
	frac := math.Max(stopFrac(req.Entry, req.StopLoss), stopFracFloor)
	target := riskDollars / frac

	m.log.Debug().
		Str("symbol", req.Symbol).
		Float64("risk_dollars", riskDollars).
		Float64("stop_frac", frac).
		Float64("target", target).
		Msg("RISK_SIZING")

	target, capReason := m.applyCaps(target, req)
	if target <= 0 {
		return nil, domain.RejectBudgetExhausted
	}

	// The multiplier scales the final capped capital so a reduced entry
	// stays reduced even when a cap binds the full-size target
	if req.SizeMult > 0 {
		target *= req.SizeMult
	}

	// Below the venue-viable minimum the plan sends one minimum slice,
	// unless a cap is what put it there
	if target < m.exec.MinSliceNotional {
		if capReason != domain.CapReasonNone {
			return nil, domain.RejectBudgetExhausted
		}
		target = m.exec.MinSliceNotional
	}

	plan := &SizePlan{
		RiskDollars:    riskDollars,
		StopFrac:       frac,
		TargetNotional: target,
		Quantity:       target / req.Entry,
		CapReason:      capReason,
		Slices:         m.sliceNotional(target),
	}

	m.log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("equity", req.Equity).
		Float64("risk_pct", req.RiskPct).
		Float64("notional", plan.TargetNotional).
		Float64("quantity", plan.Quantity).
		Str("cap_reason", plan.CapReason).
		Int("slices", len(plan.Slices)).
		Msg("POSITION_SIZE")

	return plan, domain.RejectNone
}

// applyCaps clamps the target notional and names the binding cap
func (m *Manager) applyCaps(target float64, req SizeRequest) (float64, string) {
	capReason := domain.CapReasonNone

	if m.risk.MaxNotionalPct > 0 {
		if cap := m.risk.MaxNotionalPct * req.Equity; target > cap {
			target = cap
			capReason = domain.CapReasonMaxNotional
		}
	}
	if m.risk.PerSymbolCapPct > 0 {
		cap := math.Max(0, m.risk.PerSymbolCapPct*req.Equity-req.SymbolDeployed)
		if target > cap {
			target = cap
			capReason = domain.CapReasonPerSymbol
		}
	}
	if m.risk.SessionCapPct > 0 {
		headroom := math.Max(0, m.risk.SessionCapPct*req.Equity-req.Deployed)
		if target > headroom {
			target = headroom
			capReason = domain.CapReasonSessionCap
		}
	}

	return target, capReason
}

// sliceNotional splits the target evenly into at most MaxSlicesPerOrder
// children of roughly DefaultSliceNotional each, never below the minimum
func (m *Manager) sliceNotional(target float64) []float64 {
	n := int(math.Ceil(target / m.exec.DefaultSliceNotional))
	if n < 1 {
		n = 1
	}
	if n > m.exec.MaxSlicesPerOrder {
		n = m.exec.MaxSlicesPerOrder
	}

	per := target / float64(n)
	if per < m.exec.MinSliceNotional && n > 1 {
		n = int(target / m.exec.MinSliceNotional)
		if n < 1 {
			n = 1
		}
		per = target / float64(n)
	}

	slices := make([]float64, n)
	for i := range slices {
		slices[i] = per
	}
	return slices
}
