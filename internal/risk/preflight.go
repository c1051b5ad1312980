package risk

import (
	"github.com/quartzline/rudder/internal/domain"
)

// PreflightRequest carries everything the pre-order entry checks need.
// Position is the current exposure for the candidate's (symbol, strategy),
// nil when flat.
type PreflightRequest struct {
	Side     domain.Side
	Entry    float64
	StopLoss float64
	Position *domain.Position
	Rules    *domain.SymbolRules
}

// Preflight validates an entry candidate before any order is built. It
// returns RejectNone when the candidate may proceed to sizing.
func (m *Manager) Preflight(req PreflightRequest) domain.RejectReason {
	if req.Entry <= 0 {
		return domain.RejectPriceOutOfRange
	}

	// A sell with no long exposure opens or extends a short, which needs
	// both the global switch and the venue's per-symbol permission
	if req.Side == domain.SideSell && !isLong(req.Position) {
		if !m.risk.AllowShort {
			return domain.RejectShortNotEnabled
		}
		if req.Rules == nil || !req.Rules.ShortEnabled {
			return domain.RejectShortNotEnabled
		}
	}

	if stopFrac(req.Entry, req.StopLoss) < m.risk.MinStopFrac {
		return domain.RejectInvalidStop
	}

	return domain.RejectNone
}

func isLong(p *domain.Position) bool {
	return p != nil && p.Quantity > 0
}
