// Package risk turns entry candidates into sized, protected orders and
// guards the session while they are open: three-tier stop derivation,
// preflight checks, capped and sliced position sizing, the daily loss
// halt, and per-position exit trigger evaluation.
package risk

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/config"
)

// stopFracFloor bounds the stop distance fraction away from zero so the
// sizing division can never explode
const stopFracFloor = 1e-5

// Manager applies the sizing and preflight policy for entry candidates.
type Manager struct {
	log  zerolog.Logger
	risk config.RiskConfig
	exec config.ExecutionConfig
}

// NewManager creates the risk manager
func NewManager(risk config.RiskConfig, exec config.ExecutionConfig, log zerolog.Logger) *Manager {
	return &Manager{
		log:  log.With().Str("component", "risk").Logger(),
		risk: risk,
		exec: exec,
	}
}

// RiskReward returns |tp-entry| / |entry-sl|, or 0 when the ratio is
// undefined (any non-positive input, or a stop sitting on the entry).
func RiskReward(entry, sl, tp float64) float64 {
	if entry <= 0 || sl <= 0 || tp <= 0 {
		return 0
	}
	risk := math.Abs(entry - sl)
	if risk == 0 {
		return 0
	}
	return math.Abs(tp-entry) / risk
}

// stopFrac is the stop distance as a fraction of the entry price
func stopFrac(entry, sl float64) float64 {
	return math.Abs(entry-sl) / math.Max(entry, stopFracFloor)
}
