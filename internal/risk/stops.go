package risk

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/money"
)

// Level sources recorded on traces, so every stop is attributable
const (
	LevelSourceStrategy = "strategy"
	LevelSourceATR      = "atr"
	LevelSourcePercent  = "percent"
)

// Levels is a derived stop-loss/take-profit pair for one entry candidate.
type Levels struct {
	StopLoss   float64
	TakeProfit float64
	Source     string
}

// StopModel derives protective levels in three tiers: strategy-supplied
// levels first, ATR distances second, fixed percentages last. The percent
// tier is config-gated; with it disabled an ATR-less candidate is rejected.
type StopModel struct {
	log zerolog.Logger
	cfg config.StopConfig

	// symbols that already logged the percent fallback this cycle
	fallbackLogged map[string]bool
}

// NewStopModel creates the stop model
func NewStopModel(cfg config.StopConfig, log zerolog.Logger) *StopModel {
	return &StopModel{
		log:            log.With().Str("component", "stops").Logger(),
		cfg:            cfg,
		fallbackLogged: make(map[string]bool),
	}
}

// ResetCycle clears the once-per-cycle fallback log guard
func (s *StopModel) ResetCycle() {
	s.fallbackLogged = make(map[string]bool)
}

// Derive returns protective levels for an entry at the given price. Both
// levels are snapped to the tick grid and pushed one tick off the entry
// when rounding lands them on it. A zero tick skips quantization.
func (s *StopModel) Derive(symbol string, side domain.Side, entry, strategySL, strategyTP float64, atr *float64, tick float64) (Levels, domain.RejectReason) {
	if entry <= 0 {
		return Levels{}, domain.RejectPriceOutOfRange
	}

	levels, ok := strategyLevels(side, entry, strategySL, strategyTP)
	if !ok {
		levels, ok = s.atrLevels(side, entry, atr)
	}
	if !ok {
		if !s.cfg.FallbackEnabled {
			return Levels{}, domain.RejectNoATRNoFallback
		}
		levels = s.percentLevels(symbol, side, entry)
	}

	return snapLevels(side, entry, levels, tick), domain.RejectNone
}

// strategyLevels accepts the strategy's own levels when both are present
// and bracket the entry on the correct sides
func strategyLevels(side domain.Side, entry, sl, tp float64) (Levels, bool) {
	if sl <= 0 || tp <= 0 {
		return Levels{}, false
	}
	if side == domain.SideBuy && !(sl < entry && tp > entry) {
		return Levels{}, false
	}
	if side == domain.SideSell && !(sl > entry && tp < entry) {
		return Levels{}, false
	}
	return Levels{StopLoss: sl, TakeProfit: tp, Source: LevelSourceStrategy}, true
}

func (s *StopModel) atrLevels(side domain.Side, entry float64, atr *float64) (Levels, bool) {
	if atr == nil || *atr <= 0 {
		return Levels{}, false
	}

	slDist := s.cfg.ATRMultSL * *atr
	tpDist := s.cfg.ATRMultTP * *atr
	lv := levelsFromDistances(side, entry, slDist, tpDist)
	lv.Source = LevelSourceATR
	if lv.StopLoss <= 0 || lv.TakeProfit <= 0 {
		// an outsized ATR pushed a level through zero; let the
		// percent tier produce something usable
		return Levels{}, false
	}
	return lv, true
}

func (s *StopModel) percentLevels(symbol string, side domain.Side, entry float64) Levels {
	slDist := math.Max(entry*s.cfg.FallbackSLPct, s.cfg.MinSLAbs)
	tpDist := math.Max(entry*s.cfg.FallbackSLPct*s.cfg.FallbackTPMult, s.cfg.MinTPAbs)

	if !s.fallbackLogged[symbol] {
		s.fallbackLogged[symbol] = true
		s.log.Warn().
			Str("symbol", symbol).
			Float64("sl_pct", s.cfg.FallbackSLPct).
			Float64("tp_mult", s.cfg.FallbackTPMult).
			Msg("STOP_FALLBACK")
	}

	lv := levelsFromDistances(side, entry, slDist, tpDist)
	lv.Source = LevelSourcePercent
	return lv
}

func levelsFromDistances(side domain.Side, entry, slDist, tpDist float64) Levels {
	if side == domain.SideBuy {
		return Levels{StopLoss: entry - slDist, TakeProfit: entry + tpDist}
	}
	return Levels{StopLoss: entry + slDist, TakeProfit: entry - tpDist}
}

// snapLevels rounds both levels to the tick grid and enforces that neither
// ends up on the entry itself
func snapLevels(side domain.Side, entry float64, lv Levels, tick float64) Levels {
	if tick <= 0 {
		return lv
	}

	if sl, err := money.QuantizePrice(lv.StopLoss, tick); err == nil {
		lv.StopLoss = sl
	}
	if tp, err := money.QuantizePrice(lv.TakeProfit, tick); err == nil {
		lv.TakeProfit = tp
	}

	away := tick
	if side == domain.SideSell {
		away = -tick
	}
	if math.Abs(lv.StopLoss-entry) < tick {
		lv.StopLoss = entry - away
	}
	if math.Abs(lv.TakeProfit-entry) < tick {
		lv.TakeProfit = entry + away
	}
	return lv
}
