package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/pricing"
	"github.com/quartzline/rudder/internal/risk"
	"github.com/quartzline/rudder/internal/signals"
)

// evaluation is the full working state for one symbol in one cycle. The
// trace is always populated; cand is nil unless the symbol survived every
// pre-gate check.
type evaluation struct {
	symbol string
	trace  *domain.DecisionTrace
	cand   *candidate
	atr    *float64
}

// candidate is an entry that passed scoring, preflight and stop derivation
// and is waiting on the gate.
type candidate struct {
	symbol   string
	side     domain.Side
	strategy string
	score    float64 // normalized composite score, signed
	calib    signals.Calibration
	entry    float64
	levels   risk.Levels
	rr       float64
	rules    *domain.SymbolRules
	atr      *float64
	sizeMult float64
	pilot    bool
	explore  bool
	trace    *domain.DecisionTrace
}

// evaluateSymbols scores every snapshot symbol and builds gate candidates.
// Symbols that fail any pre-gate check get a SKIP trace with the reject
// reason; their mark still feeds exit management.
func (e *Engine) evaluateSymbols(ctx context.Context, session *domain.Session, cc *pricing.CycleContext, cycleID string, log zerolog.Logger) []*evaluation {
	evals := make([]*evaluation, 0, len(cc.Symbols()))
	for _, symbol := range cc.Symbols() {
		evals = append(evals, e.evaluateSymbol(ctx, session, cc, cycleID, symbol, log))
	}
	return evals
}

func (e *Engine) evaluateSymbol(ctx context.Context, session *domain.Session, cc *pricing.CycleContext, cycleID, symbol string, log zerolog.Logger) *evaluation {
	trace := &domain.DecisionTrace{
		Timestamp: time.Now().UTC(),
		CycleID:   cycleID,
		Symbol:    symbol,
		Action:    domain.ActionSkip,
		Regime:    domain.RegimeUnknown,
	}
	ev := &evaluation{symbol: symbol, trace: trace}

	mark, source, err := cc.Mark(cycleID, symbol)
	if err != nil {
		trace.RejectReason = domain.RejectDataUnavailable
		return ev
	}
	trace.MarkPrice = mark
	trace.MarkSource = source

	candles, err := e.data.OHLCV(ctx, symbol, e.cfg.Engine.Timeframe, e.cfg.Engine.HistoryBars)
	if err != nil || len(candles) == 0 {
		log.Warn().Str("symbol", symbol).Err(err).Msg("no candle history")
		trace.RejectReason = domain.RejectDataUnavailable
		return ev
	}

	reading := e.detector.Classify(symbol, candles)
	trace.Regime = reading.Regime
	if reading.ATR > 0 {
		atr := reading.ATR
		ev.atr = &atr
	}
	if reading.ATRRatio > 0 {
		e.detector.ObserveVolatility(symbol, reading.ATRRatio)
	}

	signal := e.scorer.Score(signals.Bars{
		Symbol:    symbol,
		Timeframe: e.cfg.Engine.Timeframe,
		Candles:   candles,
	})
	trace.Strategy = signal.Strategy
	trace.RawScore = signal.Score
	trace.Confidence = signal.Confidence

	calib, err := e.normalizer.Observe(session.ID, domain.WindowKey{
		Symbol:    symbol,
		Timeframe: e.cfg.Engine.Timeframe,
		Strategy:  signal.Strategy,
	}, signal.Score)
	if err != nil {
		log.Error().Str("symbol", symbol).Err(err).Msg("score window update failed")
		trace.RejectReason = domain.RejectDataUnavailable
		return ev
	}
	trace.WinningScore = calib.NormalizedScore

	if reading.Regime == domain.RegimeUnknown {
		trace.RejectReason = domain.RejectWarmup
		return ev
	}

	floor := e.detector.FloorFor(reading)
	if math.Abs(calib.NormalizedScore) < floor.Score {
		trace.RejectReason = domain.RejectRegimeFloor
		return ev
	}

	side := domain.SideBuy
	if calib.NormalizedScore < 0 {
		side = domain.SideSell
	}

	entry, err := cc.Entry(cycleID, symbol)
	if err != nil {
		trace.RejectReason = domain.RejectDataUnavailable
		return ev
	}

	rules, err := e.conn.Rules(ctx, symbol)
	if err != nil {
		log.Warn().Str("symbol", symbol).Err(err).Msg("no venue rules")
		trace.RejectReason = domain.RejectDataUnavailable
		return ev
	}

	levels, reject := e.stops.Derive(symbol, side, entry, signal.StopLoss, signal.TakeProfit, ev.atr, rules.TickSize)
	if reject != domain.RejectNone {
		trace.RejectReason = reject
		return ev
	}
	trace.StopLoss = levels.StopLoss
	trace.TakeProfit = levels.TakeProfit

	pos := e.pf.Position(symbol, signal.Strategy)
	if reject := e.riskMgr.Preflight(risk.PreflightRequest{
		Side:     side,
		Entry:    entry,
		StopLoss: levels.StopLoss,
		Position: pos,
		Rules:    rules,
	}); reject != domain.RejectNone {
		trace.RejectReason = reject
		return ev
	}

	rr := risk.RiskReward(entry, levels.StopLoss, levels.TakeProfit)
	trace.RiskReward = rr
	if rr < floor.RR {
		trace.RejectReason = domain.RejectRRTooLow
		return ev
	}

	ev.cand = &candidate{
		symbol:   symbol,
		side:     side,
		strategy: signal.Strategy,
		score:    calib.NormalizedScore,
		calib:    calib,
		entry:    entry,
		levels:   levels,
		rr:       rr,
		rules:    rules,
		atr:      ev.atr,
		sizeMult: 1,
		trace:    trace,
	}
	return ev
}

// gate admits candidates for execution. A halted session admits nothing.
// Threshold mode compares each candidate against its calibrated gate;
// top_k mode ranks by absolute score and admits the best K above the hard
// floor. When the gate admits nothing the pilot and exploration fallbacks
// may still promote one reduced-size entry.
func (e *Engine) gate(session *domain.Session, evals []*evaluation, halted bool, log zerolog.Logger) []*candidate {
	if halted {
		for _, ev := range evals {
			ev.trace.RejectReason = domain.RejectDailyLossHalt
			ev.trace.Action = domain.ActionSkip
			ev.cand = nil
		}
		return nil
	}

	var pool []*candidate
	for _, ev := range evals {
		if ev.cand != nil {
			pool = append(pool, ev.cand)
		}
	}
	if len(pool) == 0 {
		return nil
	}

	var admitted []*candidate
	switch e.cfg.Gate.Mode {
	case "top_k":
		admitted = e.gateTopK(pool)
	default:
		admitted = e.gateThreshold(pool)
	}

	if len(admitted) == 0 {
		if pick := e.pilotFallback(pool, log); pick != nil {
			admitted = append(admitted, pick)
		}
	}
	if len(admitted) == 0 {
		if pick := e.explorationFallback(session, pool, log); pick != nil {
			admitted = append(admitted, pick)
		}
	}

	for _, cand := range admitted {
		cand.trace.Action = actionFor(cand.side)
		cand.trace.Pilot = cand.pilot
	}
	return admitted
}

func (e *Engine) gateThreshold(pool []*candidate) []*candidate {
	var admitted []*candidate
	for _, cand := range pool {
		gate := e.effectiveGate(cand.calib.EffectiveThreshold)
		cand.trace.EffectiveGate = gate
		if math.Abs(cand.score) >= gate {
			admitted = append(admitted, cand)
		} else {
			cand.trace.RejectReason = domain.RejectBelowGate
		}
	}
	return admitted
}

func (e *Engine) gateTopK(pool []*candidate) []*candidate {
	floor := e.detector.RiskOnFloor(e.cfg.Gate.HardFloorMin)

	ranked := make([]*candidate, len(pool))
	copy(ranked, pool)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].score) > math.Abs(ranked[j].score)
	})

	var admitted []*candidate
	for _, cand := range ranked {
		cand.trace.EffectiveGate = floor
		if len(admitted) < e.cfg.Gate.TopK && math.Abs(cand.score) >= floor {
			admitted = append(admitted, cand)
		} else {
			cand.trace.RejectReason = domain.RejectBelowGate
		}
	}
	return admitted
}

// effectiveGate relaxes the calibrated threshold by the configured margin
// but never below the hard floor. The risk-on window can lower the floor.
func (e *Engine) effectiveGate(threshold float64) float64 {
	floor := e.detector.RiskOnFloor(e.cfg.Gate.HardFloorMin)
	gate := threshold - e.cfg.Gate.ThresholdMargin
	if gate < floor {
		gate = floor
	}
	return gate
}

// pilotFallback promotes the best rejected candidate at reduced size when
// it lands within striking distance of the gate and has enough reward.
func (e *Engine) pilotFallback(pool []*candidate, log zerolog.Logger) *candidate {
	if !e.cfg.Pilot.Enabled {
		return nil
	}

	var best *candidate
	for _, cand := range pool {
		if best == nil || math.Abs(cand.score) > math.Abs(best.score) {
			best = cand
		}
	}
	if best == nil {
		return nil
	}

	pilotGate := math.Max(best.trace.EffectiveGate-0.05, e.cfg.Pilot.Gate)
	if math.Abs(best.score) < pilotGate || best.rr < e.cfg.Pilot.RRMin {
		return nil
	}

	best.pilot = true
	best.sizeMult = e.cfg.Pilot.SizeMult
	best.trace.RejectReason = domain.RejectNone
	log.Info().
		Str("symbol", best.symbol).
		Float64("score", best.score).
		Float64("pilot_gate", pilotGate).
		Msg("pilot entry promoted")
	return best
}

func actionFor(side domain.Side) domain.FinalAction {
	if side == domain.SideBuy {
		return domain.ActionBuy
	}
	return domain.ActionSell
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
