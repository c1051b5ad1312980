package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/pricing"
)

// RunCycle executes one full decision cycle: seal a snapshot, mark open
// positions, evaluate entries, manage exits, reconcile and archive. Errors
// before the snapshot abort the cycle; later stages log and continue so a
// single bad symbol cannot wedge exit management.
func (e *Engine) RunCycle(ctx context.Context) error {
	session := e.Session()
	if session == nil {
		return fmt.Errorf("failed to run cycle: engine not bootstrapped")
	}

	start := time.Now().UTC()
	cycleID := uuid.New().String()
	log := e.log.With().Str("cycle_id", cycleID).Logger()

	e.mu.Lock()
	e.cycleCount++
	seq := e.cycleCount
	e.mu.Unlock()

	log.Info().Int64("cycle", seq).Msg("cycle start")

	halted, err := e.halt.Evaluate(session.ID, session.InitialCash, e.pf.Equity(), start)
	if err != nil {
		log.Error().Err(err).Msg("halt evaluation failed, treating cycle as halted")
		halted = true
	}
	e.met.SetHalted(halted)
	e.mu.Lock()
	e.halted = halted
	e.mu.Unlock()

	e.stops.ResetCycle()

	cc, err := e.snapshots.CreateSnapshot(ctx, cycleID, e.cfg.Engine.Symbols)
	if err != nil {
		e.met.CyclesTotal.WithLabelValues("snapshot_failed").Inc()
		e.finishCycle(start, err)
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer func() {
		e.met.SnapshotHits.Add(float64(cc.Hits()))
		e.met.SnapshotMisses.Add(float64(cc.Misses()))
		if cerr := e.snapshots.ClearSnapshot(cc); cerr != nil {
			log.Error().Err(cerr).Msg("failed to clear snapshot")
		}
	}()
	e.met.SnapshotSymbols.Set(float64(len(cc.Symbols())))

	e.refreshMarks(cc, cycleID, log)

	evals := e.evaluateSymbols(ctx, session, cc, cycleID, log)
	admitted := e.gate(session, evals, halted, log)

	for _, cand := range admitted {
		if err := e.executeEntry(ctx, session, cc, cand, log); err != nil {
			log.Error().Err(err).Str("symbol", cand.symbol).Msg("entry execution failed")
		}
	}

	for _, ev := range evals {
		e.recordTrace(ev.trace, log)
	}

	e.manageExits(ctx, session, cc, cycleID, evals, log)

	equity, err := e.pf.Reconcile(cycleID)
	if err != nil {
		e.met.EquityDrift.Inc()
		log.Error().Err(err).Msg("reconciliation failed")
	}

	e.archiveSnapshot(session.ID, cycleID, cc, log)

	e.detector.EndCycle()
	e.publishGauges(equity)
	e.met.CyclesTotal.WithLabelValues("ok").Inc()
	e.met.CycleNumber.Set(float64(seq))
	e.finishCycle(start, nil)

	log.Info().
		Int64("cycle", seq).
		Dur("took", time.Since(start)).
		Int("evaluated", len(evals)).
		Int("admitted", len(admitted)).
		Float64("equity", equity).
		Msg("cycle complete")
	return nil
}

// refreshMarks reprices every open position from the sealed snapshot.
// Symbols missing from the snapshot keep their previous mark.
func (e *Engine) refreshMarks(cc *pricing.CycleContext, cycleID string, log zerolog.Logger) {
	positions := e.pf.Positions()
	if len(positions) == 0 {
		return
	}

	marks := make(map[string]float64, len(positions))
	for _, pos := range positions {
		if _, ok := marks[pos.Symbol]; ok {
			continue
		}
		mark, _, err := cc.Mark(cycleID, pos.Symbol)
		if err != nil {
			log.Warn().Str("symbol", pos.Symbol).Err(err).Msg("no mark for open position, keeping stale price")
			continue
		}
		marks[pos.Symbol] = mark
	}
	if len(marks) == 0 {
		return
	}
	if _, err := e.pf.MarkPositions(marks); err != nil {
		log.Error().Err(err).Msg("failed to mark positions")
	}
}

// archiveSnapshot persists the sealed snapshot for replay when archiving
// is enabled, then prunes beyond the retention window.
func (e *Engine) archiveSnapshot(sessionID, cycleID string, cc *pricing.CycleContext, log zerolog.Logger) {
	if !e.cfg.Storage.ArchiveSnapshots {
		return
	}

	payload, err := pricing.EncodeSnapshot(cc.Snapshot())
	if err != nil {
		log.Error().Err(err).Msg("failed to encode snapshot archive")
		return
	}
	if err := e.st.ArchiveSnapshot(sessionID, cycleID, payload); err != nil {
		log.Error().Err(err).Msg("failed to archive snapshot")
		return
	}
	if keep := e.cfg.Storage.ArchiveKeepCycles; keep > 0 {
		if err := e.st.PruneSnapshots(sessionID, keep); err != nil {
			log.Error().Err(err).Msg("failed to prune snapshot archive")
		}
	}
}

func (e *Engine) publishGauges(equity float64) {
	riskOn := e.detector.RiskOn()
	e.met.Equity.Set(equity)
	e.met.Cash.Set(e.pf.Cash())
	e.met.OpenPositions.Set(float64(len(e.pf.Positions())))
	e.met.RealizedPnL.Set(e.pf.RealizedPnL())
	e.met.SetRiskOn(riskOn)

	e.mu.Lock()
	e.riskOn = riskOn
	e.mu.Unlock()
}

func (e *Engine) finishCycle(start time.Time, err error) {
	took := time.Since(start)
	e.met.CycleDuration.Observe(took.Seconds())

	e.mu.Lock()
	e.lastCycleAt = start
	e.lastCycleTook = took
	if err != nil {
		e.lastCycleErr = err.Error()
	} else {
		e.lastCycleErr = ""
	}
	e.mu.Unlock()
}

// recordTrace emits the structured DECISION_TRACE line for one evaluation
func (e *Engine) recordTrace(tr *domain.DecisionTrace, log zerolog.Logger) {
	if tr == nil {
		return
	}
	e.met.ObserveDecision(string(tr.Action), string(tr.RejectReason))

	log.Info().
		Str("event", "DECISION_TRACE").
		Str("symbol", tr.Symbol).
		Str("strategy", tr.Strategy).
		Str("regime", string(tr.Regime)).
		Str("action", string(tr.Action)).
		Str("reject_reason", string(tr.RejectReason)).
		Str("mark_source", tr.MarkSource).
		Float64("mark_price", round4(tr.MarkPrice)).
		Float64("raw_score", round4(tr.RawScore)).
		Float64("winning_score", round4(tr.WinningScore)).
		Float64("effective_gate", round4(tr.EffectiveGate)).
		Float64("confidence", round4(tr.Confidence)).
		Float64("stop_loss", round4(tr.StopLoss)).
		Float64("take_profit", round4(tr.TakeProfit)).
		Float64("risk_reward", round4(tr.RiskReward)).
		Float64("quantity", round6(tr.Quantity)).
		Float64("notional", round4(tr.Notional)).
		Str("cap_reason", tr.CapReason).
		Str("order_id", tr.OrderID).
		Bool("pilot", tr.Pilot).
		Msg("decision")
}
