package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/execution"
	"github.com/quartzline/rudder/internal/pricing"
	"github.com/quartzline/rudder/internal/risk"
)

// explorationState is the UTC-day budget for forced below-gate entries.
// Persisted in session metadata so restarts keep the count honest.
type explorationState struct {
	ForcedCount  int     `json:"forced_count"`
	UsedNotional float64 `json:"used_notional"`
}

func explorationKey(now time.Time) string {
	return "exploration:" + now.UTC().Format("2006-01-02")
}

func (e *Engine) explorationState(sessionID string, now time.Time) (explorationState, error) {
	var state explorationState
	val, err := e.st.GetMetadata(sessionID, explorationKey(now))
	if err != nil {
		return state, fmt.Errorf("failed to load exploration state: %w", err)
	}
	if val == nil {
		return state, nil
	}
	if err := json.Unmarshal([]byte(*val), &state); err != nil {
		return state, fmt.Errorf("failed to decode exploration state: %w", err)
	}
	return state, nil
}

func (e *Engine) saveExplorationState(sessionID string, now time.Time, state explorationState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode exploration state: %w", err)
	}
	return e.st.SetMetadata(sessionID, explorationKey(now), string(payload))
}

// explorationFallback forces the best otherwise-rejected candidate through
// at reduced size with a tightened stop, within the daily count budget.
// The notional budget is enforced at sizing time when the size is known.
func (e *Engine) explorationFallback(session *domain.Session, pool []*candidate, log zerolog.Logger) *candidate {
	if !e.cfg.Exploration.Enabled {
		return nil
	}

	now := time.Now().UTC()
	state, err := e.explorationState(session.ID, now)
	if err != nil {
		log.Error().Err(err).Msg("exploration state unavailable, skipping fallback")
		return nil
	}
	if state.ForcedCount >= e.cfg.Exploration.MaxForcedPerDay {
		return nil
	}

	var best *candidate
	for _, cand := range pool {
		if math.Abs(cand.score) < e.cfg.Exploration.MinScore {
			continue
		}
		if best == nil || math.Abs(cand.score) > math.Abs(best.score) {
			best = cand
		}
	}
	if best == nil {
		return nil
	}

	if mult := e.cfg.Exploration.TighterStopMult; mult > 0 && mult < 1 {
		dist := math.Abs(best.entry-best.levels.StopLoss) * mult
		if best.side == domain.SideBuy {
			best.levels.StopLoss = best.entry - dist
		} else {
			best.levels.StopLoss = best.entry + dist
		}
		best.levels.Source = best.levels.Source + "_tightened"
		best.rr = risk.RiskReward(best.entry, best.levels.StopLoss, best.levels.TakeProfit)
		best.trace.StopLoss = best.levels.StopLoss
		best.trace.RiskReward = best.rr
	}

	best.explore = true
	best.sizeMult = e.cfg.Exploration.SizeMult
	best.trace.RejectReason = domain.RejectNone
	log.Info().
		Str("symbol", best.symbol).
		Float64("score", best.score).
		Int("forced_today", state.ForcedCount).
		Msg("exploration entry forced")
	return best
}

// executeEntry sizes, slices and submits one admitted candidate, then
// applies fills to the portfolio. Fresh exposure gets position metadata
// and a take-profit ladder of resting reduce-only orders.
func (e *Engine) executeEntry(ctx context.Context, session *domain.Session, cc *pricing.CycleContext, cand *candidate, log zerolog.Logger) error {
	trace := cand.trace

	riskPct := e.detector.RiskPct(e.cfg.Risk.RiskPct)
	plan, reject := e.riskMgr.Size(risk.SizeRequest{
		Symbol:         cand.symbol,
		Side:           cand.side,
		Entry:          cand.entry,
		StopLoss:       cand.levels.StopLoss,
		Equity:         e.pf.Equity(),
		Deployed:       e.pf.Deployed(),
		SymbolDeployed: e.pf.SymbolDeployed(cand.symbol),
		RiskPct:        riskPct,
		SizeMult:       cand.sizeMult,
	})
	if reject != domain.RejectNone {
		trace.Action = domain.ActionSkip
		trace.RejectReason = reject
		return nil
	}
	trace.Quantity = plan.Quantity
	trace.Notional = plan.TargetNotional
	trace.CapReason = plan.CapReason

	now := time.Now().UTC()
	if cand.explore {
		state, err := e.explorationState(session.ID, now)
		if err != nil {
			return err
		}
		budget := e.pf.Equity() * e.cfg.Exploration.BudgetPctPerDay
		if state.UsedNotional+plan.TargetNotional > budget {
			trace.Action = domain.ActionSkip
			trace.RejectReason = domain.RejectBudgetExhausted
			return nil
		}
	}

	reason := "entry"
	switch {
	case cand.pilot:
		reason = "pilot_entry"
	case cand.explore:
		reason = "exploration_entry"
	}

	meta := domain.OrderMetadata{
		CycleID:    cc.CycleID(),
		Strategy:   cand.strategy,
		Reason:     reason,
		CapReason:  plan.CapReason,
		Score:      cand.score,
		StopLoss:   cand.levels.StopLoss,
		TakeProfit: cand.levels.TakeProfit,
		RiskReward: cand.rr,
		Pilot:      cand.pilot,
	}

	var filledNotional float64
	for i, sliceNotional := range plan.Slices {
		// Only the first slice may bump to venue minimums; bumping every
		// slice would compound past the sized notional.
		maxRetries := 0
		if i == 0 {
			maxRetries = 1
		}

		order, reject := e.builder.Build(execution.BuildRequest{
			SessionID:   session.ID,
			Symbol:      cand.symbol,
			Side:        cand.side,
			Type:        domain.OrderTypeMarket,
			TimeInForce: domain.TimeInForceIOC,
			Quantity:    sliceNotional / cand.entry,
			Price:       cand.entry,
			MaxRetries:  maxRetries,
			Metadata:    meta,
			Rules:       cand.rules,
		})
		if reject != domain.RejectNone {
			if i == 0 {
				trace.Action = domain.ActionSkip
				trace.RejectReason = reject
				return nil
			}
			log.Warn().
				Str("symbol", cand.symbol).
				Int("slice", i).
				Str("reason", string(reject)).
				Msg("trailing slice rejected, keeping filled portion")
			break
		}

		mark, _, err := cc.Mark(cc.CycleID(), cand.symbol)
		if err != nil {
			return fmt.Errorf("failed to price slice for %s: %w", cand.symbol, err)
		}
		fill, err := e.orders.Submit(ctx, order, mark)
		if err != nil {
			if i == 0 {
				trace.Action = domain.ActionSkip
				trace.RejectReason = domain.RejectDataUnavailable
			}
			return fmt.Errorf("failed to submit entry for %s: %w", cand.symbol, err)
		}
		if fill == nil {
			continue
		}
		trace.OrderID = order.ID

		res, err := e.pf.ApplyFill(fill)
		if err != nil {
			return fmt.Errorf("failed to apply entry fill for %s: %w", cand.symbol, err)
		}
		if res.Duplicate {
			continue
		}
		filledNotional += math.Abs(fill.Quantity * fill.Price)
		e.met.Fills.WithLabelValues(string(fill.Side)).Inc()
		e.met.FeesPaid.Add(fill.Fee)

		if res.Trade != nil {
			if err := e.ledger.RecordTrade(res.Trade); err != nil {
				log.Error().Err(err).Str("trade_id", res.Trade.TradeID).Msg("analytics record failed")
			}
		}

		if res.OpenedExposure {
			if err := e.armPosition(session.ID, cc.CycleID(), cand, now, log); err != nil {
				log.Error().Err(err).Str("symbol", cand.symbol).Msg("failed to arm position")
			}
		}
	}

	if cand.explore && filledNotional > 0 {
		state, err := e.explorationState(session.ID, now)
		if err != nil {
			return err
		}
		state.ForcedCount++
		state.UsedNotional += filledNotional
		if err := e.saveExplorationState(session.ID, now, state); err != nil {
			log.Error().Err(err).Msg("failed to persist exploration budget")
		}
	}
	return nil
}

// armPosition writes protective metadata and places the TP ladder for a
// position that just gained fresh exposure.
func (e *Engine) armPosition(sessionID, cycleID string, cand *candidate, now time.Time, log zerolog.Logger) error {
	pos := e.pf.Position(cand.symbol, cand.strategy)
	if pos == nil || pos.IsFlat() {
		return nil
	}

	meta := &domain.PositionMeta{
		EntryTime:     now,
		StopLoss:      cand.levels.StopLoss,
		TakeProfit:    cand.levels.TakeProfit,
		HighWatermark: pos.AvgEntryPrice,
		LowWatermark:  pos.AvgEntryPrice,
		BaseQuantity:  math.Abs(pos.Quantity),
	}
	if err := e.pf.SaveMeta(cand.symbol, cand.strategy, meta); err != nil {
		return fmt.Errorf("failed to save position meta: %w", err)
	}

	orders, err := e.orders.PlaceLadder(sessionID, cycleID, pos, cand.rules)
	if err != nil {
		return fmt.Errorf("failed to place ladder: %w", err)
	}
	if len(orders) > 0 {
		log.Info().
			Str("symbol", cand.symbol).
			Int("levels", len(orders)).
			Msg("take-profit ladder placed")
	}
	return nil
}

// manageExits runs protective exit evaluation for every open position.
// Each position gets at most one exit per cycle; fills flow through the
// portfolio like any other and a full close clears the metadata.
func (e *Engine) manageExits(ctx context.Context, session *domain.Session, cc *pricing.CycleContext, cycleID string, evals []*evaluation, log zerolog.Logger) {
	atrBySymbol := make(map[string]*float64, len(evals))
	for _, ev := range evals {
		atrBySymbol[ev.symbol] = ev.atr
	}
	now := time.Now().UTC()

	for _, snapshot := range e.pf.Positions() {
		pos := snapshot
		if pos.IsFlat() {
			continue
		}

		mark, _, err := cc.Mark(cycleID, pos.Symbol)
		if err != nil {
			log.Warn().Str("symbol", pos.Symbol).Err(err).Msg("skipping exit check, no mark")
			continue
		}

		meta, err := e.pf.Meta(pos.Symbol, pos.Strategy)
		if err != nil {
			log.Error().Str("symbol", pos.Symbol).Err(err).Msg("failed to load position meta")
			continue
		}
		if meta != nil {
			if mark > meta.HighWatermark {
				meta.HighWatermark = mark
			}
			if meta.LowWatermark == 0 || mark < meta.LowWatermark {
				meta.LowWatermark = mark
			}
			meta.BarsHeld++
			if err := e.pf.SaveMeta(pos.Symbol, pos.Strategy, meta); err != nil {
				log.Error().Str("symbol", pos.Symbol).Err(err).Msg("failed to update position meta")
			}
		}

		rules, err := e.conn.Rules(ctx, pos.Symbol)
		if err != nil {
			log.Warn().Str("symbol", pos.Symbol).Err(err).Msg("skipping exit check, no rules")
			continue
		}

		entrySide := domain.SideBuy
		if pos.Quantity < 0 {
			entrySide = domain.SideSell
		}
		exitPx, err := cc.ExitValue(cycleID, pos.Symbol, entrySide)
		if err != nil {
			exitPx = 0 // no side quote this cycle, exits execute at the mark
		}

		fill, err := e.orders.ManageExit(ctx, session.ID, &pos, execution.ExitContext{
			CycleID: cycleID,
			Mark:    mark,
			Exit:    exitPx,
			ATR:     atrBySymbol[pos.Symbol],
			Meta:    meta,
			Rules:   rules,
			Now:     now,
		})
		if err != nil {
			log.Error().Str("symbol", pos.Symbol).Err(err).Msg("exit management failed")
			continue
		}
		if fill == nil {
			continue
		}

		res, err := e.pf.ApplyFill(fill)
		if err != nil {
			log.Error().Str("symbol", pos.Symbol).Err(err).Msg("failed to apply exit fill")
			continue
		}
		if res.Duplicate {
			continue
		}
		e.met.Fills.WithLabelValues(string(fill.Side)).Inc()
		e.met.FeesPaid.Add(fill.Fee)

		if res.Trade != nil {
			if err := e.ledger.RecordTrade(res.Trade); err != nil {
				log.Error().Err(err).Str("trade_id", res.Trade.TradeID).Msg("analytics record failed")
			}
		}

		if after := e.pf.Position(pos.Symbol, pos.Strategy); after == nil || after.IsFlat() {
			if err := e.pf.DeleteMeta(pos.Symbol, pos.Strategy); err != nil {
				log.Error().Str("symbol", pos.Symbol).Err(err).Msg("failed to clear position meta")
			}
		}

		log.Info().
			Str("event", "EXIT_FILL").
			Str("symbol", pos.Symbol).
			Str("strategy", pos.Strategy).
			Str("reason", fill.Reason).
			Float64("quantity", round6(fill.Quantity)).
			Float64("price", round4(fill.Price)).
			Float64("realized", round4(res.RealizedDelta)).
			Msg("protective exit filled")
	}
}
