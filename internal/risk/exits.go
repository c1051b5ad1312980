package risk

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
)

// ExitPlanner evaluates protective triggers for open positions, one
// position at a time, in priority order: stop loss, take profit, time
// stop, chandelier trail, profit ladder. The first trigger wins; at most
// one action is emitted per position per cycle.
type ExitPlanner struct {
	log zerolog.Logger
	cfg config.ExitsConfig
}

// NewExitPlanner creates the exit trigger evaluator
func NewExitPlanner(cfg config.ExitsConfig, log zerolog.Logger) *ExitPlanner {
	return &ExitPlanner{
		log: log.With().Str("component", "exits").Logger(),
		cfg: cfg,
	}
}

// Evaluate returns the highest-priority exit for the position at the
// current mark, or nil when nothing triggered. taken holds ladder rung
// indexes already executed for this position.
func (p *ExitPlanner) Evaluate(pos *domain.Position, meta *domain.PositionMeta, mark float64, atr *float64, taken map[int]bool, now time.Time) *domain.ExitAction {
	if pos == nil || pos.IsFlat() || mark <= 0 {
		return nil
	}
	if meta == nil {
		meta = &domain.PositionMeta{}
	}

	long := pos.IsLong()
	qty := math.Abs(pos.Quantity)
	closeSide := domain.SideSell
	if !long {
		closeSide = domain.SideBuy
	}

	full := func(reason string) *domain.ExitAction {
		return &domain.ExitAction{
			Symbol:     pos.Symbol,
			Strategy:   pos.Strategy,
			Side:       closeSide,
			Reason:     reason,
			Quantity:   qty,
			LimitPrice: mark,
			Fraction:   1,
		}
	}

	if meta.StopLoss > 0 && stopHit(long, mark, meta.StopLoss) {
		p.log.Info().
			Str("symbol", pos.Symbol).
			Float64("mark", mark).
			Float64("stop_loss", meta.StopLoss).
			Msg("STOP_LOSS_HIT")
		return full(domain.ExitReasonStopLoss)
	}

	if meta.TakeProfit > 0 && targetHit(long, mark, meta.TakeProfit) {
		p.log.Info().
			Str("symbol", pos.Symbol).
			Float64("mark", mark).
			Float64("take_profit", meta.TakeProfit).
			Msg("TAKE_PROFIT_HIT")
		return full(domain.ExitReasonTakeProfit)
	}

	if p.cfg.TimeStopHours > 0 && !meta.EntryTime.IsZero() {
		held := now.Sub(meta.EntryTime)
		if held >= time.Duration(p.cfg.TimeStopHours)*time.Hour {
			p.log.Info().
				Str("symbol", pos.Symbol).
				Float64("hours_held", held.Hours()).
				Int("time_stop_hours", p.cfg.TimeStopHours).
				Msg("TIME_STOP_HIT")
			return full(domain.ExitReasonTimeStop)
		}
	}

	if trail, ok := p.chandelier(long, meta, atr); ok && stopHit(long, mark, trail) {
		p.log.Info().
			Str("symbol", pos.Symbol).
			Float64("mark", mark).
			Float64("trail", trail).
			Msg("CHANDELIER_HIT")
		return full(domain.ExitReasonChandelier)
	}

	return p.ladder(pos, meta, mark, qty, closeSide, taken)
}

// stopHit reports whether the mark breached a protective level: downward
// for longs, upward for shorts
func stopHit(long bool, mark, level float64) bool {
	if long {
		return mark <= level
	}
	return mark >= level
}

// targetHit reports whether the mark reached a profit level
func targetHit(long bool, mark, level float64) bool {
	if long {
		return mark >= level
	}
	return mark <= level
}

// chandelier computes the trailing stop from the position watermarks
func (p *ExitPlanner) chandelier(long bool, meta *domain.PositionMeta, atr *float64) (float64, bool) {
	if !p.cfg.ChandelierEnabled || atr == nil || *atr <= 0 {
		return 0, false
	}
	dist := p.cfg.ChandelierATRMult * (*atr)
	if long {
		if meta.HighWatermark <= 0 {
			return 0, false
		}
		return meta.HighWatermark - dist, true
	}
	if meta.LowWatermark <= 0 {
		return 0, false
	}
	return meta.LowWatermark + dist, true
}

// ladder returns a partial exit for the first armed, untaken rung. Rung
// quantities are fractions of the quantity the ladder was armed with, so
// they match the resting orders even after earlier rungs reduced the
// position; the live quantity only caps them.
func (p *ExitPlanner) ladder(pos *domain.Position, meta *domain.PositionMeta, mark, qty float64, closeSide domain.Side, taken map[int]bool) *domain.ExitAction {
	if len(p.cfg.Ladder) == 0 {
		return nil
	}

	base := qty
	if meta.BaseQuantity > 0 {
		base = meta.BaseQuantity
	}

	profitPct := (mark - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
	if !pos.IsLong() {
		profitPct = -profitPct
	}

	for i, lvl := range p.cfg.Ladder {
		if taken[i] {
			continue
		}
		if profitPct < lvl.ProfitPct {
			continue
		}
		amount := math.Min(base*lvl.Fraction, qty)
		p.log.Info().
			Str("symbol", pos.Symbol).
			Int("level", i).
			Float64("profit_pct", profitPct).
			Float64("level_pct", lvl.ProfitPct).
			Float64("fraction", lvl.Fraction).
			Float64("quantity", amount).
			Msg("PROFIT_LADDER_HIT")
		return &domain.ExitAction{
			Symbol:     pos.Symbol,
			Strategy:   pos.Strategy,
			Side:       closeSide,
			Reason:     domain.ExitReasonLadder,
			Quantity:   amount,
			LimitPrice: mark,
			Fraction:   lvl.Fraction,
			Level:      i,
		}
	}
	return nil
}
