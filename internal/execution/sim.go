package execution

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/money"
)

// Fill probability ceilings. Even a fully liquid book never guarantees
// execution.
const (
	marketFillCap = 0.99
	limitFillCap  = 0.95
	stopFillCap   = 0.90
)

// Simulator models paper fills against the cycle mark. Probabilities scale
// with the configured liquidity score; market and triggered stop orders pay
// random slippage up to slippage_bps.
type Simulator struct {
	log zerolog.Logger
	cfg config.PaperConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a fill simulator. A zero seed falls back to the
// clock; fix the seed in config for reproducible runs.
func NewSimulator(cfg config.PaperConfig, log zerolog.Logger) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		log: log.With().Str("component", "fill_sim").Logger(),
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Fill simulates execution of an order against the market price. A nil
// result means the order did not execute: the probability draw failed or a
// stop never triggered.
func (s *Simulator) Fill(order *domain.Order, mkt float64, fees *domain.FeeInfo, now time.Time) *domain.Fill {
	if order == nil || order.Quantity <= 0 || mkt <= 0 {
		return nil
	}

	prob := s.fillProbability(order, mkt)

	s.mu.Lock()
	draw := s.rng.Float64()
	slipDraw := s.rng.Float64()
	s.mu.Unlock()

	if draw >= prob {
		s.log.Debug().
			Str("event", "ORDER_UNFILLED").
			Str("order_id", order.ID).
			Str("symbol", order.Symbol).
			Float64("probability", prob).
			Float64("mkt", mkt).
			Msg("simulated order did not fill")
		return nil
	}

	role := fillRole(order, mkt)
	price := s.fillPrice(order, mkt, slipDraw)
	rate := s.feeRate(role, fees)
	notional := money.Notional(order.Quantity, price)
	fee := money.RoundCurrency(notional * rate)

	fill := &domain.Fill{
		ExecutedAt: now,
		OrderID:    order.ID,
		TradeID:    uuid.New().String(),
		Symbol:     order.Symbol,
		Strategy:   order.Metadata.Strategy,
		Side:       order.Side,
		Role:       role,
		CycleID:    order.Metadata.CycleID,
		Reason:     order.Metadata.Reason,
		Quantity:   order.Quantity,
		Price:      price,
		Fee:        fee,
		ReduceOnly: order.ReduceOnly,
	}

	s.log.Debug().
		Str("event", "ORDER_FILLED").
		Str("order_id", order.ID).
		Str("trade_id", fill.TradeID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("role", string(role)).
		Float64("qty", fill.Quantity).
		Float64("price", fill.Price).
		Float64("fee", fill.Fee).
		Msg("simulated fill")

	return fill
}

// fillProbability returns the chance of execution this cycle. Marketable
// orders fill almost always; resting limits decay with distance from the
// market; stops fill only once the market crosses the trigger.
func (s *Simulator) fillProbability(order *domain.Order, mkt float64) float64 {
	liq := s.cfg.LiquidityScore

	switch order.Type {
	case domain.OrderTypeMarket:
		return math.Min(marketFillCap, liq*1.1)

	case domain.OrderTypeStop, domain.OrderTypeStopLimit:
		if !stopTriggered(order, mkt) {
			return 0
		}
		return math.Min(stopFillCap, liq*0.9)

	default:
		if order.LimitPrice <= 0 {
			return math.Min(marketFillCap, liq*1.1)
		}
		if order.Side == domain.SideBuy {
			if order.LimitPrice >= mkt {
				return math.Min(limitFillCap, liq*0.8)
			}
			return liq * (0.1 + 0.4*order.LimitPrice/mkt)
		}
		if order.LimitPrice <= mkt {
			return math.Min(limitFillCap, liq*0.8)
		}
		return liq * (0.1 + 0.4*mkt/order.LimitPrice)
	}
}

// fillPrice returns the execution price. Market orders and triggered stops
// slip against the taker; limit orders fill at the order price or better.
func (s *Simulator) fillPrice(order *domain.Order, mkt, slipDraw float64) float64 {
	switch order.Type {
	case domain.OrderTypeMarket, domain.OrderTypeStop:
		slip := slipDraw * s.cfg.SlippageBps / 10000
		if order.Side == domain.SideBuy {
			return mkt * (1 + slip)
		}
		return mkt * (1 - slip)

	default:
		if order.LimitPrice <= 0 {
			return mkt
		}
		if order.Side == domain.SideBuy {
			return math.Min(order.LimitPrice, mkt)
		}
		return math.Max(order.LimitPrice, mkt)
	}
}

func (s *Simulator) feeRate(role domain.FeeRole, fees *domain.FeeInfo) float64 {
	if fees != nil && (fees.MakerBps > 0 || fees.TakerBps > 0) {
		return fees.FeeFor(role)
	}
	if role == domain.FeeRoleMaker {
		return s.cfg.MakerFeeBps / 10000
	}
	return s.cfg.TakerFeeBps / 10000
}

// fillRole reports maker when a limit order rests on the passive side of
// the market. Stops and markets always cross the spread.
func fillRole(order *domain.Order, mkt float64) domain.FeeRole {
	switch order.Type {
	case domain.OrderTypeLimit, domain.OrderTypeTakeProfitLimit:
		if order.Side == domain.SideBuy && order.LimitPrice < mkt {
			return domain.FeeRoleMaker
		}
		if order.Side == domain.SideSell && order.LimitPrice > mkt {
			return domain.FeeRoleMaker
		}
	}
	return domain.FeeRoleTaker
}

// stopTriggered reports whether the market crossed the stop in the trigger
// direction: buy stops arm above the trigger, sell stops below.
func stopTriggered(order *domain.Order, mkt float64) bool {
	if order.StopPrice <= 0 {
		return false
	}
	if order.Side == domain.SideBuy {
		return mkt >= order.StopPrice
	}
	return mkt <= order.StopPrice
}
