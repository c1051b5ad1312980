// Package execution turns sized intents into venue-compliant orders,
// simulates fills in paper mode, and manages protective exit orders.
package execution

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/money"
)

// Builder quantizes raw order intents against the venue's precision rules.
type Builder struct {
	log zerolog.Logger
}

// NewBuilder creates an order builder
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{log: log.With().Str("component", "order_builder").Logger()}
}

// BuildRequest is a sized intent before precision treatment. Price is the
// working price: the limit price for limit orders, the current mark for
// market orders (used for notional checks only).
type BuildRequest struct {
	SessionID   string
	Symbol      string
	Side        domain.Side
	Type        domain.OrderType
	TimeInForce domain.TimeInForce
	Quantity    float64
	Price       float64
	StopPrice   float64
	ReduceOnly  bool
	// MaxRetries allows one bump to the venue minimum when > 0. Exits
	// must pass 0: bumping a reduce-only order would over-close.
	MaxRetries int
	Metadata   domain.OrderMetadata
	Rules      *domain.SymbolRules
}

// Build quantizes the request and returns an order ready for submission,
// or a reject reason when the venue rules cannot be met. Price rounds to
// the nearest tick half-up; quantity rounds down to the step. When the
// result is below min_qty or min_notional and MaxRetries > 0, the quantity
// is bumped up once to the smallest compliant size.
func (b *Builder) Build(req BuildRequest) (*domain.Order, domain.RejectReason) {
	if req.Quantity <= 0 {
		return nil, domain.RejectZeroQuantity
	}
	if req.Price <= 0 {
		return nil, domain.RejectPriceOutOfRange
	}

	rules := req.Rules
	if rules == nil {
		rules = &domain.SymbolRules{}
	}

	price := req.Price
	if rules.TickSize > 0 {
		quantized, err := money.QuantizePrice(price, rules.TickSize)
		if err != nil {
			return nil, domain.RejectPrecisionFail
		}
		price = quantized
	}
	if rules.MinPrice > 0 && price < rules.MinPrice {
		return nil, domain.RejectPriceOutOfRange
	}
	if rules.MaxPrice > 0 && price > rules.MaxPrice {
		return nil, domain.RejectPriceOutOfRange
	}

	qty := req.Quantity
	if rules.StepSize > 0 {
		floored, err := money.QuantizeQty(qty, rules.StepSize)
		if err != nil {
			return nil, domain.RejectPrecisionFail
		}
		qty = floored
	}

	notional := money.Notional(qty, price)
	belowQty := qty < rules.MinQty || qty <= 0
	belowNotional := rules.MinNotional > 0 && notional < rules.MinNotional

	bumped := false
	if belowQty || belowNotional {
		if req.MaxRetries < 1 {
			if belowQty && rules.MinQty > 0 {
				return nil, domain.RejectPrecisionFail
			}
			if belowNotional {
				return nil, domain.RejectMinNotional
			}
			return nil, domain.RejectZeroQuantity
		}

		target := rules.MinQty
		if rules.MinNotional > 0 {
			if need := rules.MinNotional / price; need > target {
				target = need
			}
		}
		if rules.StepSize > 0 {
			ceiled, err := money.CeilQty(target, rules.StepSize)
			if err != nil {
				return nil, domain.RejectPrecisionFail
			}
			target = ceiled
		}
		qty = target
		notional = money.Notional(qty, price)
		bumped = true

		// Second failure after the bump is final
		if qty < rules.MinQty {
			return nil, domain.RejectPrecisionFail
		}
		if rules.MinNotional > 0 && notional < rules.MinNotional {
			return nil, domain.RejectMinNotional
		}
	}
	if qty <= 0 {
		return nil, domain.RejectZeroQuantity
	}

	order := &domain.Order{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		SessionID:   req.SessionID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		TimeInForce: req.TimeInForce,
		Status:      domain.OrderStatusPending,
		Metadata:    req.Metadata,
		Quantity:    qty,
		ReduceOnly:  req.ReduceOnly,
	}
	if order.TimeInForce == "" {
		if order.Type == domain.OrderTypeMarket {
			order.TimeInForce = domain.TimeInForceIOC
		} else {
			order.TimeInForce = domain.TimeInForceGTC
		}
	}
	switch order.Type {
	case domain.OrderTypeLimit, domain.OrderTypeStopLimit, domain.OrderTypeTakeProfitLimit:
		order.LimitPrice = price
	}
	if req.StopPrice > 0 {
		stop := req.StopPrice
		if rules.TickSize > 0 {
			quantized, err := money.QuantizePrice(stop, rules.TickSize)
			if err != nil {
				return nil, domain.RejectPrecisionFail
			}
			stop = quantized
		}
		order.StopPrice = stop
	}

	b.log.Debug().
		Str("event", "ORDER_QUANTIZE").
		Str("order_id", order.ID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(order.Type)).
		Float64("raw_qty", req.Quantity).
		Float64("raw_price", req.Price).
		Float64("qty", qty).
		Float64("price", price).
		Float64("notional", notional).
		Bool("bumped", bumped).
		Msg("order quantized")

	return order, domain.RejectNone
}
