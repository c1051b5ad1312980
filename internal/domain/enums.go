// Package domain provides the core trading types shared by every layer.
package domain

// Side represents the direction of an order or fill
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign returns +1 for buys and -1 for sells
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the exchange order type
type OrderType string

const (
	OrderTypeMarket          OrderType = "market"
	OrderTypeLimit           OrderType = "limit"
	OrderTypeStop            OrderType = "stop"
	OrderTypeStopLimit       OrderType = "stop_limit"
	OrderTypeTakeProfit      OrderType = "take_profit"
	OrderTypeTakeProfitLimit OrderType = "take_profit_limit"
)

// TimeInForce represents order lifetime
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// Regime classifies a symbol's market state for entry gating
type Regime string

const (
	RegimeTrend   Regime = "trend"
	RegimeRange   Regime = "range"
	RegimeUnknown Regime = "unknown"
)

// FinalAction is the decision recorded for every evaluated symbol
type FinalAction string

const (
	ActionBuy  FinalAction = "BUY"
	ActionSell FinalAction = "SELL"
	ActionHold FinalAction = "HOLD"
	ActionSkip FinalAction = "SKIP"
)

// TradingMode selects fill handling: simulated or routed to the venue
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// FeeRole distinguishes passive and aggressive executions for fee lookup
type FeeRole string

const (
	FeeRoleMaker FeeRole = "maker"
	FeeRoleTaker FeeRole = "taker"
)
