package domain

import "context"

// IndicatorKind selects a technical indicator computed from OHLCV history
type IndicatorKind string

const (
	IndicatorEMA IndicatorKind = "ema"
	IndicatorADX IndicatorKind = "adx"
	IndicatorATR IndicatorKind = "atr"
	// IndicatorATRSMA is the simple moving average of ATR(14) over Period bars
	IndicatorATRSMA IndicatorKind = "atr_sma"
)

// IndicatorSpec names an indicator request. Period is the lookback window;
// for ATRSMA it is the SMA window applied on top of ATR(14).
type IndicatorSpec struct {
	Kind   IndicatorKind `json:"kind"`
	Period int           `json:"period"`
}

// DataEngine provides market data to the decision pipeline. Implementations
// must return ErrDataUnavailable when a symbol has no usable data rather
// than zero values.
type DataEngine interface {
	// Ticker returns the current quote for a symbol
	Ticker(ctx context.Context, symbol string) (*PriceData, error)

	// OHLCV returns up to limit most-recent bars for the timeframe,
	// oldest first
	OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)

	// Indicator computes the latest value of the requested indicator
	Indicator(ctx context.Context, symbol string, spec IndicatorSpec) (float64, error)
}

// Connector abstracts the trading venue. Paper and live implementations
// share this surface; the engine never talks to an exchange directly.
type Connector interface {
	// Name identifies the venue in logs and traces
	Name() string

	// Rules returns the trading constraints for a symbol
	Rules(ctx context.Context, symbol string) (*SymbolRules, error)

	// Fees returns the fee schedule for a symbol
	Fees(ctx context.Context, symbol string) (*FeeInfo, error)

	// SupportedOrderTypes lists the order types the venue accepts. Order
	// construction downgrades along limit -> market when the preferred
	// type is absent.
	SupportedOrderTypes(ctx context.Context, symbol string) ([]OrderType, error)

	// SubmitOrder routes an order for execution. A nil fill with nil error
	// means the order did not execute (e.g. an unmarketable limit).
	SubmitOrder(ctx context.Context, order *Order) (*Fill, error)
}
