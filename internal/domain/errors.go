package domain

import "errors"

// Sentinel errors used across the engine. Callers match with errors.Is.
var (
	// ErrPricingContext indicates a price lookup outside the active cycle,
	// or with a stale cycle ID. Pricing reads must go through the snapshot.
	ErrPricingContext = errors.New("pricing context violation")

	// ErrDataUnavailable indicates the venue returned no usable data for a
	// symbol (no ticker, empty candles, or indicator warmup not met).
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrInvariantViolation indicates a portfolio consistency check failed,
	// e.g. the post-fill equity assertion.
	ErrInvariantViolation = errors.New("portfolio invariant violation")

	// ErrInsufficientLots indicates a sell consumed more quantity than the
	// lot book holds for the symbol.
	ErrInsufficientLots = errors.New("insufficient lot quantity")

	// ErrBudgetExhausted indicates the session entry budget has no room for
	// another position.
	ErrBudgetExhausted = errors.New("session budget exhausted")

	// ErrSessionNotFound indicates an operation referenced an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPositionNotFound indicates an exit or update referenced a symbol
	// with no open position in the session.
	ErrPositionNotFound = errors.New("position not found")

	// ErrOrderRejected indicates preflight or quantization refused the order.
	// The RejectReason on the order carries the specific cause.
	ErrOrderRejected = errors.New("order rejected")

	// ErrHalted indicates the session is halted for the day (loss limit).
	ErrHalted = errors.New("session halted")
)

// RejectReason is the machine-readable cause attached to refused orders
// and skipped entries. Values are stable; they appear in decision traces
// and the analytics ledger.
type RejectReason string

const (
	RejectNone               RejectReason = ""
	RejectPriceOutOfRange    RejectReason = "price_out_of_range"
	RejectMinNotional        RejectReason = "min_notional"
	RejectPrecisionFail      RejectReason = "precision_fail"
	RejectBudgetExhausted    RejectReason = "budget_exhausted"
	RejectNoATRNoFallback    RejectReason = "no_atr_no_fallback"
	RejectRRTooLow           RejectReason = "rr_too_low"
	RejectInvalidStop        RejectReason = "invalid_stop_distance"
	RejectDailyLossHalt      RejectReason = "daily_loss_limit_halt"
	RejectShortNotEnabled    RejectReason = "short_not_enabled"
	RejectInsufficientLots   RejectReason = "insufficient_lots"
	RejectBelowGate          RejectReason = "below_gate"
	RejectRegimeFloor        RejectReason = "regime_floor"
	RejectWarmup             RejectReason = "warmup"
	RejectDataUnavailable    RejectReason = "data_unavailable"
	RejectZeroQuantity       RejectReason = "zero_quantity"
	RejectDowngradeForbidden RejectReason = "downgrade_forbidden"
)
