package domain

import "time"

// Session represents one trading run. All portfolio state is scoped to a
// session; a new session starts from a clean book.
type Session struct {
	CreatedAt   time.Time   `json:"created_at"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`
	ID          string      `json:"id"`
	Mode        TradingMode `json:"mode"`
	Status      string      `json:"status"`
	InitialCash float64     `json:"initial_cash"`
}

// Session status values
const (
	SessionActive = "active"
	SessionHalted = "halted"
	SessionEnded  = "ended"
)

// Position represents an open exposure for a (symbol, strategy) pair.
// Quantity is signed: positive for long, negative for short.
// CurrentPrice is the price the position was last valued at: the cycle
// mark during the refresh step, or the fill price right after a fill
// is applied.
type Position struct {
	OpenedAt      time.Time `json:"opened_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	SessionID     string    `json:"session_id"`
	Symbol        string    `json:"symbol"`
	Strategy      string    `json:"strategy"`
	ID            int64     `json:"id"`
	Quantity      float64   `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	CurrentPrice  float64   `json:"current_price"`
}

// IsLong reports whether the position quantity is positive
func (p *Position) IsLong() bool { return p.Quantity > 0 }

// IsFlat reports whether the position has no exposure
func (p *Position) IsFlat() bool { return p.Quantity == 0 }

// Key returns the identity of the position within a session
func (p *Position) Key() string { return p.Symbol + "/" + p.Strategy }

// Value returns the signed market value at the last valuation price
func (p *Position) Value() float64 { return p.Quantity * p.CurrentPrice }

// UnrealizedPnL returns the open profit against the average entry
func (p *Position) UnrealizedPnL() float64 {
	return p.Quantity * (p.CurrentPrice - p.AvgEntryPrice)
}

// PositionMeta carries per-position protective state. It is stored as JSON
// in session metadata, keyed by "position_meta:<symbol>/<strategy>".
type PositionMeta struct {
	EntryTime     time.Time `json:"entry_time"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	HighWatermark float64   `json:"high_watermark"`
	LowWatermark  float64   `json:"low_watermark"`
	BaseQuantity  float64   `json:"base_quantity"` // absolute quantity when the ladder was armed
	BarsHeld      int       `json:"bars_held"`
}

// Lot is a FIFO acquisition record. Quantity and Fee shrink proportionally
// as the lot is consumed by closes; a lot is deleted when fully consumed.
type Lot struct {
	CreatedAt time.Time `json:"created_at"`
	SessionID string    `json:"session_id"`
	Symbol    string    `json:"symbol"`
	Strategy  string    `json:"strategy"`
	TradeID   string    `json:"trade_id"`
	ID        int64     `json:"id"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
}

// CashEquity is the per-session balance row. Equity is cash plus the marked
// value of open positions at the last reconciliation; PreviousEquity holds
// the value before that, so equity deltas survive restarts.
type CashEquity struct {
	UpdatedAt      time.Time `json:"updated_at"`
	SessionID      string    `json:"session_id"`
	Cash           float64   `json:"cash"`
	Equity         float64   `json:"equity"`
	PreviousEquity float64   `json:"previous_equity"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	FeesPaid       float64   `json:"fees_paid"`
}

// Trade is an executed fill persisted to the session ledger.
type Trade struct {
	ExecutedAt  time.Time `json:"executed_at"`
	CreatedAt   time.Time `json:"created_at"`
	SessionID   string    `json:"session_id"`
	Symbol      string    `json:"symbol"`
	Strategy    string    `json:"strategy"`
	Side        Side      `json:"side"`
	TradeID     string    `json:"trade_id"`
	OrderID     string    `json:"order_id"`
	CycleID     string    `json:"cycle_id"`
	Reason      string    `json:"reason"`
	ID          int64     `json:"id"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Fees        float64   `json:"fees"`
	RealizedPnL float64   `json:"realized_pnl"`
}

// OrderMetadata links an order back to the decision that produced it.
type OrderMetadata struct {
	CycleID    string  `json:"cycle_id"`
	Strategy   string  `json:"strategy"`
	Reason     string  `json:"reason"`
	CapReason  string  `json:"cap_reason,omitempty"`
	Score      float64 `json:"score,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	RiskReward float64 `json:"risk_reward,omitempty"`
	Pilot      bool    `json:"pilot,omitempty"`
}

// Order is a quantized, preflighted instruction ready for execution.
type Order struct {
	CreatedAt    time.Time     `json:"created_at"`
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Symbol       string        `json:"symbol"`
	Side         Side          `json:"side"`
	Type         OrderType     `json:"type"`
	TimeInForce  TimeInForce   `json:"time_in_force"`
	Status       OrderStatus   `json:"status"`
	RejectReason RejectReason  `json:"reject_reason,omitempty"`
	Metadata     OrderMetadata `json:"metadata"`
	Quantity     float64       `json:"quantity"`
	LimitPrice   float64       `json:"limit_price,omitempty"`
	StopPrice    float64       `json:"stop_price,omitempty"`
	ReduceOnly   bool          `json:"reduce_only"`
}

// Fill is the execution result applied to the portfolio.
type Fill struct {
	ExecutedAt time.Time `json:"executed_at"`
	OrderID    string    `json:"order_id"`
	TradeID    string    `json:"trade_id"`
	Symbol     string    `json:"symbol"`
	Strategy   string    `json:"strategy"`
	Side       Side      `json:"side"`
	Role       FeeRole   `json:"role"`
	CycleID    string    `json:"cycle_id"`
	Reason     string    `json:"reason"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Fee        float64   `json:"fee"`
	ReduceOnly bool      `json:"reduce_only"`
}

// PriceData is one symbol's quote inside a cycle snapshot. Zero fields mean
// the venue did not supply that component. Source names the feed that
// produced the quote; the snapshot manager appends "_STALE" when the quote
// is older than the freshness window.
type PriceData struct {
	Timestamp time.Time `json:"timestamp"`
	FetchedAt time.Time `json:"fetched_at"`
	Symbol    string    `json:"symbol"`
	Source    string    `json:"source"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}

// Mid returns the bid/ask midpoint, or 0 when either side is missing
func (p *PriceData) Mid() float64 {
	if p.Bid > 0 && p.Ask > 0 {
		return (p.Bid + p.Ask) / 2
	}
	return 0
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// WindowKey identifies one rolling signal window. The normalizer keeps a
// bounded history of scores per key.
type WindowKey struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Strategy  string `json:"strategy"`
}

// SubSignal is one weighted component of a composite score.
type SubSignal struct {
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	Weight     float64 `json:"weight"`
	Confidence float64 `json:"confidence"`
}

// Signal is a strategy's opinion on a symbol for the current cycle. Score is
// in [-1, 1]; StopLoss and TakeProfit are optional strategy-supplied levels.
// For composite signals, Strategy names the winning sub-signal and SubSignals
// carries every component.
type Signal struct {
	CreatedAt  time.Time   `json:"created_at"`
	Symbol     string      `json:"symbol"`
	Strategy   string      `json:"strategy"`
	Direction  Side        `json:"direction"`
	SubSignals []SubSignal `json:"sub_signals,omitempty"`
	Score      float64     `json:"score"`
	Confidence float64     `json:"confidence"`
	StopLoss   float64     `json:"stop_loss,omitempty"`
	TakeProfit float64     `json:"take_profit,omitempty"`
}

// SymbolRules are the venue's trading constraints for one symbol.
type SymbolRules struct {
	Symbol       string  `json:"symbol"`
	TickSize     float64 `json:"tick_size"`
	StepSize     float64 `json:"step_size"`
	MinQty       float64 `json:"min_qty"`
	MinNotional  float64 `json:"min_notional"`
	MinPrice     float64 `json:"min_price"`
	MaxPrice     float64 `json:"max_price"`
	ShortEnabled bool    `json:"short_enabled"`
}

// FeeInfo holds the venue fee schedule for one symbol, in basis points.
type FeeInfo struct {
	Symbol   string  `json:"symbol"`
	MakerBps float64 `json:"maker_bps"`
	TakerBps float64 `json:"taker_bps"`
}

// FeeFor returns the fractional fee rate for the given role
func (f FeeInfo) FeeFor(role FeeRole) float64 {
	if role == FeeRoleMaker {
		return f.MakerBps / 10000
	}
	return f.TakerBps / 10000
}

// ExitAction is a reduce-only instruction produced by protective triggers.
// Fraction is the share of the position to close, in (0, 1]. Level is the
// ladder rung index for tp_ladder exits; it drives taken-level tracking.
type ExitAction struct {
	Symbol     string  `json:"symbol"`
	Strategy   string  `json:"strategy"`
	Side       Side    `json:"side"`
	Reason     string  `json:"reason"`
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price"`
	Fraction   float64 `json:"fraction"`
	Level      int     `json:"level,omitempty"`
}

// Exit reasons recorded on trades and traces
const (
	ExitReasonStopLoss   = "stop_loss"
	ExitReasonTakeProfit = "take_profit"
	ExitReasonTimeStop   = "time_stop"
	ExitReasonLadder     = "tp_ladder"
	ExitReasonChandelier = "chandelier"
	ExitReasonSignal     = "signal"
)

// DecisionTrace is the per-symbol record of one cycle evaluation. Price
// fields are rounded to 4 decimals, scores to 4, sizes to 6 before logging.
type DecisionTrace struct {
	Timestamp     time.Time    `json:"timestamp"`
	CycleID       string       `json:"cycle_id"`
	Symbol        string       `json:"symbol"`
	Strategy      string       `json:"strategy"`
	Regime        Regime       `json:"regime"`
	Action        FinalAction  `json:"action"`
	RejectReason  RejectReason `json:"reject_reason,omitempty"`
	MarkSource    string       `json:"mark_source"`
	CapReason     string       `json:"cap_reason,omitempty"`
	OrderID       string       `json:"order_id,omitempty"`
	MarkPrice     float64      `json:"mark_price"`
	RawScore      float64      `json:"raw_score"`
	Confidence    float64      `json:"confidence"`
	WinningScore  float64      `json:"winning_score"`
	EffectiveGate float64      `json:"effective_gate"`
	StopLoss      float64      `json:"stop_loss,omitempty"`
	TakeProfit    float64      `json:"take_profit,omitempty"`
	RiskReward    float64      `json:"risk_reward,omitempty"`
	Quantity      float64      `json:"quantity,omitempty"`
	Notional      float64      `json:"notional,omitempty"`
	Pilot         bool         `json:"pilot,omitempty"`
}

// Cap reasons recorded when sizing clamps a position
const (
	CapReasonNone        = "none"
	CapReasonMaxNotional = "max_notional_pct"
	CapReasonPerSymbol   = "per_symbol_cap"
	CapReasonSessionCap  = "session_cap"
)

// EquityPoint is one sample of the session equity curve, taken after each
// reconciled cycle.
type EquityPoint struct {
	CreatedAt time.Time `json:"created_at"`
	SessionID string    `json:"session_id"`
	CycleID   string    `json:"cycle_id"`
	Equity    float64   `json:"equity"`
	Cash      float64   `json:"cash"`
}
