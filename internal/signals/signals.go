// Package signals turns per-symbol OHLCV history into a composite score in
// [-1, 1] by blending weighted strategies, and calibrates the entry
// threshold from the rolling history of recent scores.
package signals

import (
	"github.com/quartzline/rudder/internal/domain"
)

// Strategy scores one symbol from its bar history. Implementations are pure
// functions of the input: insufficient or degenerate history yields the
// neutral zero Result, never an error.
type Strategy interface {
	Name() string
	Analyze(bars Bars) Result
}

// Result is a single strategy's verdict. The zero value is the neutral
// signal. StopLoss and TakeProfit of zero mean the strategy offers no
// levels and downstream stop derivation falls through to ATR.
type Result struct {
	Score      float64 // [-1, 1], sign is direction
	Confidence float64 // [0, 1]
	StopLoss   float64
	TakeProfit float64
}

// Bars is the OHLCV history a strategy analyzes, oldest first.
type Bars struct {
	Symbol    string
	Timeframe string
	Candles   []domain.Candle
}

// Len returns the number of bars
func (b Bars) Len() int { return len(b.Candles) }

// Closes extracts the close series
func (b Bars) Closes() []float64 {
	out := make([]float64, len(b.Candles))
	for i, c := range b.Candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts the high series
func (b Bars) Highs() []float64 {
	out := make([]float64, len(b.Candles))
	for i, c := range b.Candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low series
func (b Bars) Lows() []float64 {
	out := make([]float64, len(b.Candles))
	for i, c := range b.Candles {
		out[i] = c.Low
	}
	return out
}

// Volumes extracts the volume series
func (b Bars) Volumes() []float64 {
	out := make([]float64, len(b.Candles))
	for i, c := range b.Candles {
		out[i] = c.Volume
	}
	return out
}

// volumeRatio compares the latest volume against the mean of the period-1
// bars preceding it. Nil with fewer than period bars; 1 when the baseline
// is zero.
func volumeRatio(volumes []float64, period int) *float64 {
	if period <= 1 || len(volumes) < period {
		return nil
	}

	var sum float64
	baseline := volumes[len(volumes)-period : len(volumes)-1]
	for _, v := range baseline {
		sum += v
	}
	avg := sum / float64(len(baseline))

	ratio := 1.0
	if avg > 0 {
		ratio = volumes[len(volumes)-1] / avg
	}
	return &ratio
}

// clamp bounds v to [lo, hi]
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
