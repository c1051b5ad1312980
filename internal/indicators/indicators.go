// Package indicators wraps go-talib behind warmup-aware helpers. Every
// function returns nil when the input history is too short for a reliable
// value; callers treat nil as data-unavailable rather than zero.
package indicators

import (
	"github.com/markcheno/go-talib"
)

// EMA returns the latest Exponential Moving Average over period bars
func EMA(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}

	ema := talib.Ema(closes, period)
	return lastValid(ema)
}

// SMA returns the latest Simple Moving Average over period bars
func SMA(values []float64, period int) *float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	sma := talib.Sma(values, period)
	return lastValid(sma)
}

// ADX returns the latest Average Directional Index. ADX smooths DX over the
// period twice, so it needs roughly two periods of history to stabilize.
func ADX(highs, lows, closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < 2*period+1 {
		return nil
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}

	adx := talib.Adx(highs, lows, closes, period)
	return lastValid(adx)
}

// ATR returns the latest Average True Range over period bars
func ATR(highs, lows, closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}

	atr := talib.Atr(highs, lows, closes, period)
	return lastValid(atr)
}

// ATRSMA returns the simple moving average of ATR(atrPeriod) over the last
// smaPeriod bars. The risk-on detector compares current ATR against this
// baseline.
func ATRSMA(highs, lows, closes []float64, atrPeriod, smaPeriod int) *float64 {
	if atrPeriod <= 0 || smaPeriod <= 0 {
		return nil
	}
	if len(closes) < atrPeriod+smaPeriod {
		return nil
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}

	atr := talib.Atr(highs, lows, closes, atrPeriod)
	// The first atrPeriod entries are lookback filler
	valid := atr[atrPeriod:]
	if len(valid) < smaPeriod {
		return nil
	}

	sma := talib.Sma(valid, smaPeriod)
	return lastValid(sma)
}

// RSI returns the latest Relative Strength Index over period bars
func RSI(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}

	rsi := talib.Rsi(closes, period)
	return lastValid(rsi)
}

// MACDHist returns the latest MACD histogram value (MACD minus its signal
// line) for the standard fast/slow/signal periods.
func MACDHist(closes []float64, fast, slow, signal int) *float64 {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return nil
	}
	if len(closes) < slow+signal {
		return nil
	}

	_, _, hist := talib.Macd(closes, fast, slow, signal)
	return lastValid(hist)
}

// WilliamsR returns the latest Williams %R over period bars, in [-100, 0]
func WilliamsR(highs, lows, closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}

	willr := talib.WillR(highs, lows, closes, period)
	return lastValid(willr)
}

// Bollinger returns the latest Bollinger Band levels over period bars at
// devs standard deviations. A flat series yields zero band width, not nil;
// callers decide how to treat it.
func Bollinger(closes []float64, period int, devs float64) (upper, middle, lower *float64) {
	if period <= 1 || len(closes) < period {
		return nil, nil, nil
	}

	u, m, l := talib.BBands(closes, period, devs, devs, talib.SMA)
	return lastValid(u), lastValid(m), lastValid(l)
}

// lastValid returns the final element of a talib output series, or nil when
// the series is empty or ends in NaN
func lastValid(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	last := series[len(series)-1]
	if isNaN(last) {
		return nil
	}
	return &last
}

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}
