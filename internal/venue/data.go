package venue

import (
	"context"
	"fmt"

	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/indicators"
)

// Indicator implements domain.DataEngine by computing the requested value
// from the symbol's candle history on the configured timeframe. Warmup
// shortfalls surface as ErrDataUnavailable, never as zero.
func (c *Client) Indicator(ctx context.Context, symbol string, spec domain.IndicatorSpec) (float64, error) {
	bars := c.historyBars
	if needed := indicatorWarmup(spec); needed > bars {
		bars = needed
	}

	candles, err := c.OHLCV(ctx, symbol, c.timeframe, bars)
	if err != nil {
		return 0, err
	}
	return indicatorFromCandles(symbol, spec, candles)
}

// indicatorFromCandles computes one indicator from a candle history
func indicatorFromCandles(symbol string, spec domain.IndicatorSpec, candles []domain.Candle) (float64, error) {
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, b := range candles {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}

	var value *float64
	switch spec.Kind {
	case domain.IndicatorEMA:
		value = indicators.EMA(closes, spec.Period)
	case domain.IndicatorADX:
		value = indicators.ADX(highs, lows, closes, spec.Period)
	case domain.IndicatorATR:
		value = indicators.ATR(highs, lows, closes, spec.Period)
	case domain.IndicatorATRSMA:
		value = indicators.ATRSMA(highs, lows, closes, atrBasePeriod, spec.Period)
	default:
		return 0, fmt.Errorf("unknown indicator kind %q", spec.Kind)
	}

	if value == nil {
		return 0, fmt.Errorf("%w: %s %s(%d) needs more history",
			domain.ErrDataUnavailable, symbol, spec.Kind, spec.Period)
	}
	return *value, nil
}

// atrBasePeriod is the ATR lookback underneath the ATR-SMA ratio
const atrBasePeriod = 14

// indicatorWarmup returns the minimum bar count for a stable value
func indicatorWarmup(spec domain.IndicatorSpec) int {
	switch spec.Kind {
	case domain.IndicatorADX:
		return 2*spec.Period + 1
	case domain.IndicatorATR:
		return spec.Period + 1
	case domain.IndicatorATRSMA:
		return atrBasePeriod + spec.Period
	default:
		return spec.Period
	}
}
