package signals

import (
	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/indicators"
)

// Mean reversion parameters. Percent-B measures where price sits inside the
// Bollinger channel: 0 on the lower band, 1 on the upper. Fading the band
// touch scores positive near the bottom, negative near the top.
const (
	meanRevBBPeriod   = 20
	meanRevBBStdDev   = 2.0
	meanRevRSIPeriod  = 14
	meanRevATRPeriod  = 14
	meanRevOversold   = 0.2
	meanRevOverbought = 0.8

	meanRevBandScore     = 0.6
	meanRevRSIScore      = 0.3
	meanRevPositionScore = 0.1

	meanRevLevelFloor = 0.3
	meanRevStopPad    = 0.01
)

// meanRevWarmup is the bar count below which the strategy stays neutral
const meanRevWarmup = meanRevBBPeriod + 10

// MeanReversion fades Bollinger band touches, with RSI as confirmation.
type MeanReversion struct {
	log zerolog.Logger
}

// NewMeanReversion creates the mean reversion strategy
func NewMeanReversion(log zerolog.Logger) *MeanReversion {
	return &MeanReversion{log: log.With().Str("strategy", "mean_reversion").Logger()}
}

// Name implements Strategy
func (m *MeanReversion) Name() string { return "mean_reversion" }

// Analyze implements Strategy
func (m *MeanReversion) Analyze(bars Bars) Result {
	if bars.Len() < meanRevWarmup {
		m.log.Debug().Str("symbol", bars.Symbol).Int("bars", bars.Len()).Msg("insufficient history")
		return Result{}
	}

	closes := bars.Closes()

	upper, middle, lower := indicators.Bollinger(closes, meanRevBBPeriod, meanRevBBStdDev)
	rsi := indicators.RSI(closes, meanRevRSIPeriod)
	if upper == nil || middle == nil || lower == nil || rsi == nil {
		m.log.Debug().Str("symbol", bars.Symbol).Msg("indicator warmup")
		return Result{}
	}

	entry := closes[len(closes)-1]
	percentB := percentB(entry, *upper, *lower)

	score := meanRevScore(percentB, *rsi)
	sl, tp := meanRevLevels(score, *upper, *middle, *lower)

	return Result{
		Score:      score,
		Confidence: meanRevConfidence(percentB, *rsi),
		StopLoss:   sl,
		TakeProfit: tp,
	}
}

// percentB locates price within the band channel; 0.5 when the channel has
// no width
func percentB(price, upper, lower float64) float64 {
	width := upper - lower
	if width <= 0 {
		return 0.5
	}
	return (price - lower) / width
}

// meanRevScore combines band position, RSI confirmation and proximity bias
func meanRevScore(percentB, rsi float64) float64 {
	var bandScore float64
	switch {
	case percentB < meanRevOversold:
		bandScore = meanRevBandScore * (meanRevOversold - percentB) / meanRevOversold
	case percentB > meanRevOverbought:
		bandScore = -meanRevBandScore * (percentB - meanRevOverbought) / (1 - meanRevOverbought)
	}

	var rsiScore float64
	switch {
	case rsi < 30:
		rsiScore = meanRevRSIScore
	case rsi > 70:
		rsiScore = -meanRevRSIScore
	}

	var positionScore float64
	switch {
	case percentB < 0.2:
		positionScore = meanRevPositionScore
	case percentB > 0.8:
		positionScore = -meanRevPositionScore
	}

	return clamp(bandScore+rsiScore+positionScore, -1, 1)
}

// meanRevConfidence rewards extreme band position and RSI agreement
func meanRevConfidence(percentB, rsi float64) float64 {
	confidence := 0.3

	switch {
	case percentB < 0.1 || percentB > 0.9:
		confidence += 0.4
	case percentB < 0.2 || percentB > 0.8:
		confidence += 0.2
	}

	if (percentB < 0.3 && rsi < 30) || (percentB > 0.7 && rsi > 70) {
		confidence += 0.3
	}

	return clamp(confidence, 0, 1)
}

// meanRevLevels targets the middle band with the stop padded past the
// violated band
func meanRevLevels(score, upper, middle, lower float64) (sl, tp float64) {
	if score < meanRevLevelFloor && score > -meanRevLevelFloor {
		return 0, 0
	}

	if score > 0 {
		return lower * (1 - meanRevStopPad), middle
	}
	return upper * (1 + meanRevStopPad), middle
}
