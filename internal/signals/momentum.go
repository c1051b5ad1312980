package signals

import (
	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/indicators"
)

// Momentum strategy parameters. Contrarian on the oscillators: oversold
// readings score positive (buy), overbought negative.
const (
	momentumRSIPeriod     = 14
	momentumRSIOversold   = 30.0
	momentumRSIOverbought = 70.0

	momentumMACDFast   = 12
	momentumMACDSlow   = 26
	momentumMACDSignal = 9

	momentumWilliamsPeriod     = 14
	momentumWilliamsOversold   = -80.0
	momentumWilliamsOverbought = -20.0

	// Component contributions to the raw score
	momentumRSIScore      = 0.5
	momentumMACDScore     = 0.3
	momentumWilliamsScore = 0.2

	// Signals on thin volume are damped by this factor
	momentumMinVolumeRatio = 1.2
	momentumVolumeDamping  = 0.7

	momentumVolumePeriod = 20

	// Levels are only offered for signals at least this strong
	momentumLevelFloor = 0.3
	momentumATRPeriod  = 14
	momentumATRMultSL  = 1.5
	momentumATRMultTP  = 3.0
	momentumPctSL      = 0.02
	momentumPctTP      = 0.04
)

// momentumWarmup is the bar count below which the strategy stays neutral
const momentumWarmup = momentumMACDSlow + 10

// Momentum scores a symbol from RSI, MACD histogram and Williams %R
// alignment, damped when volume runs below its recent average.
type Momentum struct {
	log zerolog.Logger
}

// NewMomentum creates the momentum strategy
func NewMomentum(log zerolog.Logger) *Momentum {
	return &Momentum{log: log.With().Str("strategy", "momentum").Logger()}
}

// Name implements Strategy
func (m *Momentum) Name() string { return "momentum" }

// Analyze implements Strategy
func (m *Momentum) Analyze(bars Bars) Result {
	if bars.Len() < momentumWarmup {
		m.log.Debug().Str("symbol", bars.Symbol).Int("bars", bars.Len()).Msg("insufficient history")
		return Result{}
	}

	closes := bars.Closes()
	highs := bars.Highs()
	lows := bars.Lows()

	rsi := indicators.RSI(closes, momentumRSIPeriod)
	macdHist := indicators.MACDHist(closes, momentumMACDFast, momentumMACDSlow, momentumMACDSignal)
	willr := indicators.WilliamsR(highs, lows, closes, momentumWilliamsPeriod)
	if rsi == nil || macdHist == nil || willr == nil {
		m.log.Debug().Str("symbol", bars.Symbol).Msg("indicator warmup")
		return Result{}
	}

	ratio := volumeRatio(bars.Volumes(), momentumVolumePeriod)

	score := momentumScore(*rsi, *macdHist, *willr)
	if ratio != nil && *ratio < momentumMinVolumeRatio {
		score *= momentumVolumeDamping
	}

	entry := closes[len(closes)-1]
	atr := indicators.ATR(highs, lows, closes, momentumATRPeriod)
	sl, tp := momentumLevels(entry, score, atr)

	return Result{
		Score:      score,
		Confidence: momentumConfidence(*rsi, *macdHist, *willr, ratio),
		StopLoss:   sl,
		TakeProfit: tp,
	}
}

// momentumScore combines the three oscillator components and clamps the sum
func momentumScore(rsi, macdHist, willr float64) float64 {
	var score float64

	switch {
	case rsi < momentumRSIOversold:
		score += momentumRSIScore
	case rsi > momentumRSIOverbought:
		score -= momentumRSIScore
	}

	if macdHist > 0 {
		score += momentumMACDScore
	} else {
		score -= momentumMACDScore
	}

	switch {
	case willr < momentumWilliamsOversold:
		score += momentumWilliamsScore
	case willr > momentumWilliamsOverbought:
		score -= momentumWilliamsScore
	}

	return clamp(score, -1, 1)
}

// momentumConfidence measures indicator alignment in [0, 1]
func momentumConfidence(rsi, macdHist, willr float64, ratio *float64) float64 {
	var alignment float64

	if rsi < momentumRSIOversold || rsi > momentumRSIOverbought {
		alignment += 0.3
	} else if rsi > 40 && rsi < 60 {
		alignment += 0.1
	}
	if macdHist > 0.05 || macdHist < -0.05 {
		alignment += 0.3
	}
	if willr < momentumWilliamsOversold || willr > momentumWilliamsOverbought {
		alignment += 0.2
	}
	if ratio != nil && *ratio > momentumMinVolumeRatio {
		alignment += 0.2
	}

	return clamp(alignment, 0, 1)
}

// momentumLevels derives SL/TP from ATR, falling back to fixed percentages
func momentumLevels(entry, score float64, atr *float64) (sl, tp float64) {
	if score < momentumLevelFloor && score > -momentumLevelFloor {
		return 0, 0
	}

	stopDist := entry * momentumPctSL
	takeDist := entry * momentumPctTP
	if atr != nil && *atr > 0 {
		stopDist = momentumATRMultSL * *atr
		takeDist = momentumATRMultTP * *atr
	}

	if score > 0 {
		return entry - stopDist, entry + takeDist
	}
	return entry + stopDist, entry - takeDist
}
