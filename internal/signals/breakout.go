package signals

import (
	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/indicators"
)

// Breakout strategy parameters. The score builds from proximity to the
// lookback high or low plus volume confirmation; thin volume near a level
// reads as a likely false break and scores against the move.
const (
	breakoutLookback  = 20
	breakoutATRPeriod = 14

	// Proximity to the level, as a fraction of price, that arms a breakout
	breakoutThreshold = 0.015

	breakoutVolumePeriod    = 20
	breakoutVolumeStrong    = 1.5
	breakoutVolumeScore     = 0.4
	breakoutVolumeModerate  = 0.2
	breakoutVolumeFalseBrk  = -0.3
	breakoutStrengthScore   = 0.5
	breakoutConfidenceBase  = 0.5
	breakoutConfidenceStrgt = 0.2

	breakoutLevelFloor = 0.3
	breakoutATRMultSL  = 1.5
	breakoutATRMultTP  = 3.0
)

// breakoutWarmup is the bar count below which the strategy stays neutral
const breakoutWarmup = breakoutLookback + 10

// Breakout scores a symbol by how close price sits to the recent range
// boundary, confirmed or vetoed by relative volume.
type Breakout struct {
	log zerolog.Logger
}

// NewBreakout creates the breakout strategy
func NewBreakout(log zerolog.Logger) *Breakout {
	return &Breakout{log: log.With().Str("strategy", "breakout").Logger()}
}

// Name implements Strategy
func (b *Breakout) Name() string { return "breakout" }

// Analyze implements Strategy
func (b *Breakout) Analyze(bars Bars) Result {
	if bars.Len() < breakoutWarmup {
		b.log.Debug().Str("symbol", bars.Symbol).Int("bars", bars.Len()).Msg("insufficient history")
		return Result{}
	}

	closes := bars.Closes()
	highs := bars.Highs()
	lows := bars.Lows()

	atr := indicators.ATR(highs, lows, closes, breakoutATRPeriod)
	ratio := volumeRatio(bars.Volumes(), breakoutVolumePeriod)
	if atr == nil || ratio == nil {
		b.log.Debug().Str("symbol", bars.Symbol).Msg("indicator warmup")
		return Result{}
	}

	entry := closes[len(closes)-1]
	resistance, support := rangeLevels(highs, lows, breakoutLookback)

	strength, direction := breakoutSetup(entry, resistance, support)
	score := breakoutScore(*ratio, strength, direction)

	sl, tp := breakoutLevels(entry, score, *atr)

	return Result{
		Score:      score,
		Confidence: breakoutConfidence(*ratio, strength),
		StopLoss:   sl,
		TakeProfit: tp,
	}
}

// rangeLevels finds the lookback high and low that act as resistance and
// support
func rangeLevels(highs, lows []float64, lookback int) (resistance, support float64) {
	if len(highs) < lookback {
		lookback = len(highs)
	}

	resistance = highs[len(highs)-lookback]
	support = lows[len(lows)-lookback]
	for i := len(highs) - lookback; i < len(highs); i++ {
		if highs[i] > resistance {
			resistance = highs[i]
		}
		if lows[i] < support {
			support = lows[i]
		}
	}
	return resistance, support
}

// breakoutSetup measures how armed the breakout is. Strength approaches 1
// as price touches the level; direction is +1 at resistance, -1 at support,
// 0 mid-range.
func breakoutSetup(entry, resistance, support float64) (strength float64, direction int) {
	if entry <= 0 {
		return 0, 0
	}

	toResistance := (resistance - entry) / entry
	toSupport := (entry - support) / entry

	switch {
	case toResistance < breakoutThreshold:
		return 1 - toResistance/breakoutThreshold, 1
	case toSupport < breakoutThreshold:
		return 1 - toSupport/breakoutThreshold, -1
	default:
		return 0, 0
	}
}

// breakoutScore combines volume confirmation with setup strength and applies
// the direction sign
func breakoutScore(volumeRatio, strength float64, direction int) float64 {
	if direction == 0 || strength == 0 {
		return 0
	}

	var volumeScore float64
	switch {
	case volumeRatio > breakoutVolumeStrong:
		volumeScore = breakoutVolumeScore
	case volumeRatio > 1.0:
		volumeScore = breakoutVolumeModerate
	default:
		volumeScore = breakoutVolumeFalseBrk
	}

	score := (volumeScore + strength*breakoutStrengthScore) * float64(direction)
	return clamp(score, -1, 1)
}

// breakoutConfidence grows with volume confirmation and setup strength
func breakoutConfidence(volumeRatio, strength float64) float64 {
	confidence := breakoutConfidenceBase

	switch {
	case volumeRatio > breakoutVolumeStrong:
		confidence += 0.3
	case volumeRatio > 1.0:
		confidence += 0.1
	}

	confidence += strength * breakoutConfidenceStrgt
	return clamp(confidence, 0, 1)
}

// breakoutLevels derives SL/TP from ATR distance
func breakoutLevels(entry, score, atr float64) (sl, tp float64) {
	if score < breakoutLevelFloor && score > -breakoutLevelFloor {
		return 0, 0
	}

	stopDist := atr * breakoutATRMultSL
	takeDist := atr * breakoutATRMultTP

	if score > 0 {
		return entry - stopDist, entry + takeDist
	}
	return entry + stopDist, entry - takeDist
}
