// Package regime classifies each symbol's market state from trend and
// volatility indicators and manages the volatility risk-on window that
// temporarily relaxes the entry gate.
package regime

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/indicators"
)

// Classification thresholds. Trend requires the fast EMA above the slow one
// with ADX confirming directional strength.
const (
	emaFastPeriod = 50
	emaSlowPeriod = 200
	adxPeriod     = 14
	adxTrendMin   = 20.0
)

// Reading is the regime verdict for one symbol in one cycle.
type Reading struct {
	Regime   domain.Regime
	EMAFast  float64
	EMASlow  float64
	ADX      float64
	ATR      float64
	ATRRatio float64 // ATR over its SMA; zero until both warm up
}

// Detector classifies symbols and tracks the risk-on window. Not safe for
// concurrent use; the engine owns it and calls from the cycle goroutine.
type Detector struct {
	log zerolog.Logger
	cfg config.RiskConfig

	riskOnRemaining int
}

// NewDetector creates a regime detector
func NewDetector(cfg config.RiskConfig, log zerolog.Logger) *Detector {
	return &Detector{
		log: log.With().Str("component", "regime").Logger(),
		cfg: cfg,
	}
}

// warmupBars is the minimum history for a non-unknown classification
func (d *Detector) warmupBars() int {
	warmup := emaSlowPeriod
	if d.cfg.ATRSMAPeriod > warmup {
		warmup = d.cfg.ATRSMAPeriod
	}
	return warmup
}

// Classify computes the regime reading for one symbol from its bar history,
// oldest first. Too little history or any degenerate indicator yields
// unknown, which excludes the symbol from entries.
func (d *Detector) Classify(symbol string, candles []domain.Candle) Reading {
	reading := Reading{Regime: domain.RegimeUnknown}

	if len(candles) < d.warmupBars() {
		d.log.Debug().Str("symbol", symbol).Int("bars", len(candles)).
			Int("warmup", d.warmupBars()).Msg("regime warmup")
		return reading
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	emaFast := indicators.EMA(closes, emaFastPeriod)
	emaSlow := indicators.EMA(closes, emaSlowPeriod)
	adx := indicators.ADX(highs, lows, closes, adxPeriod)
	if !usable(emaFast) || !usable(emaSlow) || !usable(adx) {
		d.log.Debug().Str("symbol", symbol).Msg("regime indicators unavailable")
		return reading
	}

	reading.EMAFast = *emaFast
	reading.EMASlow = *emaSlow
	reading.ADX = *adx

	if atr := indicators.ATR(highs, lows, closes, d.cfg.ATRPeriod); usable(atr) {
		reading.ATR = *atr
		if atrSMA := indicators.ATRSMA(highs, lows, closes, d.cfg.ATRPeriod, d.cfg.ATRSMAPeriod); usable(atrSMA) {
			reading.ATRRatio = *atr / *atrSMA
		}
	}

	if *emaFast > *emaSlow && *adx > adxTrendMin {
		reading.Regime = domain.RegimeTrend
	} else {
		reading.Regime = domain.RegimeRange
	}

	d.log.Info().
		Str("symbol", symbol).
		Str("regime", string(reading.Regime)).
		Float64("ema_fast", reading.EMAFast).
		Float64("ema_slow", reading.EMASlow).
		Float64("adx", reading.ADX).
		Float64("atr_ratio", reading.ATRRatio).
		Msg("REGIME")

	return reading
}

// usable reports whether an indicator value can drive a classification
func usable(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && *v > 0
}

// ObserveVolatility feeds one symbol's ATR ratio into the risk-on trigger.
// Crossing the threshold arms (or re-arms) the window for the configured
// number of cycles.
func (d *Detector) ObserveVolatility(symbol string, atrRatio float64) {
	if atrRatio < d.cfg.RiskOnRatio || atrRatio == 0 {
		return
	}

	if d.riskOnRemaining <= 0 {
		d.log.Info().
			Str("symbol", symbol).
			Float64("atr_ratio", atrRatio).
			Float64("threshold", d.cfg.RiskOnRatio).
			Int("cycles", d.cfg.RiskOnCycles).
			Msg("RISK_ON_ACTIVATED")
	}
	d.riskOnRemaining = d.cfg.RiskOnCycles
}

// RiskOn reports whether the risk-on window is currently active
func (d *Detector) RiskOn() bool { return d.riskOnRemaining > 0 }

// RiskOnFloor returns the hard-floor gate override while risk-on is active,
// or the given floor unchanged
func (d *Detector) RiskOnFloor(floor float64) float64 {
	if d.RiskOn() && d.cfg.RiskOnFloor < floor {
		return d.cfg.RiskOnFloor
	}
	return floor
}

// RiskPct returns the per-trade risk percentage, overridden upward while
// the risk-on window is active
func (d *Detector) RiskPct(base float64) float64 {
	if d.RiskOn() && d.cfg.RiskOnRiskPct > base {
		return d.cfg.RiskOnRiskPct
	}
	return base
}

// EndCycle decrements the risk-on window at the cycle boundary and logs
// expiry when it runs out
func (d *Detector) EndCycle() {
	if d.riskOnRemaining <= 0 {
		return
	}

	d.riskOnRemaining--
	if d.riskOnRemaining == 0 {
		d.log.Info().Msg("RISK_ON_EXPIRED")
	} else {
		d.log.Debug().Int("remaining", d.riskOnRemaining).Msg("risk-on window open")
	}
}

// FloorFor returns the score/RR floor for a reading, honoring the risk-on
// override on the score side
func (d *Detector) FloorFor(reading Reading) config.RegimeFloor {
	floor := d.cfg.FloorFor(string(reading.Regime))
	if d.RiskOn() {
		floor.Score = d.RiskOnFloor(floor.Score)
	}
	return floor
}
