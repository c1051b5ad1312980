package risk

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
)

func stopConfig() config.StopConfig {
	return config.StopConfig{
		ATRMultSL:       1.2,
		ATRMultTP:       2.0,
		FallbackSLPct:   0.005,
		FallbackTPMult:  2.0,
		FallbackEnabled: true,
		MinSLAbs:        0.001,
		MinTPAbs:        0.002,
	}
}

func ptr(v float64) *float64 { return &v }

func TestDeriveUsesStrategyLevels(t *testing.T) {
	sm := NewStopModel(stopConfig(), zerolog.Nop())

	lv, reject := sm.Derive("BTC/USDT", domain.SideBuy, 100, 98, 104, ptr(2.0), 0)

	require.Equal(t, domain.RejectNone, reject)
	assert.Equal(t, LevelSourceStrategy, lv.Source)
	assert.InDelta(t, 98.0, lv.StopLoss, 1e-9)
	assert.InDelta(t, 104.0, lv.TakeProfit, 1e-9)
}

func TestDeriveRejectsWrongSideStrategyLevels(t *testing.T) {
	sm := NewStopModel(stopConfig(), zerolog.Nop())

	// Stop above a long entry is degenerate; the ATR tier takes over
	lv, reject := sm.Derive("BTC/USDT", domain.SideBuy, 100, 101, 104, ptr(2.0), 0)

	require.Equal(t, domain.RejectNone, reject)
	assert.Equal(t, LevelSourceATR, lv.Source)
	assert.InDelta(t, 97.6, lv.StopLoss, 1e-9)
	assert.InDelta(t, 104.0, lv.TakeProfit, 1e-9)
}

func TestDeriveATRDistances(t *testing.T) {
	sm := NewStopModel(stopConfig(), zerolog.Nop())

	tests := []struct {
		name   string
		side   domain.Side
		wantSL float64
		wantTP float64
	}{
		{name: "long", side: domain.SideBuy, wantSL: 97.6, wantTP: 104.0},
		{name: "short", side: domain.SideSell, wantSL: 102.4, wantTP: 96.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lv, reject := sm.Derive("ETH/USDT", tt.side, 100, 0, 0, ptr(2.0), 0)

			require.Equal(t, domain.RejectNone, reject)
			assert.Equal(t, LevelSourceATR, lv.Source)
			assert.InDelta(t, tt.wantSL, lv.StopLoss, 1e-9)
			assert.InDelta(t, tt.wantTP, lv.TakeProfit, 1e-9)
		})
	}
}

func TestDerivePercentFallback(t *testing.T) {
	sm := NewStopModel(stopConfig(), zerolog.Nop())

	lv, reject := sm.Derive("BTC/USDT", domain.SideBuy, 100, 0, 0, nil, 0)

	require.Equal(t, domain.RejectNone, reject)
	assert.Equal(t, LevelSourcePercent, lv.Source)
	assert.InDelta(t, 99.5, lv.StopLoss, 1e-9)
	assert.InDelta(t, 101.0, lv.TakeProfit, 1e-9)
}

func TestDeriveMinAbsoluteDistances(t *testing.T) {
	sm := NewStopModel(stopConfig(), zerolog.Nop())

	// At a 0.10 entry the percent distances undershoot the absolute
	// minimums, which take over
	lv, reject := sm.Derive("SHIB/USDT", domain.SideBuy, 0.10, 0, 0, nil, 0)

	require.Equal(t, domain.RejectNone, reject)
	assert.InDelta(t, 0.099, lv.StopLoss, 1e-9)
	assert.InDelta(t, 0.102, lv.TakeProfit, 1e-9)
}

func TestDeriveFallbackDisabled(t *testing.T) {
	cfg := stopConfig()
	cfg.FallbackEnabled = false
	sm := NewStopModel(cfg, zerolog.Nop())

	_, reject := sm.Derive("BTC/USDT", domain.SideBuy, 100, 0, 0, nil, 0)

	assert.Equal(t, domain.RejectNoATRNoFallback, reject)
}

func TestDeriveSnapsToTick(t *testing.T) {
	sm := NewStopModel(stopConfig(), zerolog.Nop())

	lv, reject := sm.Derive("BTC/USDT", domain.SideBuy, 100, 97.996, 104.004, nil, 0.01)

	require.Equal(t, domain.RejectNone, reject)
	assert.InDelta(t, 98.0, lv.StopLoss, 1e-9)
	assert.InDelta(t, 104.0, lv.TakeProfit, 1e-9)
}

func TestDeriveNeverEqualsEntry(t *testing.T) {
	sm := NewStopModel(stopConfig(), zerolog.Nop())

	// Rounding lands both levels on the entry; they get pushed one tick off
	lv, reject := sm.Derive("BTC/USDT", domain.SideBuy, 100, 99.996, 100.004, nil, 0.01)

	require.Equal(t, domain.RejectNone, reject)
	assert.InDelta(t, 99.99, lv.StopLoss, 1e-9)
	assert.InDelta(t, 100.01, lv.TakeProfit, 1e-9)

	lv, reject = sm.Derive("BTC/USDT", domain.SideSell, 100, 100.004, 99.996, nil, 0.01)

	require.Equal(t, domain.RejectNone, reject)
	assert.InDelta(t, 100.01, lv.StopLoss, 1e-9)
	assert.InDelta(t, 99.99, lv.TakeProfit, 1e-9)
}

func TestDeriveRejectsBadEntry(t *testing.T) {
	sm := NewStopModel(stopConfig(), zerolog.Nop())

	_, reject := sm.Derive("BTC/USDT", domain.SideBuy, 0, 98, 104, nil, 0)

	assert.Equal(t, domain.RejectPriceOutOfRange, reject)
}

func TestStopFallbackLogsOncePerCycle(t *testing.T) {
	var buf bytes.Buffer
	sm := NewStopModel(stopConfig(), zerolog.New(&buf))

	_, _ = sm.Derive("BTC/USDT", domain.SideBuy, 100, 0, 0, nil, 0)
	_, _ = sm.Derive("BTC/USDT", domain.SideBuy, 100, 0, 0, nil, 0)
	assert.Equal(t, 1, strings.Count(buf.String(), "STOP_FALLBACK"))

	// A different symbol still logs within the same cycle
	_, _ = sm.Derive("ETH/USDT", domain.SideBuy, 100, 0, 0, nil, 0)
	assert.Equal(t, 2, strings.Count(buf.String(), "STOP_FALLBACK"))

	sm.ResetCycle()
	_, _ = sm.Derive("BTC/USDT", domain.SideBuy, 100, 0, 0, nil, 0)
	assert.Equal(t, 3, strings.Count(buf.String(), "STOP_FALLBACK"))
}

func TestRiskReward(t *testing.T) {
	tests := []struct {
		name  string
		entry float64
		sl    float64
		tp    float64
		want  float64
	}{
		{name: "long 2R", entry: 50000, sl: 49000, tp: 52000, want: 2.0},
		{name: "short 2R", entry: 100, sl: 102, tp: 96, want: 2.0},
		{name: "stop on entry", entry: 100, sl: 100, tp: 104, want: 0},
		{name: "zero entry", entry: 0, sl: 98, tp: 104, want: 0},
		{name: "zero stop", entry: 100, sl: 0, tp: 104, want: 0},
		{name: "zero target", entry: 100, sl: 98, tp: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RiskReward(tt.entry, tt.sl, tt.tp), 1e-9)
		})
	}
}
