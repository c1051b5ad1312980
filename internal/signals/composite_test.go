package signals

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/store"
)

// stubStrategy returns a fixed result regardless of input
type stubStrategy struct {
	name   string
	result Result
}

func (s stubStrategy) Name() string        { return s.name }
func (s stubStrategy) Analyze(Bars) Result { return s.result }

func TestScorerWeightsAndBias(t *testing.T) {
	scorer := NewScorer(zerolog.Nop(), []Strategy{
		stubStrategy{name: "a", result: Result{Score: 0.8, Confidence: 0.9}},
		stubStrategy{name: "b", result: Result{Score: 0.4, Confidence: 0.5}},
	}, map[string]float64{"a": 3, "b": 1})

	sig := scorer.Score(Bars{Symbol: "BTC/USDT", Timeframe: "1h"})

	// Weights normalize to 0.75/0.25; blend = 0.7, long bias 1.1 => 0.77
	assert.InDelta(t, 0.77, sig.Score, 1e-9)
	assert.Equal(t, domain.SideBuy, sig.Direction)
	assert.Equal(t, "a", sig.Strategy)
	require.Len(t, sig.SubSignals, 2)
	assert.InDelta(t, 0.75, sig.SubSignals[0].Weight, 1e-9)
}

func TestScorerShortBiasDampens(t *testing.T) {
	scorer := NewScorer(zerolog.Nop(), []Strategy{
		stubStrategy{name: "a", result: Result{Score: -0.6, Confidence: 0.7}},
	}, map[string]float64{"a": 1})

	sig := scorer.Score(Bars{Symbol: "BTC/USDT"})

	assert.InDelta(t, -0.57, sig.Score, 1e-9)
	assert.Equal(t, domain.SideSell, sig.Direction)
}

func TestScorerWinnerLevelsInherited(t *testing.T) {
	scorer := NewScorer(zerolog.Nop(), []Strategy{
		stubStrategy{name: "weak", result: Result{Score: 0.2, Confidence: 0.4}},
		stubStrategy{name: "strong", result: Result{Score: 0.9, Confidence: 0.8, StopLoss: 95, TakeProfit: 112}},
	}, map[string]float64{"weak": 1, "strong": 1})

	sig := scorer.Score(Bars{Symbol: "ETH/USDT"})

	assert.Equal(t, "strong", sig.Strategy)
	assert.Equal(t, 95.0, sig.StopLoss)
	assert.Equal(t, 112.0, sig.TakeProfit)
}

func TestScorerNoLevelsWhenWinnerOffersNone(t *testing.T) {
	scorer := NewScorer(zerolog.Nop(), []Strategy{
		stubStrategy{name: "a", result: Result{Score: 0.9, Confidence: 0.8}},
	}, map[string]float64{"a": 1})

	sig := scorer.Score(Bars{Symbol: "ETH/USDT"})

	assert.Zero(t, sig.StopLoss)
	assert.Zero(t, sig.TakeProfit)
}

func TestScorerClampsToUnit(t *testing.T) {
	scorer := NewScorer(zerolog.Nop(), []Strategy{
		stubStrategy{name: "a", result: Result{Score: 1.0, Confidence: 1.0}},
	}, map[string]float64{"a": 1})

	sig := scorer.Score(Bars{Symbol: "BTC/USDT"})

	assert.Equal(t, 1.0, sig.Score)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
}

func TestScorerDisagreementLowersConfidence(t *testing.T) {
	agree := NewScorer(zerolog.Nop(), []Strategy{
		stubStrategy{name: "a", result: Result{Score: 0.6, Confidence: 0.5}},
		stubStrategy{name: "b", result: Result{Score: 0.6, Confidence: 0.5}},
	}, map[string]float64{"a": 1, "b": 1})
	split := NewScorer(zerolog.Nop(), []Strategy{
		stubStrategy{name: "a", result: Result{Score: 0.6, Confidence: 0.5}},
		stubStrategy{name: "b", result: Result{Score: -0.6, Confidence: 0.5}},
	}, map[string]float64{"a": 1, "b": 1})

	agreed := agree.Score(Bars{Symbol: "BTC/USDT"})
	contested := split.Score(Bars{Symbol: "BTC/USDT"})

	assert.Greater(t, agreed.Confidence, contested.Confidence)
}

func gateConfig() config.GateConfig {
	return config.GateConfig{
		Mode:             "threshold",
		WindowSize:       200,
		Quantile:         0.70,
		MinWindow:        20,
		DefaultThreshold: 0.65,
		HardFloorMin:     0.30,
		ThresholdMargin:  0.05,
	}
}

func TestNormalizerDefaultUntilWarm(t *testing.T) {
	n := NewNormalizer(store.NewMemory(), gateConfig(), zerolog.Nop())
	key := domain.WindowKey{Symbol: "BTC/USDT", Timeframe: "1h", Strategy: "composite"}

	cal, err := n.Observe("s1", key, 0.72)
	require.NoError(t, err)

	assert.Equal(t, 0.72, cal.RawScore)
	assert.Equal(t, 0.72, cal.NormalizedScore)
	assert.Equal(t, 1, cal.WindowSize)
	assert.Equal(t, 0.65, cal.EffectiveThreshold)
}

func TestNormalizerQuantileAfterWarmup(t *testing.T) {
	n := NewNormalizer(store.NewMemory(), gateConfig(), zerolog.Nop())
	key := domain.WindowKey{Symbol: "BTC/USDT", Timeframe: "1h", Strategy: "composite"}

	// Scores 0.01..0.30; the 0.70 quantile sits well below the default
	var cal Calibration
	var err error
	for i := 1; i <= 30; i++ {
		cal, err = n.Observe("s1", key, float64(i)/100)
		require.NoError(t, err)
	}

	assert.Equal(t, 30, cal.WindowSize)
	assert.Less(t, cal.EffectiveThreshold, 0.65)
	assert.Greater(t, cal.EffectiveThreshold, 0.15)
}

func TestNormalizerUsesAbsoluteScores(t *testing.T) {
	n := NewNormalizer(store.NewMemory(), gateConfig(), zerolog.Nop())
	key := domain.WindowKey{Symbol: "ETH/USDT", Timeframe: "1h", Strategy: "composite"}

	var cal Calibration
	var err error
	for i := 1; i <= 30; i++ {
		score := float64(i) / 100
		if i%2 == 0 {
			score = -score
		}
		cal, err = n.Observe("s1", key, score)
		require.NoError(t, err)
	}

	// Negative observations contribute magnitude, not sign
	assert.Greater(t, cal.EffectiveThreshold, 0.0)
}

func TestNormalizerWindowBounded(t *testing.T) {
	cfg := gateConfig()
	cfg.WindowSize = 10
	n := NewNormalizer(store.NewMemory(), cfg, zerolog.Nop())
	key := domain.WindowKey{Symbol: "BTC/USDT", Timeframe: "1h", Strategy: "composite"}

	var cal Calibration
	var err error
	for i := 0; i < 25; i++ {
		cal, err = n.Observe("s1", key, 0.5)
		require.NoError(t, err)
	}

	assert.Equal(t, 10, cal.WindowSize)
}

func TestNormalizerKeysAreIndependent(t *testing.T) {
	n := NewNormalizer(store.NewMemory(), gateConfig(), zerolog.Nop())

	for i := 0; i < 25; i++ {
		_, err := n.Observe("s1", domain.WindowKey{Symbol: "BTC/USDT", Timeframe: "1h", Strategy: "composite"}, 0.9)
		require.NoError(t, err)
	}

	cal, err := n.Observe("s1", domain.WindowKey{Symbol: "SOL/USDT", Timeframe: "1h", Strategy: "composite"}, 0.4)
	require.NoError(t, err)

	// Fresh key starts its own window
	assert.Equal(t, 1, cal.WindowSize)
	assert.Equal(t, 0.65, cal.EffectiveThreshold)
}
