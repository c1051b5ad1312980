package signals

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/store"
)

// Calibration is the gate context for one observed composite score. Until
// the window warms up, EffectiveThreshold is the configured default.
type Calibration struct {
	RawScore           float64
	NormalizedScore    float64
	EffectiveThreshold float64
	WindowSize         int
}

// Normalizer calibrates the entry threshold from the rolling history of
// composite scores. Each observation lands in the store-backed window for
// its (symbol, timeframe, strategy) key; the effective threshold is the
// configured quantile of the window's absolute scores, so the gate adapts
// to what the scorer has actually been producing.
type Normalizer struct {
	log   zerolog.Logger
	store store.Store
	cfg   config.GateConfig
}

// NewNormalizer creates a normalizer over the given store
func NewNormalizer(st store.Store, cfg config.GateConfig, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		log:   log.With().Str("component", "normalizer").Logger(),
		store: st,
		cfg:   cfg,
	}
}

// Observe records a composite score into its rolling window and returns the
// calibration derived from the updated window
func (n *Normalizer) Observe(sessionID string, key domain.WindowKey, raw float64) (Calibration, error) {
	if err := n.store.AppendScore(sessionID, key, raw); err != nil {
		return Calibration{}, fmt.Errorf("failed to record score observation: %w", err)
	}
	if err := n.store.PruneScores(sessionID, key, n.cfg.WindowSize); err != nil {
		return Calibration{}, fmt.Errorf("failed to prune score window: %w", err)
	}

	scores, err := n.store.RecentScores(sessionID, key, n.cfg.WindowSize)
	if err != nil {
		return Calibration{}, fmt.Errorf("failed to load score window: %w", err)
	}

	cal := Calibration{
		RawScore:        raw,
		NormalizedScore: clamp(raw, -1, 1),
		WindowSize:      len(scores),
	}
	cal.EffectiveThreshold = n.threshold(scores)

	n.log.Debug().
		Str("symbol", key.Symbol).
		Str("strategy", key.Strategy).
		Float64("raw", cal.RawScore).
		Float64("threshold", cal.EffectiveThreshold).
		Int("window", cal.WindowSize).
		Msg("score observed")

	return cal, nil
}

// threshold computes the effective threshold as the configured quantile of
// the window's absolute scores, or the default until enough observations
// have accumulated
func (n *Normalizer) threshold(scores []float64) float64 {
	if len(scores) < n.cfg.MinWindow {
		return n.cfg.DefaultThreshold
	}

	abs := make([]float64, len(scores))
	for i, s := range scores {
		abs[i] = math.Abs(s)
	}
	sort.Float64s(abs)

	return stat.Quantile(n.cfg.Quantile, stat.Empirical, abs, nil)
}
