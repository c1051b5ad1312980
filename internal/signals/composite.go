package signals

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/domain"
)

// Composite blending constants. Positive blends are nudged up and negative
// ones damped so marginally bullish readings survive the gate more often
// than marginally bearish ones.
const (
	compositeLongBias  = 1.1
	compositeShortBias = 0.95

	// A sub-signal counts toward directional agreement past this magnitude
	compositeAgreementBand = 0.1

	compositeAgreementBoost = 0.3
	compositeStrengthBoost  = 0.2
)

// Scorer blends the weighted strategies into one signed composite score per
// symbol. Weights are normalized at construction so only ratios matter;
// strategies missing from the weight map run at weight zero.
type Scorer struct {
	log        zerolog.Logger
	strategies []Strategy
	weights    map[string]float64
}

// NewScorer creates the composite scorer
func NewScorer(log zerolog.Logger, strategies []Strategy, weights map[string]float64) *Scorer {
	normalized := make(map[string]float64, len(weights))
	var total float64
	for _, s := range strategies {
		total += weights[s.Name()]
	}
	for _, s := range strategies {
		if total > 0 {
			normalized[s.Name()] = weights[s.Name()] / total
		}
	}

	return &Scorer{
		log:        log.With().Str("component", "scorer").Logger(),
		strategies: strategies,
		weights:    normalized,
	}
}

// Score runs every strategy over the bars and blends the results. The
// returned signal carries each component as a sub-signal, names the winning
// strategy, and inherits the winner's SL/TP levels when it offered them.
func (s *Scorer) Score(bars Bars) domain.Signal {
	subs := make([]domain.SubSignal, 0, len(s.strategies))
	results := make([]Result, 0, len(s.strategies))

	var weightedScore, weightedConfidence float64
	var winner *domain.SubSignal
	var winnerResult Result
	var winnerContribution float64

	for _, strat := range s.strategies {
		res := strat.Analyze(bars)
		weight := s.weights[strat.Name()]

		sub := domain.SubSignal{
			Name:       strat.Name(),
			Score:      res.Score,
			Weight:     weight,
			Confidence: res.Confidence,
		}
		subs = append(subs, sub)
		results = append(results, res)

		weightedScore += res.Score * weight
		weightedConfidence += res.Confidence * weight

		if contribution := math.Abs(res.Score * weight); winner == nil || contribution > winnerContribution {
			winnerContribution = contribution
			winnerResult = res
			winner = &subs[len(subs)-1]
		}
	}

	score := weightedScore
	if score > 0 {
		score *= compositeLongBias
	} else {
		score *= compositeShortBias
	}
	score = clamp(score, -1, 1)

	signal := domain.Signal{
		CreatedAt:  time.Now().UTC(),
		Symbol:     bars.Symbol,
		Score:      score,
		Confidence: compositeConfidence(results, weightedConfidence),
		Direction:  domain.SideBuy,
	}
	if score < 0 {
		signal.Direction = domain.SideSell
	}
	signal.SubSignals = subs

	if winner != nil {
		signal.Strategy = winner.Name
		if winnerResult.StopLoss != 0 && winnerResult.TakeProfit != 0 {
			signal.StopLoss = winnerResult.StopLoss
			signal.TakeProfit = winnerResult.TakeProfit
		}
	}

	s.log.Debug().
		Str("symbol", bars.Symbol).
		Float64("score", score).
		Float64("confidence", signal.Confidence).
		Str("winner", signal.Strategy).
		Msg("composite scored")

	return signal
}

// compositeConfidence starts from the weighted strategy confidence and adds
// boosts for directional agreement and average signal strength
func compositeConfidence(results []Result, weightedConfidence float64) float64 {
	if len(results) == 0 {
		return 0
	}

	var positive, negative int
	var strength float64
	for _, r := range results {
		switch {
		case r.Score > compositeAgreementBand:
			positive++
		case r.Score < -compositeAgreementBand:
			negative++
		}
		strength += math.Abs(r.Score)
	}

	agreement := float64(positive)
	if float64(negative) > agreement {
		agreement = float64(negative)
	}
	agreement /= float64(len(results))
	strength /= float64(len(results))

	confidence := weightedConfidence + agreement*compositeAgreementBoost + strength*compositeStrengthBoost
	return clamp(confidence, 0, 1)
}
