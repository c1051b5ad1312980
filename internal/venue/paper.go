package venue

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
)

// PaperConnector serves venue rules and fees from configuration for
// sessions with no live exchange. It never executes anything: paper fills
// come from the execution simulator, so a submission reaching this
// connector is a wiring bug.
type PaperConnector struct {
	rules map[string]config.SymbolRuleConfig
	fees  config.PaperConfig
}

var _ domain.Connector = (*PaperConnector)(nil)

// NewPaperConnector creates a connector over the configured symbol rules
func NewPaperConnector(rules map[string]config.SymbolRuleConfig, fees config.PaperConfig) *PaperConnector {
	return &PaperConnector{rules: rules, fees: fees}
}

// Name implements domain.Connector
func (p *PaperConnector) Name() string { return "paper" }

// defaultRule covers symbols missing from the config table
var defaultRule = config.SymbolRuleConfig{
	PriceTick:   0.01,
	QtyStep:     0.00001,
	MinQty:      0.00001,
	MinNotional: 10.0,
}

// Rules implements domain.Connector
func (p *PaperConnector) Rules(_ context.Context, symbol string) (*domain.SymbolRules, error) {
	if r, ok := p.rules[symbol]; ok {
		return ruleFromConfig(symbol, r), nil
	}
	if r, ok := p.rules[strings.ToLower(symbol)]; ok {
		return ruleFromConfig(symbol, r), nil
	}
	return ruleFromConfig(symbol, defaultRule), nil
}

// Fees implements domain.Connector
func (p *PaperConnector) Fees(_ context.Context, symbol string) (*domain.FeeInfo, error) {
	return &domain.FeeInfo{
		Symbol:   symbol,
		MakerBps: p.fees.MakerFeeBps,
		TakerBps: p.fees.TakerFeeBps,
	}, nil
}

// SupportedOrderTypes implements domain.Connector. The simulator handles
// the full set, including stops.
func (p *PaperConnector) SupportedOrderTypes(context.Context, string) ([]domain.OrderType, error) {
	return []domain.OrderType{
		domain.OrderTypeLimit,
		domain.OrderTypeMarket,
		domain.OrderTypeStop,
		domain.OrderTypeStopLimit,
		domain.OrderTypeTakeProfit,
		domain.OrderTypeTakeProfitLimit,
	}, nil
}

// SubmitOrder implements domain.Connector
func (p *PaperConnector) SubmitOrder(context.Context, *domain.Order) (*domain.Fill, error) {
	return nil, fmt.Errorf("paper connector cannot execute orders; fills come from the simulator")
}

// SandboxFeed is a self-contained market data source for offline paper
// sessions: a seeded geometric random walk per symbol with a fixed
// proportional spread. It exists so the default configuration runs without
// network access; any configured REST URL replaces it.
type SandboxFeed struct {
	log zerolog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	walks map[string]*walk
}

type walk struct {
	price   float64
	candles []domain.Candle
}

const (
	sandboxSpread = 0.0005 // half-spread as a fraction of mid
	sandboxVol    = 0.004  // per-step standard deviation
	sandboxBars   = 400    // bars synthesized on first touch
)

var _ domain.DataEngine = (*SandboxFeed)(nil)

// NewSandboxFeed creates a sandbox feed. Seed 0 derives one from the clock.
func NewSandboxFeed(seed int64, log zerolog.Logger) *SandboxFeed {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SandboxFeed{
		log:   log.With().Str("component", "sandbox_feed").Logger(),
		rng:   rand.New(rand.NewSource(seed)),
		walks: make(map[string]*walk),
	}
}

// startPrice picks a plausible starting level per symbol so sized orders
// land in realistic notional ranges
func startPrice(symbol string) float64 {
	switch {
	case strings.HasPrefix(symbol, "BTC"):
		return 50000
	case strings.HasPrefix(symbol, "ETH"):
		return 2500
	default:
		return 100
	}
}

func (f *SandboxFeed) walkFor(symbol string) *walk {
	w, ok := f.walks[symbol]
	if ok {
		return w
	}

	w = &walk{price: startPrice(symbol)}
	now := time.Now().UTC().Truncate(time.Hour)
	first := now.Add(-time.Duration(sandboxBars) * time.Hour)
	price := w.price
	for i := 0; i < sandboxBars; i++ {
		open := price
		price = f.step(price)
		high := math.Max(open, price) * (1 + f.rng.Float64()*sandboxVol/2)
		low := math.Min(open, price) * (1 - f.rng.Float64()*sandboxVol/2)
		w.candles = append(w.candles, domain.Candle{
			Timestamp: first.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    1000 + f.rng.Float64()*500,
		})
	}
	w.price = price
	f.walks[symbol] = w
	return w
}

func (f *SandboxFeed) step(price float64) float64 {
	return price * math.Exp(f.rng.NormFloat64()*sandboxVol)
}

// Ticker implements domain.DataEngine
func (f *SandboxFeed) Ticker(_ context.Context, symbol string) (*domain.PriceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := f.walkFor(symbol)
	w.price = f.step(w.price)

	now := time.Now().UTC()
	mid := w.price
	return &domain.PriceData{
		Symbol:    symbol,
		Source:    "sandbox",
		Bid:       mid * (1 - sandboxSpread),
		Ask:       mid * (1 + sandboxSpread),
		Last:      mid,
		Price:     mid,
		Volume:    1000,
		Timestamp: now,
		FetchedAt: now,
	}, nil
}

// OHLCV implements domain.DataEngine
func (f *SandboxFeed) OHLCV(_ context.Context, symbol, _ string, limit int) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := f.walkFor(symbol)
	candles := w.candles
	if limit > 0 && limit < len(candles) {
		candles = candles[len(candles)-limit:]
	}
	out := make([]domain.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// Indicator implements domain.DataEngine by delegating to the candle history
func (f *SandboxFeed) Indicator(ctx context.Context, symbol string, spec domain.IndicatorSpec) (float64, error) {
	candles, err := f.OHLCV(ctx, symbol, "", 0)
	if err != nil {
		return 0, err
	}
	return indicatorFromCandles(symbol, spec, candles)
}
