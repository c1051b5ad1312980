// Package venue talks to the exchange. Client implements both the data
// engine (tickers, candles, indicators) and the connector (rules, fees,
// order submission) over the venue's REST API, with an optional websocket
// stream serving quotes between REST fetches. Every REST call passes the
// venue token bucket and the circuit breaker; an open breaker reads as
// data-unavailable so the cycle drops the symbol instead of aborting.
package venue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/metrics"
)

// Client is the REST-backed venue adapter.
type Client struct {
	log     zerolog.Logger
	cfg     config.VenueConfig
	rest    *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	met     *metrics.Registry
	stream  *Stream
	rules   map[string]config.SymbolRuleConfig

	// indicator computation fetches its own candle history
	timeframe   string
	historyBars int

	mu         sync.RWMutex
	ruleCache  map[string]*domain.SymbolRules
	feeCache   map[string]*domain.FeeInfo
	typesCache []domain.OrderType
}

var (
	_ domain.DataEngine = (*Client)(nil)
	_ domain.Connector  = (*Client)(nil)
)

// NewClient creates a venue client. met may be nil in tests; stream may be
// nil when no websocket URL is configured.
func NewClient(cfg config.VenueConfig, engine config.EngineConfig,
	rules map[string]config.SymbolRuleConfig, met *metrics.Registry, log zerolog.Logger) *Client {
	rest := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Accept", "application/json")

	c := &Client{
		log:         log.With().Str("component", "venue").Str("venue", cfg.Name).Logger(),
		cfg:         cfg,
		rest:        rest,
		limiter:     rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), cfg.Burst),
		met:         met,
		rules:       rules,
		timeframe:   engine.Timeframe,
		historyBars: engine.HistoryBars,
		ruleCache:   make(map[string]*domain.SymbolRules),
		feeCache:    make(map[string]*domain.FeeInfo),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("venue breaker state change")
			if c.met != nil {
				if to == gobreaker.StateOpen {
					c.met.BreakerOpen.Set(1)
				} else {
					c.met.BreakerOpen.Set(0)
				}
			}
		},
	})

	if cfg.WSURL != "" {
		c.stream = NewStream(cfg.WSURL, log)
	}

	return c
}

// Name implements domain.Connector
func (c *Client) Name() string { return c.cfg.Name }

// Stream returns the websocket quote stream, or nil when none is configured
func (c *Client) Stream() *Stream { return c.stream }

// venueSymbol maps the canonical BASE/QUOTE form to the venue's compact
// symbol (BTC/USDT -> BTCUSDT)
func venueSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// get performs a rate-limited, breaker-guarded GET and decodes the JSON
// response into out
func (c *Client) get(ctx context.Context, endpoint, path string, query map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		req := c.rest.R().SetContext(ctx).SetResult(out)
		if query != nil {
			req.SetQueryParams(query)
		}
		resp, err := req.Get(path)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("venue returned %d: %s", resp.StatusCode(), resp.String())
		}
		return nil, nil
	})

	c.count(endpoint, err)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	return nil
}

func (c *Client) count(endpoint string, err error) {
	if c.met == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.met.VenueRequests.WithLabelValues(endpoint, result).Inc()
}

// configuredRule returns the config-supplied rules for a symbol, when any
func (c *Client) configuredRule(symbol string) (config.SymbolRuleConfig, bool) {
	if r, ok := c.rules[symbol]; ok {
		return r, true
	}
	if r, ok := c.rules[strings.ToLower(symbol)]; ok {
		return r, true
	}
	return config.SymbolRuleConfig{}, false
}

func ruleFromConfig(symbol string, r config.SymbolRuleConfig) *domain.SymbolRules {
	return &domain.SymbolRules{
		Symbol:       symbol,
		TickSize:     r.PriceTick,
		StepSize:     r.QtyStep,
		MinQty:       r.MinQty,
		MinNotional:  r.MinNotional,
		ShortEnabled: r.AllowShort,
	}
}

// staleAfter is how old a stream quote may be before Ticker falls back to
// REST
const streamQuoteMaxAge = 10 * time.Second

// Ticker implements domain.DataEngine. A fresh stream quote short-circuits
// the REST round trip.
func (c *Client) Ticker(ctx context.Context, symbol string) (*domain.PriceData, error) {
	if c.stream != nil {
		if q, ok := c.stream.Quote(symbol); ok && time.Since(q.FetchedAt) <= streamQuoteMaxAge {
			return &q, nil
		}
	}
	return c.restTicker(ctx, symbol)
}
