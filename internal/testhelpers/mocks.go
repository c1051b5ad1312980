package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// MockDataEngine is a scripted implementation of domain.DataEngine for testing
type MockDataEngine struct {
	mu          sync.RWMutex
	quotes      map[string]domain.PriceData
	quoteErrs   map[string]error
	candles     map[string][]domain.Candle
	indicators  map[string]map[domain.IndicatorSpec]float64
	delay       time.Duration
	tickerCalls int
}

// NewMockDataEngine creates a new mock data engine
func NewMockDataEngine() *MockDataEngine {
	return &MockDataEngine{
		quotes:     make(map[string]domain.PriceData),
		quoteErrs:  make(map[string]error),
		candles:    make(map[string][]domain.Candle),
		indicators: make(map[string]map[domain.IndicatorSpec]float64),
	}
}

// SetQuote sets the ticker to return for a symbol
func (m *MockDataEngine) SetQuote(symbol string, quote domain.PriceData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	quote.Symbol = symbol
	m.quotes[symbol] = quote
	delete(m.quoteErrs, symbol)
}

// SetQuoteError sets the error to return for a symbol's ticker
func (m *MockDataEngine) SetQuoteError(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteErrs[symbol] = err
}

// SetCandles sets the OHLCV history to return for a symbol
func (m *MockDataEngine) SetCandles(symbol string, candles []domain.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = candles
}

// SetIndicator sets the value to return for an indicator request
func (m *MockDataEngine) SetIndicator(symbol string, spec domain.IndicatorSpec, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indicators[symbol] == nil {
		m.indicators[symbol] = make(map[domain.IndicatorSpec]float64)
	}
	m.indicators[symbol][spec] = value
}

// SetDelay makes every ticker fetch block for d, to exercise timeouts
func (m *MockDataEngine) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// TickerCalls returns how many ticker fetches were made
func (m *MockDataEngine) TickerCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tickerCalls
}

// Ticker implements domain.DataEngine
func (m *MockDataEngine) Ticker(ctx context.Context, symbol string) (*domain.PriceData, error) {
	m.mu.Lock()
	m.tickerCalls++
	delay := m.delay
	err, hasErr := m.quoteErrs[symbol]
	quote, ok := m.quotes[symbol]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if hasErr {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no quote for %s: %w", symbol, domain.ErrDataUnavailable)
	}
	out := quote
	return &out, nil
}

// OHLCV implements domain.DataEngine
func (m *MockDataEngine) OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	candles, ok := m.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("no candles for %s: %w", symbol, domain.ErrDataUnavailable)
	}
	if limit > 0 && limit < len(candles) {
		candles = candles[len(candles)-limit:]
	}
	out := make([]domain.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// Indicator implements domain.DataEngine
func (m *MockDataEngine) Indicator(ctx context.Context, symbol string, spec domain.IndicatorSpec) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if values, ok := m.indicators[symbol]; ok {
		if v, ok := values[spec]; ok {
			return v, nil
		}
	}
	return 0, fmt.Errorf("no %s(%d) for %s: %w", spec.Kind, spec.Period, symbol, domain.ErrDataUnavailable)
}

// Verify interface implementation
var _ domain.DataEngine = (*MockDataEngine)(nil)

// MockConnector is a scripted implementation of domain.Connector for testing.
// By default it fills limit orders fully at their limit price as a taker;
// tests override per-order behavior with SetFillFunc.
type MockConnector struct {
	mu         sync.RWMutex
	name       string
	rules      map[string]*domain.SymbolRules
	fees       map[string]*domain.FeeInfo
	orderTypes []domain.OrderType
	fillFunc   func(*domain.Order) (*domain.Fill, error)
	submitted  []*domain.Order
	submitErr  error
}

// NewMockConnector creates a new mock connector with permissive defaults
func NewMockConnector() *MockConnector {
	return &MockConnector{
		name:       "mock",
		rules:      make(map[string]*domain.SymbolRules),
		fees:       make(map[string]*domain.FeeInfo),
		orderTypes: []domain.OrderType{domain.OrderTypeLimit, domain.OrderTypeMarket},
	}
}

// SetRules sets the trading rules for a symbol
func (m *MockConnector) SetRules(symbol string, rules *domain.SymbolRules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[symbol] = rules
}

// SetFees sets the fee schedule for a symbol
func (m *MockConnector) SetFees(symbol string, fees *domain.FeeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees[symbol] = fees
}

// SetOrderTypes sets the order types the venue reports as supported
func (m *MockConnector) SetOrderTypes(types ...domain.OrderType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderTypes = types
}

// SetFillFunc overrides fill behavior for submitted orders
func (m *MockConnector) SetFillFunc(fn func(*domain.Order) (*domain.Fill, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillFunc = fn
}

// SetSubmitError makes every submission fail with err
func (m *MockConnector) SetSubmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// Submitted returns the orders received so far, in submission order
func (m *MockConnector) Submitted() []*domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Order, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// Name implements domain.Connector
func (m *MockConnector) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Rules implements domain.Connector
func (m *MockConnector) Rules(ctx context.Context, symbol string) (*domain.SymbolRules, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rules[symbol]; ok {
		return r, nil
	}
	// Permissive defaults keep tests that do not care about rules short
	return &domain.SymbolRules{
		Symbol:      symbol,
		TickSize:    0.01,
		StepSize:    0.000001,
		MinQty:      0.000001,
		MinNotional: 1.0,
		MinPrice:    0.0001,
		MaxPrice:    10000000,
	}, nil
}

// Fees implements domain.Connector
func (m *MockConnector) Fees(ctx context.Context, symbol string) (*domain.FeeInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.fees[symbol]; ok {
		return f, nil
	}
	return &domain.FeeInfo{Symbol: symbol, MakerBps: 10, TakerBps: 20}, nil
}

// SupportedOrderTypes implements domain.Connector
func (m *MockConnector) SupportedOrderTypes(ctx context.Context, symbol string) ([]domain.OrderType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.OrderType, len(m.orderTypes))
	copy(out, m.orderTypes)
	return out, nil
}

// SubmitOrder implements domain.Connector
func (m *MockConnector) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Fill, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, order)
	fillFunc := m.fillFunc
	err := m.submitErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fillFunc != nil {
		return fillFunc(order)
	}

	price := order.LimitPrice
	if price <= 0 {
		return nil, fmt.Errorf("mock connector cannot price order %s without a limit", order.ID)
	}
	fees, ferr := m.Fees(ctx, order.Symbol)
	if ferr != nil {
		return nil, ferr
	}
	return &domain.Fill{
		ExecutedAt: time.Now().UTC(),
		OrderID:    order.ID,
		TradeID:    order.ID + "-fill",
		Symbol:     order.Symbol,
		Strategy:   order.Metadata.Strategy,
		Side:       order.Side,
		Role:       domain.FeeRoleTaker,
		CycleID:    order.Metadata.CycleID,
		Quantity:   order.Quantity,
		Price:      price,
		Fee:        price * order.Quantity * fees.FeeFor(domain.FeeRoleTaker),
		ReduceOnly: order.ReduceOnly,
	}, nil
}

// Verify interface implementation
var _ domain.Connector = (*MockConnector)(nil)
