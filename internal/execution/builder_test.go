package execution

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/money"
)

func testRules() *domain.SymbolRules {
	return &domain.SymbolRules{
		Symbol:      "BTC/USDT",
		TickSize:    0.01,
		StepSize:    0.0001,
		MinQty:      0.0001,
		MinNotional: 10,
	}
}

func TestBuildQuantizesPriceAndQuantity(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	order, reason := b.Build(BuildRequest{
		SessionID: "sess",
		Symbol:    "BTC/USDT",
		Side:      domain.SideBuy,
		Type:      domain.OrderTypeLimit,
		Quantity:  0.12349,
		Price:     50000.126,
		Rules:     testRules(),
	})

	require.Equal(t, domain.RejectNone, reason)
	require.NotNil(t, order)
	assert.Equal(t, 50000.13, order.LimitPrice) // half-up to tick
	assert.Equal(t, 0.1234, order.Quantity)     // floored to step
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.NotEmpty(t, order.ID)
}

func TestBuildBumpsToMinNotional(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	rules := &domain.SymbolRules{Symbol: "DOGE/USDT", TickSize: 0.0001, StepSize: 0.001, MinNotional: 10}

	// Target notional 8 at price 0.1234 is below the venue minimum; one
	// retry bumps the quantity to the smallest compliant size.
	order, reason := b.Build(BuildRequest{
		Symbol:     "DOGE/USDT",
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Quantity:   8 / 0.1234,
		Price:      0.1234,
		MaxRetries: 1,
		Rules:      rules,
	})

	require.Equal(t, domain.RejectNone, reason)
	require.NotNil(t, order)
	assert.Equal(t, 81.038, order.Quantity)
	assert.GreaterOrEqual(t, money.Notional(order.Quantity, order.LimitPrice), 10.0)
}

func TestBuildMinNotionalRejectWithoutRetries(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	rules := &domain.SymbolRules{Symbol: "DOGE/USDT", TickSize: 0.0001, StepSize: 0.001, MinNotional: 10}

	order, reason := b.Build(BuildRequest{
		Symbol:     "DOGE/USDT",
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Quantity:   5 / 0.1234,
		Price:      0.1234,
		MaxRetries: 0,
		Rules:      rules,
	})

	assert.Nil(t, order)
	assert.Equal(t, domain.RejectMinNotional, reason)
}

func TestBuildExactMinimumsAccepted(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	rules := &domain.SymbolRules{TickSize: 0.01, StepSize: 0.0001, MinQty: 0.0002, MinNotional: 10}

	// Exactly min_qty and exactly min_notional pass without a bump
	order, reason := b.Build(BuildRequest{
		Symbol:   "BTC/USDT",
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: 0.0002,
		Price:    50000,
		Rules:    rules,
	})
	require.Equal(t, domain.RejectNone, reason)
	assert.Equal(t, 0.0002, order.Quantity)
	assert.Equal(t, 10.0, money.Notional(order.Quantity, order.LimitPrice))

	// One step below min_qty without retries is a precision failure
	_, reason = b.Build(BuildRequest{
		Symbol:   "BTC/USDT",
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: 0.0001,
		Price:    50000,
		Rules:    rules,
	})
	assert.Equal(t, domain.RejectPrecisionFail, reason)
}

func TestBuildBumpsToMinQty(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	rules := &domain.SymbolRules{StepSize: 0.0001, MinQty: 0.001}

	order, reason := b.Build(BuildRequest{
		Symbol:     "ETH/USDT",
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Quantity:   0.0009,
		Price:      2500,
		MaxRetries: 1,
		Rules:      rules,
	})

	require.Equal(t, domain.RejectNone, reason)
	assert.Equal(t, 0.001, order.Quantity)
}

func TestBuildPriceRange(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	tests := []struct {
		name  string
		price float64
		rules *domain.SymbolRules
		want  domain.RejectReason
	}{
		{
			name:  "below min price",
			price: 0.5,
			rules: &domain.SymbolRules{MinPrice: 1},
			want:  domain.RejectPriceOutOfRange,
		},
		{
			name:  "above max price",
			price: 2_000_000,
			rules: &domain.SymbolRules{MaxPrice: 1_000_000},
			want:  domain.RejectPriceOutOfRange,
		},
		{
			name:  "inside range",
			price: 100,
			rules: &domain.SymbolRules{MinPrice: 1, MaxPrice: 1_000_000},
			want:  domain.RejectNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reason := b.Build(BuildRequest{
				Symbol:   "BTC/USDT",
				Side:     domain.SideBuy,
				Type:     domain.OrderTypeLimit,
				Quantity: 1,
				Price:    tt.price,
				Rules:    tt.rules,
			})
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestBuildRejectsDegenerateInputs(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	_, reason := b.Build(BuildRequest{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 0, Price: 100})
	assert.Equal(t, domain.RejectZeroQuantity, reason)

	_, reason = b.Build(BuildRequest{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 0})
	assert.Equal(t, domain.RejectPriceOutOfRange, reason)

	// Quantity below one step with no retries has nothing to send
	_, reason = b.Build(BuildRequest{
		Symbol:   "BTC/USDT",
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: 0.00004,
		Price:    100,
		Rules:    &domain.SymbolRules{StepSize: 0.0001},
	})
	assert.Equal(t, domain.RejectZeroQuantity, reason)
}

func TestBuildDefaultsTimeInForce(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	market, reason := b.Build(BuildRequest{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1, Price: 100})
	require.Equal(t, domain.RejectNone, reason)
	assert.Equal(t, domain.TimeInForceIOC, market.TimeInForce)
	assert.Zero(t, market.LimitPrice)

	limit, reason := b.Build(BuildRequest{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 100})
	require.Equal(t, domain.RejectNone, reason)
	assert.Equal(t, domain.TimeInForceGTC, limit.TimeInForce)
	assert.Equal(t, 100.0, limit.LimitPrice)
}

func TestBuildStopPriceQuantized(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	order, reason := b.Build(BuildRequest{
		Symbol:    "BTC/USDT",
		Side:      domain.SideSell,
		Type:      domain.OrderTypeStop,
		Quantity:  0.5,
		Price:     50000,
		StopPrice: 49000.004,
		Rules:     &domain.SymbolRules{TickSize: 0.01, StepSize: 0.0001},
	})

	require.Equal(t, domain.RejectNone, reason)
	assert.Equal(t, 49000.0, order.StopPrice)
	// Pure stops trigger at StopPrice and execute as market
	assert.Zero(t, order.LimitPrice)
}

func TestBuildKeepsMetadata(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	md := domain.OrderMetadata{
		CycleID:  "cycle-7",
		Strategy: "momentum",
		Reason:   "entry",
		Score:    0.81,
	}
	order, reason := b.Build(BuildRequest{
		SessionID: "sess-1",
		Symbol:    "BTC/USDT",
		Side:      domain.SideBuy,
		Type:      domain.OrderTypeLimit,
		Quantity:  0.1,
		Price:     50000,
		Metadata:  md,
		Rules:     testRules(),
	})

	require.Equal(t, domain.RejectNone, reason)
	assert.Equal(t, md, order.Metadata)
	assert.Equal(t, "sess-1", order.SessionID)
	assert.False(t, order.ReduceOnly)
}
