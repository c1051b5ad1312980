package portfolio

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/lotbook"
	"github.com/quartzline/rudder/internal/store"
)

func TestHydrateSeedsNewSession(t *testing.T) {
	st := store.NewMemory()
	sess := &domain.Session{ID: "sess-new", Mode: domain.ModePaper, Status: domain.SessionActive, InitialCash: 25000}
	require.NoError(t, st.CreateSession(sess))

	p := New(st, lotbook.New(), false, zerolog.Nop())
	require.NoError(t, p.Hydrate(sess))

	assert.Equal(t, "sess-new", p.SessionID())
	assert.Equal(t, 25000.0, p.Cash())
	assert.Equal(t, 25000.0, p.Equity())
	assert.Zero(t, p.RealizedPnL())
	assert.Empty(t, p.Positions())

	ce, err := st.GetCashEquity("sess-new")
	require.NoError(t, err)
	require.NotNil(t, ce)
	assert.Equal(t, 25000.0, ce.Cash)
}

func TestHydrateLoadsExistingState(t *testing.T) {
	st := store.NewMemory()
	sess := &domain.Session{ID: "sess-old", Mode: domain.ModePaper, Status: domain.SessionActive, InitialCash: 10000}
	require.NoError(t, st.CreateSession(sess))

	require.NoError(t, st.SaveCashEquity(&domain.CashEquity{
		SessionID:   "sess-old",
		Cash:        8000,
		Equity:      10100,
		RealizedPnL: 50,
		FeesPaid:    12,
	}))
	require.NoError(t, st.UpsertPosition(&domain.Position{
		SessionID:     "sess-old",
		Symbol:        testSymbol,
		Strategy:      testStrategy,
		Quantity:      0.1,
		AvgEntryPrice: 50000,
		CurrentPrice:  51000,
	}))
	require.NoError(t, st.SaveLot(&domain.Lot{
		SessionID: "sess-old",
		Symbol:    testSymbol,
		Strategy:  testStrategy,
		TradeID:   "t-restore",
		Quantity:  0.1,
		Price:     50000,
	}))

	p := New(st, lotbook.New(), false, zerolog.Nop())
	require.NoError(t, p.Hydrate(sess))

	assert.InDelta(t, 8000, p.Cash(), 1e-9)
	assert.InDelta(t, 10100, p.Equity(), 1e-9)
	assert.InDelta(t, 50, p.RealizedPnL(), 1e-9)
	assert.InDelta(t, 12, p.FeesPaid(), 1e-9)

	pos := p.Position(testSymbol, testStrategy)
	require.NotNil(t, pos)
	assert.InDelta(t, 0.1, pos.Quantity, 1e-9)
	assert.InDelta(t, 51000, pos.CurrentPrice, 1e-9)

	assert.InDelta(t, 0.1, p.book.TotalQty(testSymbol, testStrategy), 1e-9)
	assert.InDelta(t, 5100, p.Deployed(), 1e-9)
	assert.InDelta(t, 5100, p.SymbolDeployed(testSymbol), 1e-9)
	assert.Zero(t, p.SymbolDeployed("ETH/USDT"))
}

// Shorts count into gross deployment at absolute value
func TestDeployedCountsShortsGross(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, true)

	_, err := p.ApplyFill(testFill(domain.SideSell, 0.1, 50000, 0))
	require.NoError(t, err)

	assert.InDelta(t, 5000, p.Deployed(), 1e-9)
	assert.InDelta(t, 5000, p.SymbolDeployed(testSymbol), 1e-9)
}

func TestPositionReturnsCopy(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, false)

	_, err := p.ApplyFill(testFill(domain.SideBuy, 0.1, 50000, 0))
	require.NoError(t, err)

	pos := p.Position(testSymbol, testStrategy)
	require.NotNil(t, pos)
	pos.Quantity = 99

	again := p.Position(testSymbol, testStrategy)
	assert.InDelta(t, 0.1, again.Quantity, 1e-9)
}

func TestMetaRoundTrip(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, false)

	got, err := p.Meta(testSymbol, testStrategy)
	require.NoError(t, err)
	assert.Nil(t, got)

	meta := &domain.PositionMeta{
		StopLoss:      49000,
		TakeProfit:    52500,
		HighWatermark: 50200,
		LowWatermark:  49800,
		BarsHeld:      3,
	}
	require.NoError(t, p.SaveMeta(testSymbol, testStrategy, meta))

	got, err = p.Meta(testSymbol, testStrategy)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta.StopLoss, got.StopLoss)
	assert.Equal(t, meta.TakeProfit, got.TakeProfit)
	assert.Equal(t, meta.BarsHeld, got.BarsHeld)

	require.NoError(t, p.DeleteMeta(testSymbol, testStrategy))
	got, err = p.Meta(testSymbol, testStrategy)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveMetaNilDeletes(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, false)

	require.NoError(t, p.SaveMeta(testSymbol, testStrategy, &domain.PositionMeta{StopLoss: 49000}))
	require.NoError(t, p.SaveMeta(testSymbol, testStrategy, nil))

	got, err := p.Meta(testSymbol, testStrategy)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHydrateNilSession(t *testing.T) {
	p := New(store.NewMemory(), lotbook.New(), false, zerolog.Nop())
	assert.Error(t, p.Hydrate(nil))
}
