package portfolio

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/lotbook"
	"github.com/quartzline/rudder/internal/store"
)

const (
	testSymbol   = "BTC/USDT"
	testStrategy = "momentum"
)

func newTestPortfolio(t *testing.T, initialCash float64, allowShort bool) (*Portfolio, *store.Memory) {
	t.Helper()

	st := store.NewMemory()
	sess := &domain.Session{
		ID:          "sess-1",
		Mode:        domain.ModePaper,
		Status:      domain.SessionActive,
		InitialCash: initialCash,
	}
	require.NoError(t, st.CreateSession(sess))

	p := New(st, lotbook.New(), allowShort, zerolog.Nop())
	require.NoError(t, p.Hydrate(sess))
	return p, st
}

func testFill(side domain.Side, qty, price, fee float64) *domain.Fill {
	return &domain.Fill{
		ExecutedAt: time.Now().UTC(),
		OrderID:    uuid.NewString(),
		TradeID:    uuid.NewString(),
		Symbol:     testSymbol,
		Strategy:   testStrategy,
		Side:       side,
		Role:       domain.FeeRoleTaker,
		CycleID:    "cycle-1",
		Reason:     "entry",
		Quantity:   qty,
		Price:      price,
		Fee:        fee,
	}
}

func mark(t *testing.T, p *Portfolio, price float64) {
	t.Helper()
	_, err := p.MarkPositions(map[string]float64{testSymbol: price})
	require.NoError(t, err)
}

// A full round trip with zero fees: buy 0.1 at 50000, scale out in two
// halves at 50400 and 50750. Cash must return to exactly the starting
// amount and the price gains land in realized P&L.
func TestApplyFillRoundTrip(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, false)

	res, err := p.ApplyFill(testFill(domain.SideBuy, 0.1, 50000, 0))
	require.NoError(t, err)
	assert.True(t, res.OpenedExposure)
	assert.InDelta(t, 5000, p.Cash(), 1e-9)
	assert.InDelta(t, 10000, p.Equity(), 1e-9)

	mark(t, p, 50400)
	res, err = p.ApplyFill(testFill(domain.SideSell, 0.05, 50400, 0))
	require.NoError(t, err)
	assert.False(t, res.OpenedExposure)
	assert.InDelta(t, 7500, p.Cash(), 1e-9)
	assert.InDelta(t, 20, res.RealizedDelta, 1e-9)
	assert.InDelta(t, 10040, p.Equity(), 1e-9)

	mark(t, p, 50750)
	res, err = p.ApplyFill(testFill(domain.SideSell, 0.05, 50750, 0))
	require.NoError(t, err)
	assert.InDelta(t, 37.5, res.RealizedDelta, 1e-9)

	assert.Equal(t, 10000.0, p.Cash())
	assert.InDelta(t, 57.5, p.RealizedPnL(), 1e-9)
	assert.InDelta(t, 10057.5, p.Equity(), 1e-9)
	assert.Nil(t, p.Position(testSymbol, testStrategy))
	assert.Zero(t, p.book.TotalQty(testSymbol, testStrategy))
}

// Sells consume lots oldest first. Two lots at 100 and 120, selling 1.5
// at 130 realizes 30 from the first lot and 5 from half the second,
// leaving 0.5 of the 120 lot.
func TestApplyFillConsumesFIFO(t *testing.T) {
	p, _ := newTestPortfolio(t, 1000, false)

	_, err := p.ApplyFill(testFill(domain.SideBuy, 1, 100, 0))
	require.NoError(t, err)
	mark(t, p, 120)
	_, err = p.ApplyFill(testFill(domain.SideBuy, 1, 120, 0))
	require.NoError(t, err)

	pos := p.Position(testSymbol, testStrategy)
	require.NotNil(t, pos)
	assert.InDelta(t, 2, pos.Quantity, 1e-9)
	assert.InDelta(t, 110, pos.AvgEntryPrice, 1e-9)

	mark(t, p, 130)
	res, err := p.ApplyFill(testFill(domain.SideSell, 1.5, 130, 0))
	require.NoError(t, err)
	assert.InDelta(t, 35, res.RealizedDelta, 1e-9)

	lots := p.book.Lots(testSymbol, testStrategy)
	require.Len(t, lots, 1)
	assert.InDelta(t, 0.5, lots[0].Quantity, 1e-9)
	assert.InDelta(t, 120, lots[0].Price, 1e-9)

	pos = p.Position(testSymbol, testStrategy)
	require.NotNil(t, pos)
	assert.InDelta(t, 0.5, pos.Quantity, 1e-9)
	assert.InDelta(t, 110, pos.AvgEntryPrice, 1e-9)
}

// Several partial sells must realize exactly what one aggregate sell of
// the same total quantity would.
func TestApplyFillPartialSellsMatchAggregate(t *testing.T) {
	seed := func(t *testing.T, p *Portfolio) {
		_, err := p.ApplyFill(testFill(domain.SideBuy, 0.2, 100, 0))
		require.NoError(t, err)
		mark(t, p, 110)
		_, err = p.ApplyFill(testFill(domain.SideBuy, 0.2, 110, 0))
		require.NoError(t, err)
		mark(t, p, 120)
	}

	single, _ := newTestPortfolio(t, 1000, false)
	seed(t, single)
	res, err := single.ApplyFill(testFill(domain.SideSell, 0.3, 120, 0))
	require.NoError(t, err)

	split, _ := newTestPortfolio(t, 1000, false)
	seed(t, split)
	var total float64
	for i := 0; i < 3; i++ {
		r, err := split.ApplyFill(testFill(domain.SideSell, 0.1, 120, 0))
		require.NoError(t, err)
		total += r.RealizedDelta
	}

	assert.InDelta(t, res.RealizedDelta, total, 1e-9)
	assert.InDelta(t, single.Cash(), split.Cash(), 1e-9)
	assert.InDelta(t, single.RealizedPnL(), split.RealizedPnL(), 1e-9)
}

// A zero-fee round trip at one price must restore cash exactly and
// realize nothing.
func TestApplyFillZeroFeeRoundTripIsLossless(t *testing.T) {
	p, _ := newTestPortfolio(t, 500, false)

	_, err := p.ApplyFill(testFill(domain.SideBuy, 0.2, 100, 0))
	require.NoError(t, err)
	_, err = p.ApplyFill(testFill(domain.SideSell, 0.2, 100, 0))
	require.NoError(t, err)

	assert.Equal(t, 500.0, p.Cash())
	assert.Zero(t, p.RealizedPnL())
	assert.Equal(t, 500.0, p.Equity())
	assert.Nil(t, p.Position(testSymbol, testStrategy))
}

// With fees the round trip loses exactly the fees: the entry fee rides on
// the lot and comes out of realized P&L when the lot is consumed, the exit
// fee comes straight out of cash.
func TestApplyFillFeesReduceRealized(t *testing.T) {
	p, _ := newTestPortfolio(t, 1000, false)

	_, err := p.ApplyFill(testFill(domain.SideBuy, 1, 100, 0.5))
	require.NoError(t, err)
	assert.InDelta(t, 899.5, p.Cash(), 1e-9)

	res, err := p.ApplyFill(testFill(domain.SideSell, 1, 100, 0.5))
	require.NoError(t, err)

	// realized = proceeds - cost basis - entry fee = -0.5
	assert.InDelta(t, -0.5, res.RealizedDelta, 1e-9)
	// cash = 899.5 + cost basis + entry fee - exit fee
	assert.InDelta(t, 999.5, p.Cash(), 1e-9)
	assert.InDelta(t, 999.0, p.Equity(), 1e-9)
	assert.InDelta(t, 1.0, p.FeesPaid(), 1e-9)
}

func TestApplyFillDuplicateTradeIsSkipped(t *testing.T) {
	p, st := newTestPortfolio(t, 10000, false)

	f := testFill(domain.SideBuy, 0.1, 50000, 0)
	_, err := p.ApplyFill(f)
	require.NoError(t, err)
	cashAfter := p.Cash()

	res, err := p.ApplyFill(f)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Nil(t, res.Trade)
	assert.Equal(t, cashAfter, p.Cash())

	trades, err := st.ListTrades("sess-1", 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestApplyFillBudgetExhausted(t *testing.T) {
	p, st := newTestPortfolio(t, 100, false)

	_, err := p.ApplyFill(testFill(domain.SideBuy, 1, 200, 0))
	require.ErrorIs(t, err, domain.ErrBudgetExhausted)

	assert.Equal(t, 100.0, p.Cash())
	assert.Nil(t, p.Position(testSymbol, testStrategy))
	trades, err := st.ListTrades("sess-1", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
	lots, err := st.ListLots("sess-1")
	require.NoError(t, err)
	assert.Empty(t, lots)
}

func TestApplyFillSellBeyondLotsRejected(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, false)

	_, err := p.ApplyFill(testFill(domain.SideBuy, 0.1, 50000, 0))
	require.NoError(t, err)

	_, err = p.ApplyFill(testFill(domain.SideSell, 0.2, 50000, 0))
	require.ErrorIs(t, err, domain.ErrInsufficientLots)

	// nothing moved
	pos := p.Position(testSymbol, testStrategy)
	require.NotNil(t, pos)
	assert.InDelta(t, 0.1, pos.Quantity, 1e-9)
	assert.InDelta(t, 0.1, p.book.TotalQty(testSymbol, testStrategy), 1e-9)
	assert.InDelta(t, 5000, p.Cash(), 1e-9)
}

func TestApplyFillSellWhenFlatRejected(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, false)

	_, err := p.ApplyFill(testFill(domain.SideSell, 0.1, 50000, 0))
	require.ErrorIs(t, err, domain.ErrInsufficientLots)
	assert.Equal(t, 10000.0, p.Cash())
}

// With short remainders enabled a sell from flat opens a negative
// position, banking the full proceeds. Covering at a lower price
// realizes the difference against the short's average entry.
func TestApplyFillShortOpenAndCover(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, true)

	res, err := p.ApplyFill(testFill(domain.SideSell, 0.1, 50000, 0))
	require.NoError(t, err)
	assert.True(t, res.OpenedExposure)
	assert.InDelta(t, 15000, p.Cash(), 1e-9)

	pos := p.Position(testSymbol, testStrategy)
	require.NotNil(t, pos)
	assert.InDelta(t, -0.1, pos.Quantity, 1e-9)
	assert.InDelta(t, 50000, pos.AvgEntryPrice, 1e-9)
	assert.Empty(t, p.book.Lots(testSymbol, testStrategy))

	mark(t, p, 49000)
	assert.InDelta(t, 10100, p.Equity(), 1e-9)

	res, err = p.ApplyFill(testFill(domain.SideBuy, 0.1, 49000, 0))
	require.NoError(t, err)
	assert.InDelta(t, 100, res.RealizedDelta, 1e-9)
	assert.InDelta(t, 10000, p.Cash(), 1e-9)
	assert.InDelta(t, 10100, p.Equity(), 1e-9)
	assert.Nil(t, p.Position(testSymbol, testStrategy))
}

// A buy larger than the open short covers it and opens a long with the
// excess, splitting the fee across both legs by quantity.
func TestApplyFillBuyThroughZero(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, true)

	_, err := p.ApplyFill(testFill(domain.SideSell, 0.1, 50000, 0))
	require.NoError(t, err)
	mark(t, p, 49000)

	res, err := p.ApplyFill(testFill(domain.SideBuy, 0.15, 49000, 6))
	require.NoError(t, err)
	assert.True(t, res.OpenedExposure)
	assert.InDelta(t, 100, res.RealizedDelta, 1e-9)

	// 15000 - (50000*0.1 + 4) - (49000*0.05 + 2)
	assert.InDelta(t, 7544, p.Cash(), 1e-9)

	pos := p.Position(testSymbol, testStrategy)
	require.NotNil(t, pos)
	assert.InDelta(t, 0.05, pos.Quantity, 1e-9)
	assert.InDelta(t, 49000, pos.AvgEntryPrice, 1e-9)

	lots := p.book.Lots(testSymbol, testStrategy)
	require.Len(t, lots, 1)
	assert.InDelta(t, 0.05, lots[0].Quantity, 1e-9)
	assert.InDelta(t, 2, lots[0].Fee, 1e-9)
}

// A sell beyond the open lots flips the position short when remainders
// are enabled: the long legs realize against their lots, the excess
// opens a short at the fill price.
func TestApplyFillSellThroughZero(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, true)

	_, err := p.ApplyFill(testFill(domain.SideBuy, 0.1, 50000, 0))
	require.NoError(t, err)
	mark(t, p, 51000)

	res, err := p.ApplyFill(testFill(domain.SideSell, 0.15, 51000, 0))
	require.NoError(t, err)
	assert.True(t, res.OpenedExposure)
	assert.InDelta(t, 100, res.RealizedDelta, 1e-9)

	pos := p.Position(testSymbol, testStrategy)
	require.NotNil(t, pos)
	assert.InDelta(t, -0.05, pos.Quantity, 1e-9)
	assert.InDelta(t, 51000, pos.AvgEntryPrice, 1e-9)
	assert.Empty(t, p.book.Lots(testSymbol, testStrategy))

	// 5000 + lot cost basis back + short proceeds
	assert.InDelta(t, 5000+5000+2550, p.Cash(), 1e-9)
}

// Adding to a long at a new price produces a weighted average entry and a
// second lot; the existing TP ladder stays, so no new exposure is flagged.
func TestApplyFillAddToLong(t *testing.T) {
	p, _ := newTestPortfolio(t, 20000, false)

	_, err := p.ApplyFill(testFill(domain.SideBuy, 0.1, 50000, 0))
	require.NoError(t, err)
	mark(t, p, 52000)

	res, err := p.ApplyFill(testFill(domain.SideBuy, 0.1, 52000, 0))
	require.NoError(t, err)
	assert.False(t, res.OpenedExposure)

	pos := p.Position(testSymbol, testStrategy)
	require.NotNil(t, pos)
	assert.InDelta(t, 0.2, pos.Quantity, 1e-9)
	assert.InDelta(t, 51000, pos.AvgEntryPrice, 1e-9)
	assert.Len(t, p.book.Lots(testSymbol, testStrategy), 2)
}

// A fill whose price is far from the position's last valuation moves
// equity by more than its fee and must be discarded: the balance, the
// position row and the lot book all return to their prior state, and no
// trade or lot row is written.
func TestApplyFillInvariantViolationRollsBack(t *testing.T) {
	p, st := newTestPortfolio(t, 10000, false)

	_, err := p.ApplyFill(testFill(domain.SideBuy, 0.1, 50000, 0))
	require.NoError(t, err)

	bad := testFill(domain.SideBuy, 0.0001, 80000, 0)
	_, err = p.ApplyFill(bad)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	assert.InDelta(t, 5000, p.Cash(), 1e-9)
	assert.InDelta(t, 10000, p.Equity(), 1e-9)

	pos := p.Position(testSymbol, testStrategy)
	require.NotNil(t, pos)
	assert.InDelta(t, 0.1, pos.Quantity, 1e-9)
	assert.InDelta(t, 50000, pos.CurrentPrice, 1e-9)

	stored, err := st.GetPosition("sess-1", testSymbol, testStrategy)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, stored.Quantity, 1e-9)
	assert.InDelta(t, 50000, stored.CurrentPrice, 1e-9)

	ce, err := st.GetCashEquity("sess-1")
	require.NoError(t, err)
	assert.InDelta(t, 5000, ce.Cash, 1e-9)

	trades, err := st.ListTrades("sess-1", 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	lots, err := st.ListLots("sess-1")
	require.NoError(t, err)
	assert.Len(t, lots, 1)

	exists, err := st.TradeExists(bad.TradeID)
	require.NoError(t, err)
	assert.False(t, exists, "discarded fill must stay replayable")

	assert.InDelta(t, 0.1, p.book.TotalQty(testSymbol, testStrategy), 1e-9)
}

// Fills land in the trade ledger with their decision context intact
func TestApplyFillWritesTradeRow(t *testing.T) {
	p, st := newTestPortfolio(t, 10000, false)

	f := testFill(domain.SideBuy, 0.1, 50000, 2.5)
	f.Reason = "signal_entry"
	res, err := p.ApplyFill(f)
	require.NoError(t, err)
	require.NotNil(t, res.Trade)

	trades, err := st.ListTrades("sess-1", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, f.TradeID, tr.TradeID)
	assert.Equal(t, f.OrderID, tr.OrderID)
	assert.Equal(t, "cycle-1", tr.CycleID)
	assert.Equal(t, "signal_entry", tr.Reason)
	assert.Equal(t, domain.SideBuy, tr.Side)
	assert.InDelta(t, 2.5, tr.Fees, 1e-9)
	assert.Zero(t, tr.RealizedPnL)
}

func TestApplyFillRejectsDegenerateInput(t *testing.T) {
	p, _ := newTestPortfolio(t, 10000, false)

	_, err := p.ApplyFill(nil)
	assert.Error(t, err)

	f := testFill(domain.SideBuy, 0, 50000, 0)
	_, err = p.ApplyFill(f)
	assert.Error(t, err)

	f = testFill(domain.SideBuy, 0.1, 0, 0)
	_, err = p.ApplyFill(f)
	assert.Error(t, err)
}
