package pricing

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzline/rudder/internal/domain"
)

func newTestContext(quotes map[string]domain.PriceData) *CycleContext {
	return &CycleContext{
		log: zerolog.Nop(),
		snapshot: &Snapshot{
			CycleID:    "cycle-1",
			CreatedAt:  time.Now().UTC(),
			BySymbol:   quotes,
			Provenance: make(map[string]Provenance),
		},
	}
}

func TestMarkPreference(t *testing.T) {
	tests := []struct {
		name       string
		quote      domain.PriceData
		wantPrice  float64
		wantSource string
	}{
		{
			name:       "mid preferred",
			quote:      domain.PriceData{Bid: 99, Ask: 101, Last: 105, Price: 104},
			wantPrice:  100,
			wantSource: "mid",
		},
		{
			name:       "last when one side missing",
			quote:      domain.PriceData{Bid: 99, Last: 105, Price: 104},
			wantPrice:  105,
			wantSource: "last",
		},
		{
			name:       "price as final fallback",
			quote:      domain.PriceData{Price: 104},
			wantPrice:  104,
			wantSource: "price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc := newTestContext(map[string]domain.PriceData{"X/USDT": tt.quote})
			price, source, err := cc.Mark("cycle-1", "X/USDT")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, price)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestEntryPreference(t *testing.T) {
	cc := newTestContext(map[string]domain.PriceData{
		"A/USDT": {Bid: 99, Ask: 101, Price: 104},
		"B/USDT": {Last: 105, Price: 104},
	})

	price, err := cc.Entry("cycle-1", "A/USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)

	price, err = cc.Entry("cycle-1", "B/USDT")
	require.NoError(t, err)
	assert.Equal(t, 104.0, price)
}

func TestExitValueBySide(t *testing.T) {
	cc := newTestContext(map[string]domain.PriceData{
		"X/USDT": {Bid: 99, Ask: 101, Price: 104},
	})

	// Long positions liquidate into the bid
	price, err := cc.ExitValue("cycle-1", "X/USDT", domain.SideBuy)
	require.NoError(t, err)
	assert.Equal(t, 99.0, price)

	// Shorts cover at the ask
	price, err = cc.ExitValue("cycle-1", "X/USDT", domain.SideSell)
	require.NoError(t, err)
	assert.Equal(t, 101.0, price)
}

func TestExitValueFallsBackToMid(t *testing.T) {
	cc := newTestContext(map[string]domain.PriceData{
		// Ask present but no bid: long exit falls through to price
		"X/USDT": {Ask: 101, Price: 104},
	})

	price, err := cc.ExitValue("cycle-1", "X/USDT", domain.SideBuy)
	require.NoError(t, err)
	assert.Equal(t, 104.0, price)
}

func TestLookupWithWrongCycleID(t *testing.T) {
	cc := newTestContext(map[string]domain.PriceData{"X/USDT": {Price: 104}})

	_, _, err := cc.Mark("cycle-9", "X/USDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPricingContext)

	_, _, err = cc.Mark("", "X/USDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPricingContext)

	// Context violations are not counted as misses
	assert.Equal(t, 0, cc.Misses())
}

func TestHitMissCounters(t *testing.T) {
	cc := newTestContext(map[string]domain.PriceData{"X/USDT": {Price: 104}})

	_, _, err := cc.Mark("cycle-1", "X/USDT")
	require.NoError(t, err)
	_, err = cc.Entry("cycle-1", "X/USDT")
	require.NoError(t, err)
	_, _, err = cc.Mark("cycle-1", "MISSING/USDT")
	require.Error(t, err)

	assert.Equal(t, 2, cc.Hits())
	assert.Equal(t, 1, cc.Misses())
}

func TestLockProvenanceFirstWins(t *testing.T) {
	cc := newTestContext(map[string]domain.PriceData{"X/USDT": {Price: 104}})

	require.NoError(t, cc.LockProvenance("cycle-1", "X/USDT", "paper", "mid"))
	// Second lock is a no-op, not an overwrite
	require.NoError(t, cc.LockProvenance("cycle-1", "X/USDT", "live", "last"))

	assert.Equal(t, Provenance{Venue: "paper", PriceType: "mid"}, cc.Snapshot().Provenance["X/USDT"])

	err := cc.LockProvenance("cycle-2", "X/USDT", "paper", "mid")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPricingContext)
}
