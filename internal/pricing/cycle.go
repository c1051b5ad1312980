package pricing

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/domain"
)

// CycleContext serves price lookups for exactly one cycle. It is created by
// the manager when the snapshot seals and discarded when the cycle ends.
// Every lookup passes the caller's cycle ID; a mismatch means the caller is
// holding a stale context and fails with ErrPricingContext.
//
// Access is single-threaded within a cycle, so the hit and miss counters
// are plain ints.
type CycleContext struct {
	log      zerolog.Logger
	snapshot *Snapshot
	hits     int
	misses   int
}

// CycleID returns the cycle this context was sealed for
func (c *CycleContext) CycleID() string { return c.snapshot.CycleID }

// Symbols returns the symbols present in the snapshot, sorted
func (c *CycleContext) Symbols() []string {
	out := make([]string, 0, len(c.snapshot.BySymbol))
	for s := range c.snapshot.BySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Has reports whether the snapshot holds a quote for symbol
func (c *CycleContext) Has(symbol string) bool {
	_, ok := c.snapshot.BySymbol[symbol]
	return ok
}

// Hits returns the number of successful snapshot lookups this cycle
func (c *CycleContext) Hits() int { return c.hits }

// Misses returns the number of failed snapshot lookups this cycle
func (c *CycleContext) Misses() int { return c.misses }

// Snapshot exposes the sealed snapshot for archiving
func (c *CycleContext) Snapshot() *Snapshot { return c.snapshot }

func (c *CycleContext) checkCycle(cycleID string) error {
	if cycleID == "" {
		return fmt.Errorf("price lookup without a cycle id: %w", domain.ErrPricingContext)
	}
	if cycleID != c.snapshot.CycleID {
		return fmt.Errorf("price lookup for cycle %s against snapshot %s: %w",
			cycleID, c.snapshot.CycleID, domain.ErrPricingContext)
	}
	return nil
}

func (c *CycleContext) lookup(cycleID, symbol string) (domain.PriceData, error) {
	if err := c.checkCycle(cycleID); err != nil {
		return domain.PriceData{}, err
	}
	quote, ok := c.snapshot.BySymbol[symbol]
	if !ok {
		c.misses++
		c.log.Debug().Str("symbol", symbol).Str("cycle_id", cycleID).Msg("PRICING_SNAPSHOT_MISS")
		return domain.PriceData{}, fmt.Errorf("no snapshot entry for %s: %w", symbol, domain.ErrDataUnavailable)
	}
	c.hits++
	c.log.Trace().Str("symbol", symbol).Str("cycle_id", cycleID).Msg("PRICING_SNAPSHOT_HIT")
	return quote, nil
}

// Quote returns the full snapshot entry for a symbol. The value is a copy;
// mutating it cannot touch the sealed snapshot.
func (c *CycleContext) Quote(cycleID, symbol string) (domain.PriceData, error) {
	return c.lookup(cycleID, symbol)
}

// Mark returns the valuation price for a symbol and the component it came
// from: mid when both sides are quoted, else last, else price.
func (c *CycleContext) Mark(cycleID, symbol string) (float64, string, error) {
	quote, err := c.lookup(cycleID, symbol)
	if err != nil {
		return 0, "", err
	}
	if mid := quote.Mid(); mid > 0 {
		return mid, "mid", nil
	}
	if quote.Last > 0 {
		return quote.Last, "last", nil
	}
	if quote.Price > 0 {
		return quote.Price, "price", nil
	}
	c.misses++
	return 0, "", fmt.Errorf("no mark components for %s: %w", symbol, domain.ErrDataUnavailable)
}

// Entry returns the price used to plan a new position: mid, else price.
func (c *CycleContext) Entry(cycleID, symbol string) (float64, error) {
	quote, err := c.lookup(cycleID, symbol)
	if err != nil {
		return 0, err
	}
	if mid := quote.Mid(); mid > 0 {
		return mid, nil
	}
	if quote.Price > 0 {
		return quote.Price, nil
	}
	c.misses++
	return 0, fmt.Errorf("no entry components for %s: %w", symbol, domain.ErrDataUnavailable)
}

// ExitValue returns the liquidation price for a position entered on the
// given side. Longs sell into the bid, shorts cover at the ask; both fall
// back to mid, then price.
func (c *CycleContext) ExitValue(cycleID, symbol string, side domain.Side) (float64, error) {
	quote, err := c.lookup(cycleID, symbol)
	if err != nil {
		return 0, err
	}
	near := quote.Bid
	if side == domain.SideSell {
		near = quote.Ask
	}
	if near > 0 {
		return near, nil
	}
	if mid := quote.Mid(); mid > 0 {
		return mid, nil
	}
	if quote.Price > 0 {
		return quote.Price, nil
	}
	c.misses++
	return 0, fmt.Errorf("no exit components for %s: %w", symbol, domain.ErrDataUnavailable)
}

// LockProvenance pins the valuation source for a symbol. The first lock
// wins; repeat calls for the same symbol are no-ops so an open position's
// source survives later cycles.
func (c *CycleContext) LockProvenance(cycleID, symbol, venue, priceType string) error {
	if err := c.checkCycle(cycleID); err != nil {
		return err
	}
	if _, locked := c.snapshot.Provenance[symbol]; locked {
		return nil
	}
	c.snapshot.Provenance[symbol] = Provenance{Venue: venue, PriceType: priceType}
	c.log.Info().
		Str("symbol", symbol).
		Str("venue", venue).
		Str("price_type", priceType).
		Msg("PROVENANCE_LOCKED")
	return nil
}
