// Package lotbook tracks FIFO acquisition lots per (symbol, strategy).
// Closes consume the oldest lots first; entry fees are prorated onto the
// consumed quantity so realized P&L carries its share of acquisition cost.
package lotbook

import (
	"fmt"
	"sync"

	"github.com/quartzline/rudder/internal/domain"
)

// epsilon below which a remaining lot quantity is treated as fully consumed
const epsilon = 1e-8

// Book is the in-memory lot state for one session. The store holds the
// durable copy; the portfolio transaction keeps both in step.
type Book struct {
	mu   sync.Mutex
	lots map[string][]domain.Lot
}

// ConsumedLot is one lot's contribution to a close.
type ConsumedLot struct {
	LotID        int64
	TradeID      string
	Quantity     float64 // consumed from this lot
	Price        float64 // lot cost price
	FeePortion   float64 // prorated share of the lot's entry fee
	Remaining    float64 // quantity left after the consume, 0 when exhausted
	RemainingFee float64
}

// Consumption summarizes a FIFO consume across lots.
type Consumption struct {
	Lots       []ConsumedLot
	Quantity   float64
	CostBasis  float64 // sum of lot price * consumed quantity
	FeePortion float64 // sum of prorated entry fees
}

// New creates an empty book
func New() *Book {
	return &Book{lots: make(map[string][]domain.Lot)}
}

func key(symbol, strategy string) string {
	return symbol + "/" + strategy
}

// Load replaces the book contents with lots from the store, preserving
// their order (store returns FIFO order)
func (b *Book) Load(lots []domain.Lot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lots = make(map[string][]domain.Lot)
	for _, l := range lots {
		k := key(l.Symbol, l.Strategy)
		b.lots[k] = append(b.lots[k], l)
	}
}

// Snapshot returns a deep copy of the book for transaction staging
func (b *Book) Snapshot() map[string][]domain.Lot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := make(map[string][]domain.Lot, len(b.lots))
	for k, lots := range b.lots {
		cp := make([]domain.Lot, len(lots))
		copy(cp, lots)
		snap[k] = cp
	}
	return snap
}

// Restore replaces the book contents with a snapshot taken earlier
func (b *Book) Restore(snap map[string][]domain.Lot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lots = make(map[string][]domain.Lot, len(snap))
	for k, lots := range snap {
		cp := make([]domain.Lot, len(lots))
		copy(cp, lots)
		b.lots[k] = cp
	}
}

// Add appends a lot to the back of its FIFO queue
func (b *Book) Add(lot domain.Lot) error {
	if lot.Quantity <= 0 {
		return fmt.Errorf("lot quantity must be positive, got %v", lot.Quantity)
	}
	if lot.Price <= 0 {
		return fmt.Errorf("lot price must be positive, got %v", lot.Price)
	}
	if lot.Fee < 0 {
		return fmt.Errorf("lot fee must not be negative, got %v", lot.Fee)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := key(lot.Symbol, lot.Strategy)
	b.lots[k] = append(b.lots[k], lot)
	return nil
}

// Consume removes qty from the oldest lots first and returns the per-lot
// breakdown. Fees shrink proportionally with the consumed share of each
// lot's remaining quantity. Returns ErrInsufficientLots when the book
// holds less than qty.
func (b *Book) Consume(symbol, strategy string, qty float64) (*Consumption, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("consume quantity must be positive, got %v", qty)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := key(symbol, strategy)
	total := 0.0
	for _, l := range b.lots[k] {
		total += l.Quantity
	}
	if total < qty-epsilon {
		return nil, fmt.Errorf("%w: %s has %v, need %v", domain.ErrInsufficientLots, k, total, qty)
	}

	result := &Consumption{}
	remaining := qty
	lots := b.lots[k]
	i := 0

	for i < len(lots) && remaining > epsilon {
		lot := &lots[i]
		consumed := lot.Quantity
		if consumed > remaining {
			consumed = remaining
		}

		feePortion := 0.0
		if lot.Quantity > 0 {
			feePortion = lot.Fee * (consumed / lot.Quantity)
		}

		lot.Quantity -= consumed
		lot.Fee -= feePortion
		remaining -= consumed

		cl := ConsumedLot{
			LotID:      lot.ID,
			TradeID:    lot.TradeID,
			Quantity:   consumed,
			Price:      lot.Price,
			FeePortion: feePortion,
		}
		if lot.Quantity > epsilon {
			cl.Remaining = lot.Quantity
			cl.RemainingFee = lot.Fee
		}

		result.Lots = append(result.Lots, cl)
		result.Quantity += consumed
		result.CostBasis += lot.Price * consumed
		result.FeePortion += feePortion

		if lot.Quantity <= epsilon {
			i++
		}
	}

	// Drop exhausted lots from the front
	b.lots[k] = lots[i:]
	if len(b.lots[k]) == 0 {
		delete(b.lots, k)
	}

	return result, nil
}

// TotalQty returns the quantity held across all lots for the key
func (b *Book) TotalQty(symbol, strategy string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0.0
	for _, l := range b.lots[key(symbol, strategy)] {
		total += l.Quantity
	}
	return total
}

// Lots returns a copy of the FIFO queue for the key
func (b *Book) Lots(symbol, strategy string) []domain.Lot {
	b.mu.Lock()
	defer b.mu.Unlock()

	lots := b.lots[key(symbol, strategy)]
	cp := make([]domain.Lot, len(lots))
	copy(cp, lots)
	return cp
}
