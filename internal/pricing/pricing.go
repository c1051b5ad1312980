// Package pricing owns the per-cycle price snapshot. Every valuation inside
// a cycle resolves against one sealed snapshot; fresh venue lookups are
// refused while the snapshot is active.
package pricing

import (
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// Provenance pins the valuation source a position was opened against. Once
// locked, the symbol is valued from the same venue and price type for the
// rest of its lifecycle.
type Provenance struct {
	Venue     string `json:"venue" msgpack:"venue"`
	PriceType string `json:"price_type" msgpack:"price_type"`
}

// Snapshot is the sealed price map for one cycle. BySymbol never changes
// after the manager seals it; Provenance entries may be added during the
// cycle but never overwritten.
type Snapshot struct {
	CycleID    string                      `json:"cycle_id" msgpack:"cycle_id"`
	CreatedAt  time.Time                   `json:"created_at" msgpack:"created_at"`
	BySymbol   map[string]domain.PriceData `json:"by_symbol" msgpack:"by_symbol"`
	Provenance map[string]Provenance       `json:"provenance" msgpack:"provenance"`
}
