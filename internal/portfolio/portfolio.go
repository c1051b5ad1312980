// Package portfolio is the accounting core: it owns the session's cash,
// positions, realized P&L and FIFO lot book, and applies fills as guarded
// transactions. Every fill either commits in full or leaves no trace.
package portfolio

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/lotbook"
	"github.com/quartzline/rudder/internal/store"
)

// flatEpsilon is the quantity below which a position counts as closed.
// It matches the lot book's consumption epsilon.
const flatEpsilon = 1e-8

// maxReconcileAttempts caps how many times a session replaces its stored
// equity after drift is detected. Past the cap the drift is only logged.
const maxReconcileAttempts = 3

// Portfolio tracks one session's balance, open positions and acquisition
// lots. All methods are safe for concurrent use; ApplyFill serializes so
// the equity identity holds fill by fill.
type Portfolio struct {
	log  zerolog.Logger
	st   store.Store
	book *lotbook.Book

	allowShortRemainder bool

	mu                sync.Mutex
	sessionID         string
	balance           domain.CashEquity
	positions         map[string]*domain.Position
	reconcileAttempts int
}

// New creates a portfolio over the given store and lot book.
// allowShortRemainder controls whether a sell larger than the available
// lots may open a short position with the excess.
func New(st store.Store, book *lotbook.Book, allowShortRemainder bool, log zerolog.Logger) *Portfolio {
	return &Portfolio{
		log:                 log.With().Str("component", "portfolio").Logger(),
		st:                  st,
		book:                book,
		allowShortRemainder: allowShortRemainder,
		positions:           make(map[string]*domain.Position),
	}
}

// Hydrate loads the session's balance, positions and lots from the store.
// A session with no balance row is seeded from its initial cash.
func (p *Portfolio) Hydrate(session *domain.Session) error {
	if session == nil {
		return fmt.Errorf("failed to hydrate portfolio: nil session")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessionID = session.ID
	p.reconcileAttempts = 0

	ce, err := p.st.GetCashEquity(session.ID)
	if err != nil {
		return fmt.Errorf("failed to load cash equity: %w", err)
	}
	if ce == nil {
		ce = &domain.CashEquity{
			SessionID:      session.ID,
			Cash:           session.InitialCash,
			Equity:         session.InitialCash,
			PreviousEquity: session.InitialCash,
		}
		if err := p.st.SaveCashEquity(ce); err != nil {
			return fmt.Errorf("failed to seed cash equity: %w", err)
		}
	}
	p.balance = *ce

	positions, err := p.st.ListPositions(session.ID)
	if err != nil {
		return fmt.Errorf("failed to load positions: %w", err)
	}
	p.positions = make(map[string]*domain.Position, len(positions))
	for i := range positions {
		pos := positions[i]
		p.positions[pos.Key()] = &pos
	}

	lots, err := p.st.ListLots(session.ID)
	if err != nil {
		return fmt.Errorf("failed to load lots: %w", err)
	}
	p.book.Load(lots)

	p.log.Info().
		Str("session_id", session.ID).
		Float64("cash", p.balance.Cash).
		Float64("equity", p.balance.Equity).
		Int("positions", len(p.positions)).
		Int("lots", len(lots)).
		Msg("PORTFOLIO_HYDRATED")

	return nil
}

// SessionID returns the hydrated session's identifier
func (p *Portfolio) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Cash returns the current free cash
func (p *Portfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance.Cash
}

// Equity returns the tracked session equity
func (p *Portfolio) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance.Equity
}

// RealizedPnL returns the cumulative realized profit and loss
func (p *Portfolio) RealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance.RealizedPnL
}

// FeesPaid returns the cumulative fees charged on fills
func (p *Portfolio) FeesPaid() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance.FeesPaid
}

// Balance returns a copy of the session balance row
func (p *Portfolio) Balance() domain.CashEquity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// Position returns a copy of the position for (symbol, strategy), or nil
// when there is no open exposure.
func (p *Portfolio) Position(symbol, strategy string) *domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol+"/"+strategy]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// Positions returns copies of all open positions
func (p *Portfolio) Positions() []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}

// Deployed returns the gross notional across all open positions at their
// last valuation prices. Shorts count at absolute value.
func (p *Portfolio) Deployed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total float64
	for _, pos := range p.positions {
		total += math.Abs(pos.Value())
	}
	return total
}

// SymbolDeployed returns the gross notional open on one symbol across all
// strategies.
func (p *Portfolio) SymbolDeployed(symbol string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total float64
	for _, pos := range p.positions {
		if pos.Symbol == symbol {
			total += math.Abs(pos.Value())
		}
	}
	return total
}

// positionsValueLocked sums signed position values. Callers hold p.mu.
func (p *Portfolio) positionsValueLocked() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.Value()
	}
	return total
}

// unrealizedLocked sums open P&L against average entries. Callers hold p.mu.
func (p *Portfolio) unrealizedLocked() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.UnrealizedPnL()
	}
	return total
}

// equityLocked computes equity from components: cash plus marked position
// value plus realized P&L. Callers hold p.mu.
func (p *Portfolio) equityLocked() float64 {
	return p.balance.Cash + p.positionsValueLocked() + p.balance.RealizedPnL
}
