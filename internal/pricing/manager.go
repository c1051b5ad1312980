package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
)

// Manager seals one snapshot per cycle from the data engine. While a
// snapshot is sealed, fresh venue fetches through the manager are refused,
// so the snapshot stays the only price source inside the cycle.
type Manager struct {
	data domain.DataEngine
	log  zerolog.Logger

	fetchTimeout time.Duration
	maxParallel  int
	staleAfter   time.Duration

	mu     sync.Mutex
	active string // cycle ID of the sealed snapshot, empty between cycles
}

// NewManager creates a snapshot manager over the given data engine
func NewManager(data domain.DataEngine, cfg config.EngineConfig, log zerolog.Logger) *Manager {
	return &Manager{
		data:         data,
		log:          log.With().Str("component", "pricing").Logger(),
		fetchTimeout: cfg.SnapshotFetchTimeout,
		maxParallel:  cfg.SnapshotMaxParallel,
		staleAfter:   cfg.StalenessThreshold,
	}
}

type fetchResult struct {
	symbol string
	quote  *domain.PriceData
	err    error
}

// CreateSnapshot fetches a quote per symbol and seals the cycle snapshot.
// Fetch failures and unusable quotes drop the symbol; stale quotes are kept
// with their source tagged "_STALE". The snapshot seals even when every
// symbol drops, so the cycle can still run exits against stored prices.
func (m *Manager) CreateSnapshot(ctx context.Context, cycleID string, symbols []string) (*CycleContext, error) {
	if cycleID == "" {
		return nil, fmt.Errorf("snapshot requires a cycle id: %w", domain.ErrPricingContext)
	}

	m.mu.Lock()
	if m.active != "" {
		active := m.active
		m.mu.Unlock()
		return nil, fmt.Errorf("snapshot for cycle %s still sealed, cannot create %s: %w",
			active, cycleID, domain.ErrPricingContext)
	}
	m.active = cycleID
	m.mu.Unlock()

	snap := &Snapshot{
		CycleID:    cycleID,
		CreatedAt:  time.Now().UTC(),
		BySymbol:   make(map[string]domain.PriceData, len(symbols)),
		Provenance: make(map[string]Provenance),
	}

	for _, r := range m.fetchAll(ctx, symbols) {
		if r.err != nil {
			m.log.Warn().Err(r.err).Str("symbol", r.symbol).Str("cycle_id", cycleID).Msg("DATA_SKIP")
			continue
		}
		quote := *r.quote
		if !usableQuote(quote) {
			m.log.Warn().Str("symbol", r.symbol).Str("cycle_id", cycleID).
				Str("reason", "no_price_components").Msg("DATA_SKIP")
			continue
		}
		if age := quoteAge(quote, snap.CreatedAt); age > m.staleAfter {
			quote.Source = quote.Source + "_STALE"
			m.log.Debug().
				Str("symbol", r.symbol).
				Dur("age", age).
				Msg("stale quote kept in snapshot")
		}
		snap.BySymbol[r.symbol] = quote
	}

	m.log.Info().
		Str("cycle_id", cycleID).
		Int("requested", len(symbols)).
		Int("accepted", len(snap.BySymbol)).
		Msg("SNAPSHOT_CREATE_COMPLETE")

	return &CycleContext{log: m.log, snapshot: snap}, nil
}

// ClearSnapshot releases the sealed snapshot at the end of its cycle and
// logs the lookup counters for post-cycle diagnostics.
func (m *Manager) ClearSnapshot(cc *CycleContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return fmt.Errorf("no sealed snapshot to clear: %w", domain.ErrPricingContext)
	}
	if cc == nil || cc.CycleID() != m.active {
		return fmt.Errorf("clear for the wrong cycle, sealed=%s: %w", m.active, domain.ErrPricingContext)
	}
	m.log.Debug().
		Str("cycle_id", m.active).
		Int("hits", cc.Hits()).
		Int("misses", cc.Misses()).
		Msg("snapshot cleared")
	m.active = ""
	return nil
}

// FreshTicker proxies a live quote fetch for use between cycles, e.g. the
// startup connectivity probe. It refuses while a snapshot is sealed.
func (m *Manager) FreshTicker(ctx context.Context, symbol string) (*domain.PriceData, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != "" {
		return nil, fmt.Errorf("fresh fetch for %s while snapshot %s is sealed: %w",
			symbol, active, domain.ErrPricingContext)
	}
	quote, err := m.data.Ticker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fresh ticker %s: %w", symbol, err)
	}
	return quote, nil
}

// fetchAll fans the symbol fetches out over a bounded worker pool. Each
// fetch carries its own timeout so one slow symbol cannot stall the cycle.
func (m *Manager) fetchAll(ctx context.Context, symbols []string) []fetchResult {
	if len(symbols) == 0 {
		return nil
	}
	workers := m.maxParallel
	if workers > len(symbols) {
		workers = len(symbols)
	}

	jobs := make(chan string)
	results := make(chan fetchResult, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				fctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
				quote, err := m.data.Ticker(fctx, symbol)
				cancel()
				results <- fetchResult{symbol: symbol, quote: quote, err: err}
			}
		}()
	}

	for _, s := range symbols {
		jobs <- s
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]fetchResult, 0, len(symbols))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// usableQuote requires at least one positive price component
func usableQuote(q domain.PriceData) bool {
	return q.Price > 0 || q.Last > 0 || (q.Bid > 0 && q.Ask > 0)
}

// quoteAge measures staleness against the venue timestamp, falling back to
// the fetch time when the venue did not supply one
func quoteAge(q domain.PriceData, now time.Time) time.Duration {
	ts := q.Timestamp
	if ts.IsZero() {
		ts = q.FetchedAt
	}
	if ts.IsZero() {
		return 0
	}
	return now.Sub(ts)
}
