package store

import (
	"sort"
	"sync"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// Memory implements Store entirely in process. It mirrors the SQL
// implementation's semantics (idempotent trade and lot writes, FIFO lot
// order) and backs portfolio and engine tests.
type Memory struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	positions map[string]map[string]domain.Position
	cash      map[string]domain.CashEquity
	trades    map[string][]domain.Trade
	tradeIDs  map[string]bool
	lots      map[string][]domain.Lot
	lotTrades map[string]bool
	metadata  map[string]map[string]string
	scores    map[string]map[domain.WindowKey][]float64
	snapshots map[string][]byte
	snapOrder map[string][]string
	equity    map[string][]domain.EquityPoint
	nextLotID int64
	nextRowID int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]*domain.Session),
		positions: make(map[string]map[string]domain.Position),
		cash:      make(map[string]domain.CashEquity),
		trades:    make(map[string][]domain.Trade),
		tradeIDs:  make(map[string]bool),
		lots:      make(map[string][]domain.Lot),
		lotTrades: make(map[string]bool),
		metadata:  make(map[string]map[string]string),
		scores:    make(map[string]map[domain.WindowKey][]float64),
		snapshots: make(map[string][]byte),
		snapOrder: make(map[string][]string),
		equity:    make(map[string][]domain.EquityPoint),
	}
}

// CreateSession inserts a new session
func (m *Memory) CreateSession(s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

// GetSession retrieves a session by ID
func (m *Memory) GetSession(id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// GetActiveSession returns the newest active or halted session
func (m *Memory) GetActiveSession() (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var newest *domain.Session
	for _, s := range m.sessions {
		if s.Status != domain.SessionActive && s.Status != domain.SessionHalted {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	if newest == nil {
		return nil, domain.ErrSessionNotFound
	}
	cp := *newest
	return &cp, nil
}

// UpdateSessionStatus changes the session lifecycle state
func (m *Memory) UpdateSessionStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Status = status
	return nil
}

// EndSession marks a session ended
func (m *Memory) EndSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	now := time.Now()
	s.Status = domain.SessionEnded
	s.EndedAt = &now
	return nil
}

// GetPosition retrieves one position
func (m *Memory) GetPosition(sessionID, symbol, strategy string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[sessionID][symbol+"/"+strategy]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	cp := p
	return &cp, nil
}

// ListPositions returns all open positions in the session
func (m *Memory) ListPositions(sessionID string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Position
	for _, p := range m.positions[sessionID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out, nil
}

// UpsertPosition inserts or replaces a position
func (m *Memory) UpsertPosition(p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.positions[p.SessionID] == nil {
		m.positions[p.SessionID] = make(map[string]domain.Position)
	}
	cp := *p
	if existing, ok := m.positions[p.SessionID][p.Key()]; ok {
		cp.ID = existing.ID
		cp.OpenedAt = existing.OpenedAt
	} else {
		m.nextRowID++
		cp.ID = m.nextRowID
		if cp.OpenedAt.IsZero() {
			cp.OpenedAt = time.Now()
		}
	}
	cp.UpdatedAt = time.Now()
	m.positions[p.SessionID][p.Key()] = cp
	return nil
}

// DeletePosition removes a position
func (m *Memory) DeletePosition(sessionID, symbol, strategy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.positions[sessionID], symbol+"/"+strategy)
	return nil
}

// GetCashEquity retrieves the latest session balance, or nil when unset
func (m *Memory) GetCashEquity(sessionID string) (*domain.CashEquity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ce, ok := m.cash[sessionID]
	if !ok {
		return nil, nil
	}
	cp := ce
	return &cp, nil
}

// SaveCashEquity records the session balance; only the latest is kept
func (m *Memory) SaveCashEquity(ce *domain.CashEquity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ce
	cp.UpdatedAt = time.Now()
	m.cash[ce.SessionID] = cp
	return nil
}

// SaveTrade inserts a trade, skipping duplicates by trade_id
func (m *Memory) SaveTrade(t *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tradeIDs[t.TradeID] {
		return nil
	}
	m.tradeIDs[t.TradeID] = true

	cp := *t
	m.nextRowID++
	cp.ID = m.nextRowID
	if cp.ExecutedAt.IsZero() {
		cp.ExecutedAt = time.Now()
	}
	cp.CreatedAt = time.Now()
	m.trades[t.SessionID] = append(m.trades[t.SessionID], cp)
	return nil
}

// TradeExists checks if a trade_id was already recorded
func (m *Memory) TradeExists(tradeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tradeIDs[tradeID], nil
}

// ListTrades retrieves session trades, most recent first
func (m *Memory) ListTrades(sessionID string, limit int) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.trades[sessionID]
	var out []domain.Trade
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// ListTradesSince retrieves trades executed at or after since, oldest first
func (m *Memory) ListTradesSince(sessionID string, since time.Time) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Trade
	for _, t := range m.trades[sessionID] {
		if !t.ExecutedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// SaveLot inserts a lot, skipping duplicates by trade_id
func (m *Memory) SaveLot(l *domain.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lotTrades[l.TradeID] {
		return nil
	}
	m.lotTrades[l.TradeID] = true

	cp := *l
	m.nextLotID++
	cp.ID = m.nextLotID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	l.ID = cp.ID
	m.lots[l.SessionID] = append(m.lots[l.SessionID], cp)
	return nil
}

// UpdateLot rewrites a lot's remaining quantity and fee
func (m *Memory) UpdateLot(id int64, quantity, fee float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionID, lots := range m.lots {
		for i := range lots {
			if lots[i].ID == id {
				m.lots[sessionID][i].Quantity = quantity
				m.lots[sessionID][i].Fee = fee
				return nil
			}
		}
	}
	return domain.ErrInsufficientLots
}

// DeleteLot removes a lot by ID
func (m *Memory) DeleteLot(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionID, lots := range m.lots {
		for i := range lots {
			if lots[i].ID == id {
				m.lots[sessionID] = append(lots[:i], lots[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

// ListLots returns session lots in FIFO order
func (m *Memory) ListLots(sessionID string) ([]domain.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Lot, len(m.lots[sessionID]))
	copy(out, m.lots[sessionID])
	return out, nil
}

// GetMetadata retrieves a metadata value, or nil when unset
func (m *Memory) GetMetadata(sessionID, key string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.metadata[sessionID][key]
	if !ok {
		return nil, nil
	}
	cp := v
	return &cp, nil
}

// SetMetadata writes a metadata value
func (m *Memory) SetMetadata(sessionID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.metadata[sessionID] == nil {
		m.metadata[sessionID] = make(map[string]string)
	}
	m.metadata[sessionID][key] = value
	return nil
}

// DeleteMetadata removes a metadata key
func (m *Memory) DeleteMetadata(sessionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.metadata[sessionID], key)
	return nil
}

// AppendScore adds one observation to a window key's rolling history
func (m *Memory) AppendScore(sessionID string, key domain.WindowKey, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scores[sessionID] == nil {
		m.scores[sessionID] = make(map[domain.WindowKey][]float64)
	}
	m.scores[sessionID][key] = append(m.scores[sessionID][key], score)
	return nil
}

// RecentScores returns up to limit most recent scores, oldest first
func (m *Memory) RecentScores(sessionID string, key domain.WindowKey, limit int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.scores[sessionID][key]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]float64, len(all))
	copy(out, all)
	return out, nil
}

// PruneScores drops all but the newest keep observations
func (m *Memory) PruneScores(sessionID string, key domain.WindowKey, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.scores[sessionID][key]
	if len(all) > keep {
		m.scores[sessionID][key] = append([]float64(nil), all[len(all)-keep:]...)
	}
	return nil
}

// ArchiveSnapshot stores one cycle's serialized snapshot
func (m *Memory) ArchiveSnapshot(sessionID, cycleID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snapshots[cycleID]; !ok {
		m.snapOrder[sessionID] = append(m.snapOrder[sessionID], cycleID)
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.snapshots[cycleID] = cp
	return nil
}

// GetArchivedSnapshot retrieves an archived payload, or nil when missing
func (m *Memory) GetArchivedSnapshot(cycleID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.snapshots[cycleID]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	return cp, nil
}

// PruneSnapshots drops all but the newest keep snapshots
func (m *Memory) PruneSnapshots(sessionID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := m.snapOrder[sessionID]
	if len(order) <= keep {
		return nil
	}
	drop := order[:len(order)-keep]
	for _, cycleID := range drop {
		delete(m.snapshots, cycleID)
	}
	m.snapOrder[sessionID] = append([]string(nil), order[len(order)-keep:]...)
	return nil
}

// AppendEquityPoint records one equity curve sample
func (m *Memory) AppendEquityPoint(p *domain.EquityPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.equity[p.SessionID] = append(m.equity[p.SessionID], cp)
	return nil
}

// EquityHistory returns up to limit most recent samples, oldest first
func (m *Memory) EquityHistory(sessionID string, limit int) ([]domain.EquityPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.equity[sessionID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]domain.EquityPoint, len(all))
	copy(out, all)
	return out, nil
}
