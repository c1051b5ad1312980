package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/risk"
	"github.com/quartzline/rudder/internal/store"
)

// ladderMetaPrefix keys the persisted set of taken ladder levels, one entry
// per position key.
const ladderMetaPrefix = "ladder_taken:"

// downgrades maps unsupported order types to their fallback. Market is the
// last resort for everything.
var downgrades = map[domain.OrderType]domain.OrderType{
	domain.OrderTypeStopLimit:       domain.OrderTypeLimit,
	domain.OrderTypeStop:            domain.OrderTypeMarket,
	domain.OrderTypeTakeProfit:      domain.OrderTypeLimit,
	domain.OrderTypeTakeProfitLimit: domain.OrderTypeLimit,
}

// Manager routes orders to the venue or the fill simulator, keeps the book
// of resting take-profit ladder orders, and turns exit triggers into
// reduce-only executions.
type Manager struct {
	log     zerolog.Logger
	builder *Builder
	conn    domain.Connector
	sim     *Simulator
	st      store.Store
	exits   *risk.ExitPlanner
	ladder  []config.LadderLevel
	mode    domain.TradingMode

	mu      sync.Mutex
	resting map[string]map[int]*domain.Order
}

// NewManager creates an order manager. In paper mode fills come from the
// simulator; in live mode orders route to the connector.
func NewManager(builder *Builder, conn domain.Connector, sim *Simulator, st store.Store,
	exits *risk.ExitPlanner, cfg config.ExitsConfig, mode domain.TradingMode, log zerolog.Logger) *Manager {
	return &Manager{
		log:     log.With().Str("component", "order_manager").Logger(),
		builder: builder,
		conn:    conn,
		sim:     sim,
		st:      st,
		exits:   exits,
		ladder:  cfg.Ladder,
		mode:    mode,
		resting: make(map[string]map[int]*domain.Order),
	}
}

// Submit routes one order for execution against the given mark price. The
// order type is downgraded first when the venue does not support it. A nil
// fill with nil error means the order did not execute this cycle.
func (m *Manager) Submit(ctx context.Context, order *domain.Order, mkt float64) (*domain.Fill, error) {
	if order == nil {
		return nil, nil
	}

	if err := m.downgrade(ctx, order); err != nil {
		return nil, err
	}

	m.log.Debug().
		Str("event", "ORDER_SUBMIT").
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("type", string(order.Type)).
		Str("tif", string(order.TimeInForce)).
		Float64("qty", order.Quantity).
		Float64("limit_price", order.LimitPrice).
		Bool("reduce_only", order.ReduceOnly).
		Msg("submitting order")

	var (
		fill *domain.Fill
		err  error
	)
	if m.mode == domain.ModeLive {
		fill, err = m.conn.SubmitOrder(ctx, order)
		if err != nil {
			order.Status = domain.OrderStatusRejected
			return nil, fmt.Errorf("failed to submit order %s: %w", order.ID, err)
		}
	} else {
		fees, feeErr := m.conn.Fees(ctx, order.Symbol)
		if feeErr != nil {
			m.log.Warn().Err(feeErr).Str("symbol", order.Symbol).Msg("fee lookup failed, using configured defaults")
			fees = nil
		}
		fill = m.sim.Fill(order, mkt, fees, time.Now().UTC())
	}

	if fill == nil {
		if order.TimeInForce == domain.TimeInForceIOC {
			order.Status = domain.OrderStatusExpired
		}
		return nil, nil
	}

	order.Status = domain.OrderStatusFilled
	return fill, nil
}

// downgrade replaces the order type with the closest supported one. When a
// take-profit trigger becomes a plain limit, the trigger price carries over
// as the limit price.
func (m *Manager) downgrade(ctx context.Context, order *domain.Order) error {
	supported, err := m.conn.SupportedOrderTypes(ctx, order.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", order.Symbol).Msg("order type lookup failed, submitting as-is")
		return nil
	}

	next, ok := downgradeType(supported, order.Type)
	if !ok {
		order.Status = domain.OrderStatusRejected
		order.RejectReason = domain.RejectDowngradeForbidden
		return fmt.Errorf("order %s: venue supports no usable type for %s: %w",
			order.ID, order.Type, domain.ErrOrderRejected)
	}
	if next == order.Type {
		return nil
	}

	m.log.Info().
		Str("event", "ORDER_DOWNGRADE").
		Str("order_id", order.ID).
		Str("from", string(order.Type)).
		Str("to", string(next)).
		Msg("order type not supported, downgrading")

	order.Type = next
	if next == domain.OrderTypeLimit && order.LimitPrice == 0 && order.StopPrice > 0 {
		order.LimitPrice = order.StopPrice
	}
	if next == domain.OrderTypeMarket {
		order.LimitPrice = 0
	}
	return nil
}

func downgradeType(supported []domain.OrderType, want domain.OrderType) (domain.OrderType, bool) {
	if hasType(supported, want) {
		return want, true
	}
	if alt, ok := downgrades[want]; ok && hasType(supported, alt) {
		return alt, true
	}
	if hasType(supported, domain.OrderTypeMarket) {
		return domain.OrderTypeMarket, true
	}
	return "", false
}

func hasType(supported []domain.OrderType, t domain.OrderType) bool {
	for _, s := range supported {
		if s == t {
			return true
		}
	}
	return false
}

// PlaceLadder creates resting GTC reduce-only take-profit orders for a
// freshly opened position, one per configured ladder level. Previous ladder
// state for the key is cleared first. Levels whose quantity does not meet
// the venue minimums are skipped.
func (m *Manager) PlaceLadder(sessionID, cycleID string, pos *domain.Position, rules *domain.SymbolRules) ([]*domain.Order, error) {
	if pos == nil || pos.IsFlat() || len(m.ladder) == 0 {
		return nil, nil
	}

	if err := m.clearLadder(sessionID, pos.Key()); err != nil {
		return nil, fmt.Errorf("failed to reset ladder state: %w", err)
	}

	closeSide := domain.SideSell
	if !pos.IsLong() {
		closeSide = domain.SideBuy
	}
	absQty := pos.Quantity
	if absQty < 0 {
		absQty = -absQty
	}

	var orders []*domain.Order
	for i, lvl := range m.ladder {
		offset := pos.AvgEntryPrice * lvl.ProfitPct / 100
		price := pos.AvgEntryPrice + offset
		if !pos.IsLong() {
			price = pos.AvgEntryPrice - offset
		}

		order, reason := m.builder.Build(BuildRequest{
			SessionID:   sessionID,
			Symbol:      pos.Symbol,
			Side:        closeSide,
			Type:        domain.OrderTypeTakeProfitLimit,
			TimeInForce: domain.TimeInForceGTC,
			Quantity:    absQty * lvl.Fraction,
			Price:       price,
			ReduceOnly:  true,
			Metadata: domain.OrderMetadata{
				CycleID:  cycleID,
				Strategy: pos.Strategy,
				Reason:   domain.ExitReasonLadder,
			},
			Rules: rules,
		})
		if reason != domain.RejectNone {
			m.log.Debug().
				Str("symbol", pos.Symbol).
				Int("level", i).
				Str("reject_reason", string(reason)).
				Msg("ladder level skipped")
			continue
		}

		m.mu.Lock()
		if m.resting[pos.Key()] == nil {
			m.resting[pos.Key()] = make(map[int]*domain.Order)
		}
		m.resting[pos.Key()][i] = order
		m.mu.Unlock()
		orders = append(orders, order)

		m.log.Info().
			Str("event", "TP_LADDER_PLACED").
			Str("order_id", order.ID).
			Str("symbol", pos.Symbol).
			Int("level", i).
			Float64("price", order.LimitPrice).
			Float64("qty", order.Quantity).
			Msg("resting take-profit placed")
	}

	return orders, nil
}

// ExitContext carries the per-position inputs for exit evaluation. Mark
// drives trigger evaluation; Exit, when set, is the side-aware liquidation
// price the exit executes against (longs sell into the bid, shorts cover
// at the ask) and falls back to Mark when zero.
type ExitContext struct {
	CycleID string
	Mark    float64
	Exit    float64
	ATR     *float64
	Meta    *domain.PositionMeta
	Rules   *domain.SymbolRules
	Now     time.Time
}

// exitPrice is the price exits execute against
func (ec ExitContext) exitPrice() float64 {
	if ec.Exit > 0 {
		return ec.Exit
	}
	return ec.Mark
}

// ManageExit evaluates protective triggers for one position and executes
// at most one exit. Ladder triggers reuse the resting order when one is
// still registered; otherwise the exit goes out as a reduce-only IOC limit
// at the current mark. A filled ladder level is persisted so it is never
// taken twice; a full close clears all ladder state for the key.
func (m *Manager) ManageExit(ctx context.Context, sessionID string, pos *domain.Position, ec ExitContext) (*domain.Fill, error) {
	if pos == nil || pos.IsFlat() {
		return nil, nil
	}
	now := ec.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	taken, err := m.takenLevels(sessionID, pos.Key())
	if err != nil {
		return nil, err
	}

	action := m.exits.Evaluate(pos, ec.Meta, ec.Mark, ec.ATR, taken, now)
	if action == nil {
		return nil, nil
	}

	order, wasResting := m.exitOrder(sessionID, pos, action, ec)
	if order == nil {
		return nil, nil
	}

	fill, err := m.Submit(ctx, order, ec.exitPrice())
	if err != nil {
		if wasResting {
			m.restoreResting(pos.Key(), action.Level, order)
		}
		return nil, err
	}
	if fill == nil {
		if wasResting {
			m.restoreResting(pos.Key(), action.Level, order)
		}
		return nil, nil
	}

	if action.Reason == domain.ExitReasonLadder {
		if err := m.markTaken(sessionID, pos.Key(), action.Level); err != nil {
			m.log.Error().Err(err).
				Str("symbol", pos.Symbol).
				Int("level", action.Level).
				Msg("failed to persist taken ladder level")
		}
	}
	if action.Fraction >= 1 {
		if err := m.clearLadder(sessionID, pos.Key()); err != nil {
			m.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to clear ladder state")
		}
	}

	return fill, nil
}

// exitOrder picks the submission vehicle for an exit action: the resting
// ladder order when one exists, else a fresh IOC limit at the mark.
func (m *Manager) exitOrder(sessionID string, pos *domain.Position, action *domain.ExitAction, ec ExitContext) (*domain.Order, bool) {
	if action.Reason == domain.ExitReasonLadder {
		if resting := m.takeResting(pos.Key(), action.Level); resting != nil {
			resting.Metadata.CycleID = ec.CycleID
			return resting, true
		}
	}

	order, reason := m.builder.Build(BuildRequest{
		SessionID:   sessionID,
		Symbol:      pos.Symbol,
		Side:        action.Side,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TimeInForceIOC,
		Quantity:    action.Quantity,
		Price:       ec.exitPrice(),
		ReduceOnly:  true,
		MaxRetries:  0,
		Metadata: domain.OrderMetadata{
			CycleID:  ec.CycleID,
			Strategy: pos.Strategy,
			Reason:   action.Reason,
		},
		Rules: ec.Rules,
	})
	if reason != domain.RejectNone {
		m.log.Warn().
			Str("event", "EXIT_REJECTED").
			Str("symbol", pos.Symbol).
			Str("exit_reason", action.Reason).
			Str("reject_reason", string(reason)).
			Float64("qty", action.Quantity).
			Msg("exit order failed quantization")
		return nil, false
	}
	return order, false
}

func (m *Manager) takeResting(key string, level int) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	levels := m.resting[key]
	order := levels[level]
	if order != nil {
		delete(levels, level)
	}
	return order
}

func (m *Manager) restoreResting(key string, level int, order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resting[key] == nil {
		m.resting[key] = make(map[int]*domain.Order)
	}
	m.resting[key][level] = order
}

// RestingOrders returns the resting ladder orders registered for a
// position key, in level order.
func (m *Manager) RestingOrders(key string) []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	levels := m.resting[key]
	if len(levels) == 0 {
		return nil
	}
	idx := make([]int, 0, len(levels))
	for i := range levels {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]*domain.Order, 0, len(idx))
	for _, i := range idx {
		out = append(out, levels[i])
	}
	return out
}

func ladderKey(posKey string) string { return ladderMetaPrefix + posKey }

// takenLevels loads the persisted set of executed ladder levels for a
// position key.
func (m *Manager) takenLevels(sessionID, posKey string) (map[int]bool, error) {
	raw, err := m.st.GetMetadata(sessionID, ladderKey(posKey))
	if err != nil {
		return nil, fmt.Errorf("failed to load ladder state: %w", err)
	}
	taken := make(map[int]bool)
	if raw == nil {
		return taken, nil
	}
	var levels []int
	if err := json.Unmarshal([]byte(*raw), &levels); err != nil {
		return nil, fmt.Errorf("failed to decode ladder state: %w", err)
	}
	for _, l := range levels {
		taken[l] = true
	}
	return taken, nil
}

func (m *Manager) markTaken(sessionID, posKey string, level int) error {
	taken, err := m.takenLevels(sessionID, posKey)
	if err != nil {
		return err
	}
	taken[level] = true

	levels := make([]int, 0, len(taken))
	for l := range taken {
		levels = append(levels, l)
	}
	sort.Ints(levels)

	buf, err := json.Marshal(levels)
	if err != nil {
		return fmt.Errorf("failed to encode ladder state: %w", err)
	}
	return m.st.SetMetadata(sessionID, ladderKey(posKey), string(buf))
}

// clearLadder drops resting orders and the persisted taken set for a key
func (m *Manager) clearLadder(sessionID, posKey string) error {
	m.mu.Lock()
	delete(m.resting, posKey)
	m.mu.Unlock()
	return m.st.DeleteMetadata(sessionID, ladderKey(posKey))
}
