package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzline/rudder/internal/analytics"
	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/execution"
	"github.com/quartzline/rudder/internal/lotbook"
	"github.com/quartzline/rudder/internal/metrics"
	"github.com/quartzline/rudder/internal/portfolio"
	"github.com/quartzline/rudder/internal/pricing"
	"github.com/quartzline/rudder/internal/regime"
	"github.com/quartzline/rudder/internal/risk"
	"github.com/quartzline/rudder/internal/signals"
	"github.com/quartzline/rudder/internal/store"
	"github.com/quartzline/rudder/internal/testhelpers"
)

// stubStrategy returns a settable result so cycle tests control the signal
type stubStrategy struct {
	res *signals.Result
}

func (stubStrategy) Name() string { return "stub" }

func (s stubStrategy) Analyze(signals.Bars) signals.Result { return *s.res }

func testConfig() *config.Config {
	return &config.Config{
		Session: config.SessionConfig{
			Mode:          "paper",
			QuoteCurrency: "USDT",
			InitialCash:   10000,
		},
		Engine: config.EngineConfig{
			Symbols:              []string{"BTC/USDT"},
			Timeframe:            "1h",
			Interval:             time.Minute,
			SnapshotFetchTimeout: 2 * time.Second,
			SnapshotMaxParallel:  4,
			StalenessThreshold:   time.Minute,
			HistoryBars:          260,
		},
		Gate: config.GateConfig{
			Mode:             "threshold",
			ThresholdMargin:  0.05,
			HardFloorMin:     0.40,
			WindowSize:       200,
			Quantile:         0.80,
			MinWindow:        20,
			DefaultThreshold: 0.50,
		},
		Risk: config.RiskConfig{
			RiskPct:           0.01,
			MaxNotionalPct:    0.20,
			PerSymbolCapPct:   0.30,
			SessionCapPct:     0.80,
			MinStopFrac:       0.001,
			DailyLossLimitPct: 0.03,
			ATRPeriod:         14,
			ATRSMAPeriod:      100,
			RiskOnRatio:       1.15,
			RiskOnCycles:      3,
			RiskOnFloor:       0.35,
			RiskOnRiskPct:     0.015,
			RegimeFloors: map[string]config.RegimeFloor{
				"trend":   {Score: 0.40, RR: 1.2},
				"range":   {Score: 0.45, RR: 1.2},
				"unknown": {Score: 0.60, RR: 1.5},
			},
			Stops: config.StopConfig{
				ATRMultSL:       1.5,
				ATRMultTP:       2.5,
				FallbackSLPct:   0.02,
				FallbackTPMult:  2,
				FallbackEnabled: true,
			},
		},
		Exits: config.ExitsConfig{
			TimeStopHours: 72,
			Ladder: []config.LadderLevel{
				{ProfitPct: 0.8, Fraction: 0.25},
				{ProfitPct: 1.6, Fraction: 0.50},
			},
		},
		Execution: config.ExecutionConfig{
			MinSliceNotional:     10,
			DefaultSliceNotional: 5000,
			MaxSlicesPerOrder:    4,
		},
		Pilot: config.PilotConfig{
			Enabled:  true,
			Gate:     0.30,
			SizeMult: 0.25,
			RRMin:    1.5,
		},
		Exploration: config.ExplorationConfig{
			Enabled:         false,
			MaxForcedPerDay: 2,
			BudgetPctPerDay: 0.02,
			MinScore:        0.20,
			SizeMult:        0.20,
			TighterStopMult: 0.50,
		},
		Venue: config.VenueConfig{
			Name: "paper",
			Paper: config.PaperConfig{
				MakerFeeBps:    10,
				TakerFeeBps:    20,
				SlippageBps:    2,
				LiquidityScore: 0.95,
				Seed:           42,
			},
		},
		Storage: config.StorageConfig{},
	}
}

type rig struct {
	eng    *Engine
	cfg    *config.Config
	st     *store.Memory
	data   *testhelpers.MockDataEngine
	conn   *testhelpers.MockConnector
	pf     *portfolio.Portfolio
	signal *signals.Result
}

func newRig(t *testing.T, cfg *config.Config, res signals.Result) *rig {
	t.Helper()
	log := zerolog.Nop()
	signal := &res

	st := store.NewMemory()
	data := testhelpers.NewMockDataEngine()
	conn := testhelpers.NewMockConnector()

	ledger, err := analytics.New(filepath.Join(t.TempDir(), "analytics.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	builder := execution.NewBuilder(log)
	sim := execution.NewSimulator(cfg.Venue.Paper, log)
	exits := risk.NewExitPlanner(cfg.Exits, log)
	orders := execution.NewManager(builder, conn, sim, st, exits, cfg.Exits, domain.ModePaper, log)
	pf := portfolio.New(st, lotbook.New(), false, log)

	eng := New(cfg, Deps{
		Store:      st,
		Data:       data,
		Connector:  conn,
		Snapshots:  pricing.NewManager(data, cfg.Engine, log),
		Scorer:     signals.NewScorer(log, []signals.Strategy{stubStrategy{signal}}, map[string]float64{"stub": 1}),
		Normalizer: signals.NewNormalizer(st, cfg.Gate, log),
		Detector:   regime.NewDetector(cfg.Risk, log),
		Risk:       risk.NewManager(cfg.Risk, cfg.Execution, log),
		Stops:      risk.NewStopModel(cfg.Risk.Stops, log),
		Halt:       risk.NewHaltGuard(st, cfg.Risk, log),
		Builder:    builder,
		Orders:     orders,
		Portfolio:  pf,
		Ledger:     ledger,
		Metrics:    metrics.New(),
	}, log)

	return &rig{eng: eng, cfg: cfg, st: st, data: data, conn: conn, pf: pf, signal: signal}
}

// trendBars builds a steady climb long enough for regime warmup
func trendBars(n int, start, step float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = domain.Candle{
			Timestamp: time.Unix(int64(1700000000+i*3600), 0).UTC(),
			Open:      c,
			High:      c * 1.005,
			Low:       c * 0.995,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func quote(symbol string, mid float64) domain.PriceData {
	return domain.PriceData{
		Symbol: symbol,
		Source: "mock",
		Bid:    mid * 0.9995,
		Ask:    mid * 1.0005,
		Last:   mid,
	}
}

func TestBootstrapCreatesSession(t *testing.T) {
	r := newRig(t, testConfig(), signals.Result{})

	require.NoError(t, r.eng.Bootstrap())

	session := r.eng.Session()
	require.NotNil(t, session)
	assert.Equal(t, domain.ModePaper, session.Mode)
	assert.Equal(t, 10000.0, session.InitialCash)
	assert.Equal(t, 10000.0, r.pf.Equity())

	persisted, err := r.st.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, persisted.Status)
}

func TestBootstrapResumesActiveSession(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Resume = true
	r := newRig(t, cfg, signals.Result{})

	existing := &domain.Session{
		ID:          "sess-resume",
		Mode:        domain.ModePaper,
		Status:      domain.SessionActive,
		InitialCash: 5000,
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, r.st.CreateSession(existing))

	require.NoError(t, r.eng.Bootstrap())

	session := r.eng.Session()
	require.NotNil(t, session)
	assert.Equal(t, "sess-resume", session.ID)
}

func TestBootstrapRejectsModeMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Resume = true
	r := newRig(t, cfg, signals.Result{})

	require.NoError(t, r.st.CreateSession(&domain.Session{
		ID:          "sess-live",
		Mode:        domain.ModeLive,
		Status:      domain.SessionActive,
		InitialCash: 5000,
		CreatedAt:   time.Now().UTC(),
	}))

	err := r.eng.Bootstrap()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestCycleSkipsDuringWarmup(t *testing.T) {
	r := newRig(t, testConfig(), signals.Result{Score: 0.9, Confidence: 0.8})
	r.data.SetQuote("BTC/USDT", quote("BTC/USDT", 100))
	// Too few bars for regime classification
	r.data.SetCandles("BTC/USDT", trendBars(50, 100, 0.5))

	require.NoError(t, r.eng.Bootstrap())
	require.NoError(t, r.eng.RunCycle(context.Background()))

	assert.Empty(t, r.pf.Positions())
	assert.Equal(t, 10000.0, r.pf.Cash())
}

func TestCycleOpensPositionOnAdmittedSignal(t *testing.T) {
	r := newRig(t, testConfig(), signals.Result{
		Score:      0.90,
		Confidence: 0.80,
		StopLoss:   toTick(228 * 0.98),
		TakeProfit: toTick(228 * 1.05),
	})
	// 260 climbing bars end near 229.5, so the snapshot quote must agree
	r.data.SetCandles("BTC/USDT", trendBars(260, 100, 0.5))
	r.data.SetQuote("BTC/USDT", quote("BTC/USDT", 228))

	require.NoError(t, r.eng.Bootstrap())
	require.NoError(t, r.eng.RunCycle(context.Background()))

	positions := r.pf.Positions()
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, "BTC/USDT", pos.Symbol)
	assert.Equal(t, "stub", pos.Strategy)
	assert.Greater(t, pos.Quantity, 0.0)
	assert.Less(t, r.pf.Cash(), 10000.0)

	// Fresh exposure got protective metadata
	meta, err := r.pf.Meta("BTC/USDT", "stub")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Greater(t, meta.StopLoss, 0.0)
	assert.Greater(t, meta.TakeProfit, meta.StopLoss)

	// And the trade landed in the ledger
	trades, err := r.st.ListTrades(r.eng.Session().ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, trades)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
}

func TestCycleHaltBlocksEntries(t *testing.T) {
	r := newRig(t, testConfig(), signals.Result{
		Score:      0.90,
		Confidence: 0.80,
		StopLoss:   toTick(228 * 0.98),
		TakeProfit: toTick(228 * 1.05),
	})
	r.data.SetCandles("BTC/USDT", trendBars(260, 100, 0.5))
	r.data.SetQuote("BTC/USDT", quote("BTC/USDT", 228))

	require.NoError(t, r.eng.Bootstrap())

	// Arm the daily-loss flag for today
	day := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, r.st.SetMetadata(r.eng.Session().ID, "halt_new_entries:"+day, "true"))

	require.NoError(t, r.eng.RunCycle(context.Background()))

	assert.Empty(t, r.pf.Positions())
	assert.True(t, r.eng.Status().Halted)
}

func TestCycleStopLossExit(t *testing.T) {
	r := newRig(t, testConfig(), signals.Result{
		Score:      0.90,
		Confidence: 0.80,
		StopLoss:   toTick(228 * 0.98),
		TakeProfit: toTick(228 * 1.05),
	})
	r.data.SetCandles("BTC/USDT", trendBars(260, 100, 0.5))
	r.data.SetQuote("BTC/USDT", quote("BTC/USDT", 228))

	require.NoError(t, r.eng.Bootstrap())
	require.NoError(t, r.eng.RunCycle(context.Background()))
	require.Len(t, r.pf.Positions(), 1)

	// Neutralize the signal, crash through the stop and run another cycle
	*r.signal = signals.Result{}
	r.data.SetQuote("BTC/USDT", quote("BTC/USDT", 210))
	require.NoError(t, r.eng.RunCycle(context.Background()))

	assert.Empty(t, r.pf.Positions())

	meta, err := r.pf.Meta("BTC/USDT", "stub")
	require.NoError(t, err)
	assert.Nil(t, meta)

	trades, err := r.st.ListTrades(r.eng.Session().ID, 10)
	require.NoError(t, err)
	var sawExit bool
	for _, tr := range trades {
		if tr.Reason == domain.ExitReasonStopLoss {
			sawExit = true
			assert.Equal(t, domain.SideSell, tr.Side)
		}
	}
	assert.True(t, sawExit, "expected a stop-loss exit trade")
}

func TestCycleBelowGateSkips(t *testing.T) {
	r := newRig(t, testConfig(), signals.Result{Score: 0.10, Confidence: 0.50})
	r.data.SetCandles("BTC/USDT", trendBars(260, 100, 0.5))
	r.data.SetQuote("BTC/USDT", quote("BTC/USDT", 228))

	require.NoError(t, r.eng.Bootstrap())
	require.NoError(t, r.eng.RunCycle(context.Background()))

	// Below the regime floor, the pilot gate and the threshold
	assert.Empty(t, r.pf.Positions())
}

func TestPilotFallbackPromotesNearMiss(t *testing.T) {
	cfg := testConfig()
	// A gate the signal cannot clear directly, but within pilot reach
	cfg.Gate.DefaultThreshold = 0.95
	cfg.Gate.HardFloorMin = 0.93
	r := newRig(t, cfg, signals.Result{
		Score:      0.90,
		Confidence: 0.80,
		StopLoss:   toTick(228 * 0.98),
		TakeProfit: toTick(228 * 1.05),
	})
	r.data.SetCandles("BTC/USDT", trendBars(260, 100, 0.5))
	r.data.SetQuote("BTC/USDT", quote("BTC/USDT", 228))

	require.NoError(t, r.eng.Bootstrap())
	require.NoError(t, r.eng.RunCycle(context.Background()))

	positions := r.pf.Positions()
	require.Len(t, positions, 1)

	// Pilot size is a quarter of the normal target
	full := newRig(t, testConfig(), signals.Result{
		Score:      0.90,
		Confidence: 0.80,
		StopLoss:   toTick(228 * 0.98),
		TakeProfit: toTick(228 * 1.05),
	})
	full.data.SetCandles("BTC/USDT", trendBars(260, 100, 0.5))
	full.data.SetQuote("BTC/USDT", quote("BTC/USDT", 228))
	require.NoError(t, full.eng.Bootstrap())
	require.NoError(t, full.eng.RunCycle(context.Background()))
	require.Len(t, full.pf.Positions(), 1)

	assert.Less(t, positions[0].Quantity, full.pf.Positions()[0].Quantity)
}

func TestExplorationStateRoundTrip(t *testing.T) {
	r := newRig(t, testConfig(), signals.Result{})
	require.NoError(t, r.eng.Bootstrap())
	sessionID := r.eng.Session().ID

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	state, err := r.eng.explorationState(sessionID, now)
	require.NoError(t, err)
	assert.Zero(t, state.ForcedCount)

	state.ForcedCount = 1
	state.UsedNotional = 123.45
	require.NoError(t, r.eng.saveExplorationState(sessionID, now, state))

	got, err := r.eng.explorationState(sessionID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ForcedCount)
	assert.Equal(t, 123.45, got.UsedNotional)

	// A different UTC day starts a fresh budget
	fresh, err := r.eng.explorationState(sessionID, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, fresh.ForcedCount)
}

func TestStatusReportsCycleProgress(t *testing.T) {
	r := newRig(t, testConfig(), signals.Result{})
	r.data.SetQuote("BTC/USDT", quote("BTC/USDT", 100))
	r.data.SetCandles("BTC/USDT", trendBars(50, 100, 0.5))

	require.NoError(t, r.eng.Bootstrap())

	st := r.eng.Status()
	assert.Equal(t, int64(0), st.CycleCount)
	assert.Nil(t, st.LastCycleAt)

	require.NoError(t, r.eng.RunCycle(context.Background()))

	st = r.eng.Status()
	assert.Equal(t, int64(1), st.CycleCount)
	require.NotNil(t, st.LastCycleAt)
	assert.Equal(t, 10000.0, st.Equity)
}

// toTick aligns a price to the mock connector's default tick
func toTick(p float64) float64 {
	return float64(int(p*100)) / 100
}
