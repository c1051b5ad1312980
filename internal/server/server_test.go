package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzline/rudder/internal/analytics"
	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/engine"
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

func testServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()
	log := zerolog.Nop()

	cfg := &config.Config{
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
			RegimeFloors: map[string]config.RegimeFloor{
				"trend":   {Score: 0.40, RR: 1.2},
				"range":   {Score: 0.45, RR: 1.2},
				"unknown": {Score: 0.60, RR: 1.5},
			},
		},
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
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
		Storage: config.StorageConfig{DataDir: t.TempDir()},
	}

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
	met := metrics.New()

	eng := engine.New(cfg, engine.Deps{
		Store:      st,
		Data:       data,
		Connector:  conn,
		Snapshots:  pricing.NewManager(data, cfg.Engine, log),
		Scorer:     signals.NewScorer(log, []signals.Strategy{signals.NewMomentum(log)}, map[string]float64{"momentum": 1}),
		Normalizer: signals.NewNormalizer(st, cfg.Gate, log),
		Detector:   regime.NewDetector(cfg.Risk, log),
		Risk:       risk.NewManager(cfg.Risk, cfg.Execution, log),
		Stops:      risk.NewStopModel(cfg.Risk.Stops, log),
		Halt:       risk.NewHaltGuard(st, cfg.Risk, log),
		Builder:    builder,
		Orders:     orders,
		Portfolio:  pf,
		Ledger:     ledger,
		Metrics:    met,
	}, log)
	require.NoError(t, eng.Bootstrap())

	srv := New(Config{
		Log:       log,
		Cfg:       cfg,
		Engine:    eng,
		Store:     st,
		Portfolio: pf,
		Ledger:    ledger,
		Metrics:   met,
	})
	return srv, st
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "rudder", body["service"])
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, "paper", body["mode"])
	assert.InDelta(t, 10000, body["equity"].(float64), 1e-9)
}

func TestPositionsEndpointEmpty(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/api/positions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count     int               `json:"count"`
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
}

func TestTradesEndpointLimit(t *testing.T) {
	srv, st := testServer(t)
	sessionID := srv.eng.Session().ID

	for i := 0; i < 3; i++ {
		require.NoError(t, st.SaveTrade(&domain.Trade{
			TradeID:    string(rune('a' + i)),
			SessionID:  sessionID,
			Symbol:     "BTC/USDT",
			Strategy:   "momentum",
			Side:       domain.SideBuy,
			Quantity:   1,
			Price:      100,
			ExecutedAt: time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := get(t, srv, "/api/trades?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count  int            `json:"count"`
		Trades []domain.Trade `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestTradesEndpointRejectsBadLimit(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/api/trades?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, srv, "/api/trades?limit=-5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyticsSummaryEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/api/analytics/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var body analytics.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Trades)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rudder_")
}

func TestSystemEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/api/system")
	require.Equal(t, http.StatusOK, rec.Code)

	var body systemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.CheckedAt)
}
