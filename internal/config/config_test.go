package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RUDDER_STORAGE_DATA_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Session.Mode)
	assert.Equal(t, 10000.0, cfg.Session.InitialCash)
	assert.Equal(t, "threshold", cfg.Gate.Mode)
	assert.Equal(t, 0.30, cfg.Gate.HardFloorMin)
	assert.Equal(t, 0.65, cfg.Gate.DefaultThreshold)
	assert.Equal(t, 0.15, cfg.Signals.Weights["momentum"])
	assert.Equal(t, 0.10, cfg.Signals.Weights["mean_reversion"])
	assert.Equal(t, 0.01, cfg.Risk.RiskPct)
	assert.Equal(t, 1.15, cfg.Risk.RiskOnRatio)
	assert.Equal(t, 3, cfg.Risk.RiskOnCycles)
	assert.Equal(t, 1.2, cfg.Risk.Stops.ATRMultSL)
	assert.Equal(t, 2.0, cfg.Risk.Stops.ATRMultTP)
	assert.Equal(t, 0.55, cfg.Pilot.Gate)
	assert.Equal(t, 0.4, cfg.Pilot.SizeMult)
	assert.Equal(t, 1.60, cfg.Pilot.RRMin)
	assert.Equal(t, 2, cfg.Exploration.MaxForcedPerDay)
	assert.Equal(t, 0.03, cfg.Exploration.BudgetPctPerDay)
	assert.Equal(t, 8093, cfg.Server.Port)
	assert.Equal(t, "paper", cfg.Venue.Name)
	assert.Equal(t, 10.0, cfg.Venue.Paper.MakerFeeBps)
	assert.Equal(t, 20.0, cfg.Venue.Paper.TakerFeeBps)
	require.Len(t, cfg.Exits.Ladder, 2)
	assert.Equal(t, 0.8, cfg.Exits.Ladder[0].ProfitPct)
	assert.Equal(t, 0.5, cfg.Exits.Ladder[0].Fraction)
	assert.Equal(t, 1.5, cfg.Exits.Ladder[1].ProfitPct)
	assert.Equal(t, 10.0, cfg.Execution.MinSliceNotional)
	assert.Equal(t, 100.0, cfg.Execution.DefaultSliceNotional)
	assert.Equal(t, 10, cfg.Execution.MaxSlicesPerOrder)
}

func TestLoadRegimeFloors(t *testing.T) {
	t.Setenv("RUDDER_STORAGE_DATA_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		regime string
		score  float64
		rr     float64
	}{
		{regime: "trend", score: 0.50, rr: 1.4},
		{regime: "range", score: 0.48, rr: 1.2},
		{regime: "unknown", score: 0.60, rr: 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.regime, func(t *testing.T) {
			floor := cfg.Risk.FloorFor(tt.regime)
			assert.Equal(t, tt.score, floor.Score)
			assert.Equal(t, tt.rr, floor.RR)
		})
	}

	// Unrecognized names fall back to the unknown floor
	assert.Equal(t, cfg.Risk.FloorFor("unknown"), cfg.Risk.FloorFor("sideways"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rudder.yaml")
	yaml := `
session:
  mode: paper
  initial_cash: 2500
engine:
  symbols: ["BTC/USDT"]
  interval: 30s
gate:
  mode: top_k
  top_k: 2
storage:
  data_dir: ` + dir + `
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2500.0, cfg.Session.InitialCash)
	assert.Equal(t, []string{"BTC/USDT"}, cfg.Engine.Symbols)
	assert.Equal(t, "top_k", cfg.Gate.Mode)
	assert.Equal(t, 2, cfg.Gate.TopK)
	// Defaults still apply for keys the file omits
	assert.Equal(t, 0.01, cfg.Risk.RiskPct)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RUDDER_STORAGE_DATA_DIR", t.TempDir())
	t.Setenv("RUDDER_SERVER_PORT", "9100")
	t.Setenv("RUDDER_SESSION_INITIAL_CASH", "50000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 50000.0, cfg.Session.InitialCash)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Setenv("RUDDER_STORAGE_DATA_DIR", t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:     "bad mode",
			mutate:   func(c *Config) { c.Session.Mode = "dry_run" },
			errorMsg: "session.mode",
		},
		{
			name:     "zero cash",
			mutate:   func(c *Config) { c.Session.InitialCash = 0 },
			errorMsg: "initial_cash",
		},
		{
			name:     "no symbols",
			mutate:   func(c *Config) { c.Engine.Symbols = nil },
			errorMsg: "symbols",
		},
		{
			name:     "bad gate mode",
			mutate:   func(c *Config) { c.Gate.Mode = "random" },
			errorMsg: "gate.mode",
		},
		{
			name:     "top_k without k",
			mutate:   func(c *Config) { c.Gate.Mode = "top_k"; c.Gate.TopK = 0 },
			errorMsg: "top_k",
		},
		{
			name:     "risk pct out of range",
			mutate:   func(c *Config) { c.Risk.RiskPct = 1.5 },
			errorMsg: "risk_pct",
		},
		{
			name:     "live on paper venue",
			mutate:   func(c *Config) { c.Session.Mode = "live" },
			errorMsg: "non-paper venue",
		},
		{
			name:     "ladder fraction out of range",
			mutate:   func(c *Config) { c.Exits.Ladder[0].Fraction = 1.5 },
			errorMsg: "fraction",
		},
		{
			name:     "ladder profit pct not positive",
			mutate:   func(c *Config) { c.Exits.Ladder[0].ProfitPct = 0 },
			errorMsg: "profit_pct",
		},
		{
			name:     "default slice below min slice",
			mutate:   func(c *Config) { c.Execution.DefaultSliceNotional = 5 },
			errorMsg: "default_slice_notional",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestDBPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RUDDER_STORAGE_DATA_DIR", dir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "state.db"), cfg.StateDBPath())
	assert.Equal(t, filepath.Join(dir, "analytics.db"), cfg.AnalyticsDBPath())
}
