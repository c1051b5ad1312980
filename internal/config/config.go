// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the full application configuration. Values come from the
// YAML config file, overridden by RUDDER_* environment variables
// (RUDDER_SERVER_PORT, RUDDER_RISK_RISK_PCT, ...).
type Config struct {
	Session     SessionConfig     `mapstructure:"session"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Signals     SignalsConfig     `mapstructure:"signals"`
	Gate        GateConfig        `mapstructure:"gate"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Exits       ExitsConfig       `mapstructure:"exits"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Pilot       PilotConfig       `mapstructure:"pilot"`
	Exploration ExplorationConfig `mapstructure:"exploration"`
	Venue       VenueConfig       `mapstructure:"venue"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Analytics   AnalyticsConfig   `mapstructure:"analytics"`
	Backup      BackupConfig      `mapstructure:"backup"`

	// Symbols carries the per-symbol venue trading rules. Paper mode uses
	// them as-is; live connectors override them with venue-reported values.
	Symbols map[string]SymbolRuleConfig `mapstructure:"symbols"`
}

// SymbolRuleConfig sets the trading constraints for one symbol.
type SymbolRuleConfig struct {
	PriceTick   float64 `mapstructure:"price_tick"`
	QtyStep     float64 `mapstructure:"qty_step"`
	MinQty      float64 `mapstructure:"min_qty"`
	MinNotional float64 `mapstructure:"min_notional"`
	AllowShort  bool    `mapstructure:"allow_short"`
}

// SymbolRule returns the configured rules for a symbol. Lookup is
// case-insensitive because viper lowercases map keys on unmarshal.
func (c *Config) SymbolRule(symbol string) (SymbolRuleConfig, bool) {
	if r, ok := c.Symbols[symbol]; ok {
		return r, true
	}
	lower := strings.ToLower(symbol)
	if r, ok := c.Symbols[lower]; ok {
		return r, true
	}
	return SymbolRuleConfig{}, false
}

// SessionConfig controls how a trading session starts
type SessionConfig struct {
	Mode          string  `mapstructure:"mode"` // "paper" or "live"
	QuoteCurrency string  `mapstructure:"quote_currency"`
	InitialCash   float64 `mapstructure:"initial_cash"`
	Resume        bool    `mapstructure:"resume"` // reattach to the most recent active session
}

// EngineConfig controls the decision cycle
type EngineConfig struct {
	Symbols              []string      `mapstructure:"symbols"`
	Timeframe            string        `mapstructure:"timeframe"`
	Interval             time.Duration `mapstructure:"interval"` // ignored when Cron is set
	Cron                 string        `mapstructure:"cron"`
	SnapshotFetchTimeout time.Duration `mapstructure:"snapshot_fetch_timeout"`
	SnapshotMaxParallel  int           `mapstructure:"snapshot_max_parallel"`
	StalenessThreshold   time.Duration `mapstructure:"staleness_threshold"`
	HistoryBars          int           `mapstructure:"history_bars"` // OHLCV window fetched per cycle
}

// SignalsConfig weights the composite scorer's strategies. Weights are
// normalized to sum to 1 at engine construction, so only their ratios matter.
type SignalsConfig struct {
	Weights map[string]float64 `mapstructure:"weights"`
}

// GateConfig controls entry gating
type GateConfig struct {
	Mode             string  `mapstructure:"mode"` // "threshold" or "top_k"
	TopK             int     `mapstructure:"top_k"`
	ThresholdMargin  float64 `mapstructure:"threshold_margin"`
	HardFloorMin     float64 `mapstructure:"hard_floor_min"`
	WindowSize       int     `mapstructure:"window_size"`       // rolling score window cap
	Quantile         float64 `mapstructure:"quantile"`          // effective threshold percentile
	MinWindow        int     `mapstructure:"min_window"`        // observations before the quantile applies
	DefaultThreshold float64 `mapstructure:"default_threshold"` // gate used until the window warms up
}

// RegimeFloor is the minimum score and risk/reward required in one regime
type RegimeFloor struct {
	Score float64 `mapstructure:"score"`
	RR    float64 `mapstructure:"rr"`
}

// StopConfig controls the three-tier stop model. MinSLAbs and MinTPAbs are
// absolute price distances enforced on the percent-fallback path.
type StopConfig struct {
	ATRMultSL       float64 `mapstructure:"atr_mult_sl"`
	ATRMultTP       float64 `mapstructure:"atr_mult_tp"`
	FallbackSLPct   float64 `mapstructure:"fallback_sl_pct"`
	FallbackTPMult  float64 `mapstructure:"fallback_tp_mult"`
	FallbackEnabled bool    `mapstructure:"fallback_enabled"`
	MinSLAbs        float64 `mapstructure:"min_sl_abs"`
	MinTPAbs        float64 `mapstructure:"min_tp_abs"`
}

// RiskConfig controls sizing, stops and the risk regime
type RiskConfig struct {
	RiskPct                float64                `mapstructure:"risk_pct"`
	MaxNotionalPct         float64                `mapstructure:"max_notional_pct"`
	PerSymbolCapPct        float64                `mapstructure:"per_symbol_cap_pct"`
	SessionCapPct          float64                `mapstructure:"session_cap_pct"`
	MinStopFrac            float64                `mapstructure:"min_stop_frac"`
	DailyLossLimitPct      float64                `mapstructure:"daily_loss_limit_pct"`
	AllowShort             bool                   `mapstructure:"allow_short"`
	ShortSalesOpenPosition bool                   `mapstructure:"short_sales_open_position"`
	ATRPeriod              int                    `mapstructure:"atr_period"`
	ATRSMAPeriod           int                    `mapstructure:"atr_sma_period"`
	RiskOnRatio            float64                `mapstructure:"risk_on_ratio"`
	RiskOnCycles           int                    `mapstructure:"risk_on_cycles"`
	RiskOnFloor            float64                `mapstructure:"risk_on_floor"`
	RiskOnRiskPct          float64                `mapstructure:"risk_on_risk_pct"`
	RegimeFloors           map[string]RegimeFloor `mapstructure:"regime_floors"`
	Stops                  StopConfig             `mapstructure:"stops"`
}

// LadderLevel is one take-profit ladder rung. ProfitPct is the unrealized
// gain that arms the rung, in percent units (0.8 means +0.8%); Fraction is
// the share of the remaining position to close when it fires.
type LadderLevel struct {
	ProfitPct float64 `mapstructure:"profit_pct"`
	Fraction  float64 `mapstructure:"fraction"`
}

// ExitsConfig controls protective exit triggers
type ExitsConfig struct {
	TimeStopHours     int           `mapstructure:"time_stop_hours"`
	Ladder            []LadderLevel `mapstructure:"ladder"`
	ChandelierEnabled bool          `mapstructure:"chandelier_enabled"`
	ChandelierATRMult float64       `mapstructure:"chandelier_atr_mult"`
}

// ExecutionConfig controls order slicing
type ExecutionConfig struct {
	MinSliceNotional     float64 `mapstructure:"min_slice_notional"`
	DefaultSliceNotional float64 `mapstructure:"default_slice_notional"`
	MaxSlicesPerOrder    int     `mapstructure:"max_slices_per_order"`
}

// PilotConfig controls reduced-size probe entries
type PilotConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Gate     float64 `mapstructure:"gate"` // absolute score floor for pilot candidates
	SizeMult float64 `mapstructure:"size_mult"`
	RRMin    float64 `mapstructure:"rr_min"`
}

// ExplorationConfig controls the daily budget for forced below-gate entries.
// Counters persist in session metadata and reset at UTC midnight.
type ExplorationConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	MaxForcedPerDay int     `mapstructure:"max_forced_per_day"`
	BudgetPctPerDay float64 `mapstructure:"budget_pct_per_day"`
	MinScore        float64 `mapstructure:"min_score"`
	SizeMult        float64 `mapstructure:"size_mult_vs_normal"`
	TighterStopMult float64 `mapstructure:"tighter_stop_mult"`
}

// BreakerConfig tunes the venue circuit breaker
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// PaperConfig tunes the simulated execution model
type PaperConfig struct {
	MakerFeeBps    float64 `mapstructure:"maker_fee_bps"`
	TakerFeeBps    float64 `mapstructure:"taker_fee_bps"`
	SlippageBps    float64 `mapstructure:"slippage_bps"`
	LiquidityScore float64 `mapstructure:"liquidity_score"`
	Seed           int64   `mapstructure:"seed"` // 0 means time-seeded
}

// VenueConfig controls the exchange connector
type VenueConfig struct {
	Name           string        `mapstructure:"name"`
	RESTBaseURL    string        `mapstructure:"rest_base_url"`
	WSURL          string        `mapstructure:"ws_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	CallsPerSecond float64       `mapstructure:"calls_per_second"`
	Burst          int           `mapstructure:"burst"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
	Paper          PaperConfig   `mapstructure:"paper"`
}

// ServerConfig controls the status HTTP server
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig controls zerolog output
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	Dir    string `mapstructure:"dir"` // empty disables the file tee
}

// StorageConfig controls database placement and snapshot archiving
type StorageConfig struct {
	DataDir           string `mapstructure:"data_dir"`
	ArchiveSnapshots  bool   `mapstructure:"archive_snapshots"`
	ArchiveKeepCycles int    `mapstructure:"archive_keep_cycles"`
}

// AnalyticsConfig controls the reporting database
type AnalyticsConfig struct {
	RollupCron string `mapstructure:"rollup_cron"`
}

// S3Config points backups at an S3-compatible bucket
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // empty uses AWS
}

// BackupConfig controls scheduled database backups
type BackupConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Cron    string   `mapstructure:"cron"`
	Keep    int      `mapstructure:"keep"`
	S3      S3Config `mapstructure:"s3"`
}

// Load reads configuration from the given file (optional), the environment
// and built-in defaults, in ascending precedence: defaults < file < env.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RUDDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Secrets only come from the environment, never from the file
	if key := os.Getenv("RUDDER_VENUE_API_KEY"); key != "" {
		cfg.Venue.APIKey = key
	}
	if secret := os.Getenv("RUDDER_VENUE_API_SECRET"); secret != "" {
		cfg.Venue.APISecret = secret
	}

	// Always resolve the data directory to an absolute path and create it
	absDataDir, err := filepath.Abs(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.Storage.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.mode", "paper")
	v.SetDefault("session.quote_currency", "USDT")
	v.SetDefault("session.initial_cash", 10000.0)
	v.SetDefault("session.resume", true)

	v.SetDefault("engine.symbols", []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"})
	v.SetDefault("engine.timeframe", "1h")
	v.SetDefault("engine.interval", "60s")
	v.SetDefault("engine.cron", "")
	v.SetDefault("engine.snapshot_fetch_timeout", "5s")
	v.SetDefault("engine.snapshot_max_parallel", 8)
	v.SetDefault("engine.staleness_threshold", "90s")
	v.SetDefault("engine.history_bars", 300)

	v.SetDefault("signals.weights.momentum", 0.15)
	v.SetDefault("signals.weights.breakout", 0.15)
	v.SetDefault("signals.weights.mean_reversion", 0.10)

	v.SetDefault("gate.mode", "threshold")
	v.SetDefault("gate.top_k", 3)
	v.SetDefault("gate.threshold_margin", 0.05)
	v.SetDefault("gate.hard_floor_min", 0.30)
	v.SetDefault("gate.window_size", 200)
	v.SetDefault("gate.quantile", 0.70)
	v.SetDefault("gate.min_window", 20)
	v.SetDefault("gate.default_threshold", 0.65)

	v.SetDefault("risk.risk_pct", 0.01)
	v.SetDefault("risk.max_notional_pct", 0.20)
	v.SetDefault("risk.per_symbol_cap_pct", 0.025)
	v.SetDefault("risk.session_cap_pct", 0.50)
	v.SetDefault("risk.min_stop_frac", 0.001)
	v.SetDefault("risk.daily_loss_limit_pct", 0.03)
	v.SetDefault("risk.allow_short", false)
	v.SetDefault("risk.short_sales_open_position", true)
	v.SetDefault("risk.atr_period", 14)
	v.SetDefault("risk.atr_sma_period", 100)
	v.SetDefault("risk.risk_on_ratio", 1.15)
	v.SetDefault("risk.risk_on_cycles", 3)
	v.SetDefault("risk.risk_on_floor", 0.35)
	v.SetDefault("risk.risk_on_risk_pct", 0.015)
	v.SetDefault("risk.regime_floors.trend.score", 0.50)
	v.SetDefault("risk.regime_floors.trend.rr", 1.4)
	v.SetDefault("risk.regime_floors.range.score", 0.48)
	v.SetDefault("risk.regime_floors.range.rr", 1.2)
	v.SetDefault("risk.regime_floors.unknown.score", 0.60)
	v.SetDefault("risk.regime_floors.unknown.rr", 1.5)
	v.SetDefault("risk.stops.atr_mult_sl", 1.2)
	v.SetDefault("risk.stops.atr_mult_tp", 2.0)
	v.SetDefault("risk.stops.fallback_enabled", true)
	v.SetDefault("risk.stops.fallback_sl_pct", 0.005)
	v.SetDefault("risk.stops.fallback_tp_mult", 2.0)
	v.SetDefault("risk.stops.min_sl_abs", 0.001)
	v.SetDefault("risk.stops.min_tp_abs", 0.002)

	v.SetDefault("exits.time_stop_hours", 48)
	v.SetDefault("exits.ladder", []map[string]interface{}{
		{"profit_pct": 0.8, "fraction": 0.5},
		{"profit_pct": 1.5, "fraction": 0.5},
	})
	v.SetDefault("exits.chandelier_enabled", false)
	v.SetDefault("exits.chandelier_atr_mult", 3.0)

	v.SetDefault("execution.min_slice_notional", 10.0)
	v.SetDefault("execution.default_slice_notional", 100.0)
	v.SetDefault("execution.max_slices_per_order", 10)

	v.SetDefault("pilot.enabled", true)
	v.SetDefault("pilot.gate", 0.55)
	v.SetDefault("pilot.size_mult", 0.4)
	v.SetDefault("pilot.rr_min", 1.60)

	v.SetDefault("exploration.enabled", true)
	v.SetDefault("exploration.max_forced_per_day", 2)
	v.SetDefault("exploration.budget_pct_per_day", 0.03)
	v.SetDefault("exploration.min_score", 0.30)
	v.SetDefault("exploration.size_mult_vs_normal", 0.5)
	v.SetDefault("exploration.tighter_stop_mult", 0.7)

	v.SetDefault("venue.name", "paper")
	v.SetDefault("venue.rest_base_url", "")
	v.SetDefault("venue.ws_url", "")
	v.SetDefault("venue.calls_per_second", 8.0)
	v.SetDefault("venue.burst", 16)
	v.SetDefault("venue.request_timeout", "10s")
	v.SetDefault("venue.retry_count", 3)
	v.SetDefault("venue.breaker.max_requests", 3)
	v.SetDefault("venue.breaker.interval", "60s")
	v.SetDefault("venue.breaker.timeout", "30s")
	v.SetDefault("venue.breaker.failure_threshold", 5)
	v.SetDefault("venue.paper.maker_fee_bps", 10.0)
	v.SetDefault("venue.paper.taker_fee_bps", 20.0)
	v.SetDefault("venue.paper.slippage_bps", 5.0)
	v.SetDefault("venue.paper.liquidity_score", 0.95)
	v.SetDefault("venue.paper.seed", 0)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8093)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
	v.SetDefault("logging.dir", "")

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.archive_snapshots", true)
	v.SetDefault("storage.archive_keep_cycles", 5000)

	v.SetDefault("analytics.rollup_cron", "5 0 * * *")

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.cron", "0 3 * * *")
	v.SetDefault("backup.keep", 14)
	v.SetDefault("backup.s3.bucket", "")
	v.SetDefault("backup.s3.prefix", "rudder")
	v.SetDefault("backup.s3.region", "us-east-1")
	v.SetDefault("backup.s3.endpoint", "")

	v.SetDefault("symbols", map[string]map[string]interface{}{
		"BTC/USDT": {"price_tick": 0.01, "qty_step": 0.00001, "min_qty": 0.00001, "min_notional": 10.0, "allow_short": false},
		"ETH/USDT": {"price_tick": 0.01, "qty_step": 0.0001, "min_qty": 0.0001, "min_notional": 10.0, "allow_short": false},
		"SOL/USDT": {"price_tick": 0.001, "qty_step": 0.001, "min_qty": 0.001, "min_notional": 10.0, "allow_short": false},
	})
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.Session.Mode != "paper" && c.Session.Mode != "live" {
		return fmt.Errorf("session.mode must be paper or live, got %q", c.Session.Mode)
	}
	if c.Session.InitialCash <= 0 {
		return fmt.Errorf("session.initial_cash must be positive, got %v", c.Session.InitialCash)
	}
	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("engine.symbols must not be empty")
	}
	if c.Engine.Cron == "" && c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be positive when engine.cron is unset")
	}
	if c.Engine.SnapshotMaxParallel <= 0 {
		return fmt.Errorf("engine.snapshot_max_parallel must be positive, got %d", c.Engine.SnapshotMaxParallel)
	}
	if c.Gate.Mode != "threshold" && c.Gate.Mode != "top_k" {
		return fmt.Errorf("gate.mode must be threshold or top_k, got %q", c.Gate.Mode)
	}
	if c.Gate.Mode == "top_k" && c.Gate.TopK <= 0 {
		return fmt.Errorf("gate.top_k must be positive in top_k mode, got %d", c.Gate.TopK)
	}
	if c.Risk.RiskPct <= 0 || c.Risk.RiskPct >= 1 {
		return fmt.Errorf("risk.risk_pct must be in (0, 1), got %v", c.Risk.RiskPct)
	}
	if c.Risk.RiskOnRiskPct < 0 || c.Risk.RiskOnRiskPct >= 1 {
		return fmt.Errorf("risk.risk_on_risk_pct must be in [0, 1), got %v", c.Risk.RiskOnRiskPct)
	}
	if c.Risk.MinStopFrac <= 0 {
		return fmt.Errorf("risk.min_stop_frac must be positive, got %v", c.Risk.MinStopFrac)
	}
	for _, regime := range []string{"trend", "range", "unknown"} {
		if _, ok := c.Risk.RegimeFloors[regime]; !ok {
			return fmt.Errorf("risk.regime_floors missing %q", regime)
		}
	}
	for i, lvl := range c.Exits.Ladder {
		if lvl.ProfitPct <= 0 {
			return fmt.Errorf("exits.ladder[%d].profit_pct must be positive, got %v", i, lvl.ProfitPct)
		}
		if lvl.Fraction <= 0 || lvl.Fraction > 1 {
			return fmt.Errorf("exits.ladder[%d].fraction must be in (0, 1], got %v", i, lvl.Fraction)
		}
	}
	if c.Execution.MinSliceNotional <= 0 {
		return fmt.Errorf("execution.min_slice_notional must be positive, got %v", c.Execution.MinSliceNotional)
	}
	if c.Execution.DefaultSliceNotional < c.Execution.MinSliceNotional {
		return fmt.Errorf("execution.default_slice_notional must be at least min_slice_notional, got %v", c.Execution.DefaultSliceNotional)
	}
	if c.Execution.MaxSlicesPerOrder <= 0 {
		return fmt.Errorf("execution.max_slices_per_order must be positive, got %d", c.Execution.MaxSlicesPerOrder)
	}
	if c.Pilot.Enabled && c.Pilot.SizeMult <= 0 {
		return fmt.Errorf("pilot.size_mult must be positive, got %v", c.Pilot.SizeMult)
	}
	if c.Exploration.Enabled {
		if c.Exploration.BudgetPctPerDay <= 0 {
			return fmt.Errorf("exploration.budget_pct_per_day must be positive, got %v", c.Exploration.BudgetPctPerDay)
		}
		if c.Exploration.MaxForcedPerDay <= 0 {
			return fmt.Errorf("exploration.max_forced_per_day must be positive, got %d", c.Exploration.MaxForcedPerDay)
		}
	}
	if c.Venue.Name == "" {
		return fmt.Errorf("venue.name must not be empty")
	}
	if c.Session.Mode == "live" && c.Venue.Name == "paper" {
		return fmt.Errorf("live mode requires a non-paper venue")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	for sym, rule := range c.Symbols {
		if rule.PriceTick <= 0 {
			return fmt.Errorf("symbols.%s.price_tick must be positive, got %v", sym, rule.PriceTick)
		}
		if rule.QtyStep <= 0 {
			return fmt.Errorf("symbols.%s.qty_step must be positive, got %v", sym, rule.QtyStep)
		}
		if rule.MinNotional < 0 || rule.MinQty < 0 {
			return fmt.Errorf("symbols.%s minimums must not be negative", sym)
		}
	}
	return nil
}

// FloorFor returns the regime floor for the given regime name, falling back
// to the unknown floor for unrecognized names
func (c *RiskConfig) FloorFor(regime string) RegimeFloor {
	if f, ok := c.RegimeFloors[regime]; ok {
		return f
	}
	return c.RegimeFloors["unknown"]
}

// StateDBPath returns the location of the session state database
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Storage.DataDir, "state.db")
}

// AnalyticsDBPath returns the location of the analytics database
func (c *Config) AnalyticsDBPath() string {
	return filepath.Join(c.Storage.DataDir, "analytics.db")
}
