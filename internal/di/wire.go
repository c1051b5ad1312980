package di

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/analytics"
	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/database"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/engine"
	"github.com/quartzline/rudder/internal/execution"
	"github.com/quartzline/rudder/internal/lotbook"
	"github.com/quartzline/rudder/internal/metrics"
	"github.com/quartzline/rudder/internal/portfolio"
	"github.com/quartzline/rudder/internal/pricing"
	"github.com/quartzline/rudder/internal/regime"
	"github.com/quartzline/rudder/internal/reliability"
	"github.com/quartzline/rudder/internal/risk"
	"github.com/quartzline/rudder/internal/scheduler"
	"github.com/quartzline/rudder/internal/server"
	"github.com/quartzline/rudder/internal/signals"
	"github.com/quartzline/rudder/internal/store"
	"github.com/quartzline/rudder/internal/venue"
)

// Wire builds the full application from configuration. On error the
// partially built container is already closed.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{}

	if err := initDatabases(c, cfg); err != nil {
		c.Close()
		return nil, err
	}

	c.Store = store.New(c.StateDB.Conn(), log)

	ledger, err := analytics.New(cfg.AnalyticsDBPath(), log)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open analytics: %w", err)
	}
	c.Ledger = ledger

	c.Metrics = metrics.New()

	initVenue(c, cfg, log)
	initEngine(c, cfg, log)

	c.Server = server.New(server.Config{
		Log:       log,
		Cfg:       cfg,
		Engine:    c.Engine,
		Store:     c.Store,
		Portfolio: c.Portfolio,
		Ledger:    c.Ledger,
		Metrics:   c.Metrics,
	})

	if err := initScheduler(c, cfg, log); err != nil {
		c.Close()
		return nil, err
	}

	log.Info().Msg("wiring completed")
	return c, nil
}

func initDatabases(c *Container, cfg *config.Config) error {
	stateDB, err := database.New(database.Config{
		Path:    cfg.StateDBPath(),
		Profile: database.ProfileLedger,
		Name:    "state",
	})
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	if err := stateDB.Migrate(); err != nil {
		stateDB.Close()
		return fmt.Errorf("failed to migrate state database: %w", err)
	}
	c.StateDB = stateDB

	// Maintenance handle on the analytics file; the analytics service
	// opens its own connection for queries.
	analyticsDB, err := database.New(database.Config{
		Path:    cfg.AnalyticsDBPath(),
		Profile: database.ProfileStandard,
		Name:    "analytics",
	})
	if err != nil {
		return fmt.Errorf("failed to open analytics database: %w", err)
	}
	c.AnalyticsDB = analyticsDB

	return nil
}

// initVenue selects the market adapters. Paper mode runs fully offline on
// the sandbox feed; anything else talks to the venue's REST/websocket API.
func initVenue(c *Container, cfg *config.Config, log zerolog.Logger) {
	if cfg.Venue.Name == "paper" {
		c.Data = venue.NewSandboxFeed(cfg.Venue.Paper.Seed, log)
		c.Connector = venue.NewPaperConnector(cfg.Symbols, cfg.Venue.Paper)
		return
	}

	client := venue.NewClient(cfg.Venue, cfg.Engine, cfg.Symbols, c.Metrics, log)
	c.Data = client
	c.Connector = client
	c.Stream = client.Stream()
}

func initEngine(c *Container, cfg *config.Config, log zerolog.Logger) {
	strategies := buildStrategies(cfg.Signals, log)

	builder := execution.NewBuilder(log)
	sim := execution.NewSimulator(cfg.Venue.Paper, log)
	exits := risk.NewExitPlanner(cfg.Exits, log)
	mode := domain.TradingMode(cfg.Session.Mode)
	orders := execution.NewManager(builder, c.Connector, sim, c.Store, exits, cfg.Exits, mode, log)

	c.Portfolio = portfolio.New(c.Store, lotbook.New(), anyShortable(cfg), log)

	c.Engine = engine.New(cfg, engine.Deps{
		Store:      c.Store,
		Data:       c.Data,
		Connector:  c.Connector,
		Snapshots:  pricing.NewManager(c.Data, cfg.Engine, log),
		Scorer:     signals.NewScorer(log, strategies, cfg.Signals.Weights),
		Normalizer: signals.NewNormalizer(c.Store, cfg.Gate, log),
		Detector:   regime.NewDetector(cfg.Risk, log),
		Risk:       risk.NewManager(cfg.Risk, cfg.Execution, log),
		Stops:      risk.NewStopModel(cfg.Risk.Stops, log),
		Halt:       risk.NewHaltGuard(c.Store, cfg.Risk, log),
		Builder:    builder,
		Orders:     orders,
		Portfolio:  c.Portfolio,
		Ledger:     c.Ledger,
		Metrics:    c.Metrics,
	}, log)
}

// buildStrategies instantiates every strategy with a configured weight.
// Unknown names are skipped with a warning so a config typo cannot crash
// the engine at startup.
func buildStrategies(cfg config.SignalsConfig, log zerolog.Logger) []signals.Strategy {
	var out []signals.Strategy
	for name := range cfg.Weights {
		switch name {
		case "momentum":
			out = append(out, signals.NewMomentum(log))
		case "mean_reversion":
			out = append(out, signals.NewMeanReversion(log))
		case "breakout":
			out = append(out, signals.NewBreakout(log))
		default:
			log.Warn().Str("strategy", name).Msg("unknown strategy in signals.weights, skipping")
		}
	}
	return out
}

// anyShortable reports whether any configured symbol permits shorts, which
// controls whether oversells may flip into short positions.
func anyShortable(cfg *config.Config) bool {
	for _, rule := range cfg.Symbols {
		if rule.AllowShort {
			return true
		}
	}
	return false
}

func initScheduler(c *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(log)

	if cfg.Engine.Cron != "" {
		job := scheduler.NewCycleJob(c.Engine, cfg.Engine.Interval, log)
		if err := sched.AddJob(cfg.Engine.Cron, job); err != nil {
			return fmt.Errorf("failed to schedule trading cycle: %w", err)
		}
	}

	if cfg.Analytics.RollupCron != "" {
		job := scheduler.NewRollupJob(c.Ledger, c.Engine, c.Portfolio, log)
		if err := sched.AddJob(cfg.Analytics.RollupCron, job); err != nil {
			return fmt.Errorf("failed to schedule analytics rollup: %w", err)
		}
	}

	if err := sched.AddJob("@hourly", scheduler.NewCheckpointJob(c.StateDB, c.AnalyticsDB)); err != nil {
		return fmt.Errorf("failed to schedule WAL checkpoint: %w", err)
	}

	if cfg.Storage.ArchiveSnapshots && cfg.Storage.ArchiveKeepCycles > 0 {
		job := scheduler.NewPruneSnapshotsJob(c.Store, c.Engine, cfg.Storage.ArchiveKeepCycles, log)
		if err := sched.AddJob("@hourly", job); err != nil {
			return fmt.Errorf("failed to schedule snapshot pruning: %w", err)
		}
	}

	if cfg.Backup.Enabled {
		s3, err := reliability.NewS3Client(context.Background(), cfg.Backup.S3,
			os.Getenv("RUDDER_BACKUP_ACCESS_KEY"), os.Getenv("RUDDER_BACKUP_SECRET_KEY"), log)
		if err != nil {
			return fmt.Errorf("failed to build backup client: %w", err)
		}
		c.Backup = reliability.NewBackupService(c.StateDB, c.AnalyticsDB, s3, cfg.Backup, cfg.Storage.DataDir, log)
		if err := sched.AddJob(cfg.Backup.Cron, scheduler.NewBackupJob(c.Backup)); err != nil {
			return fmt.Errorf("failed to schedule backups: %w", err)
		}
	}

	c.Scheduler = sched
	return nil
}
