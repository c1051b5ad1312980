package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/analytics"
	"github.com/quartzline/rudder/internal/database"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/reliability"
	"github.com/quartzline/rudder/internal/store"
)

// CycleRunner runs one trading cycle. Satisfied by the engine.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// SessionSource exposes the active session. Satisfied by the engine.
type SessionSource interface {
	Session() *domain.Session
}

// EquitySource exposes current equity. Satisfied by the portfolio.
type EquitySource interface {
	Equity() float64
}

// CycleJob drives the trading cycle when the engine is cron scheduled.
type CycleJob struct {
	runner  CycleRunner
	timeout time.Duration
	log     zerolog.Logger
}

// NewCycleJob wraps the engine's cycle in a scheduler job. The timeout
// bounds one cycle so a stuck venue call cannot stall the schedule.
func NewCycleJob(runner CycleRunner, timeout time.Duration, log zerolog.Logger) *CycleJob {
	return &CycleJob{runner: runner, timeout: timeout, log: log}
}

func (j *CycleJob) Name() string { return "trading_cycle" }

func (j *CycleJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	return j.runner.RunCycle(ctx)
}

// RollupJob aggregates the previous UTC day's ledger into daily_metrics.
type RollupJob struct {
	ledger   *analytics.Service
	sessions SessionSource
	equity   EquitySource
	log      zerolog.Logger
}

func NewRollupJob(ledger *analytics.Service, sessions SessionSource, equity EquitySource, log zerolog.Logger) *RollupJob {
	return &RollupJob{ledger: ledger, sessions: sessions, equity: equity, log: log}
}

func (j *RollupJob) Name() string { return "analytics_rollup" }

func (j *RollupJob) Run() error {
	session := j.sessions.Session()
	if session == nil {
		return fmt.Errorf("no active session to roll up")
	}

	day := time.Now().UTC().AddDate(0, 0, -1)
	metric, err := j.ledger.Rollup(session.ID, day, j.equity.Equity())
	if err != nil {
		return err
	}

	j.log.Info().
		Str("date", metric.Date).
		Int("trades", metric.Trades).
		Float64("net_pnl", metric.NetPnL).
		Msg("daily rollup written")
	return nil
}

// BackupJob runs the database backup pipeline.
type BackupJob struct {
	svc *reliability.BackupService
}

func NewBackupJob(svc *reliability.BackupService) *BackupJob {
	return &BackupJob{svc: svc}
}

func (j *BackupJob) Name() string { return "database_backup" }

func (j *BackupJob) Run() error {
	return j.svc.Run(context.Background())
}

// CheckpointJob truncates the WAL on the session databases so the files
// stay small between backups.
type CheckpointJob struct {
	dbs []*database.DB
}

func NewCheckpointJob(dbs ...*database.DB) *CheckpointJob {
	return &CheckpointJob{dbs: dbs}
}

func (j *CheckpointJob) Name() string { return "wal_checkpoint" }

func (j *CheckpointJob) Run() error {
	for _, db := range j.dbs {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			return err
		}
	}
	return nil
}

// PruneSnapshotsJob trims the snapshot archive beyond the keep window.
// The engine prunes as it archives; this job covers rows left behind by
// resumed sessions and config changes.
type PruneSnapshotsJob struct {
	st       store.Store
	sessions SessionSource
	keep     int
	log      zerolog.Logger
}

func NewPruneSnapshotsJob(st store.Store, sessions SessionSource, keep int, log zerolog.Logger) *PruneSnapshotsJob {
	return &PruneSnapshotsJob{st: st, sessions: sessions, keep: keep, log: log}
}

func (j *PruneSnapshotsJob) Name() string { return "prune_snapshots" }

func (j *PruneSnapshotsJob) Run() error {
	if j.keep <= 0 {
		return nil
	}
	session := j.sessions.Session()
	if session == nil {
		return fmt.Errorf("no active session to prune")
	}
	return j.st.PruneSnapshots(session.ID, j.keep)
}
