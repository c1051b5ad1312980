// Package engine runs the trading cycle: seal a pricing snapshot, refresh
// position marks, score and gate entry candidates, size and execute the
// admitted ones, manage protective exits, and reconcile the books. One
// engine owns one session; everything mutating the portfolio happens on
// the cycle goroutine.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/analytics"
	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/execution"
	"github.com/quartzline/rudder/internal/metrics"
	"github.com/quartzline/rudder/internal/portfolio"
	"github.com/quartzline/rudder/internal/pricing"
	"github.com/quartzline/rudder/internal/regime"
	"github.com/quartzline/rudder/internal/risk"
	"github.com/quartzline/rudder/internal/signals"
	"github.com/quartzline/rudder/internal/store"
)

// Engine orchestrates trading cycles for one session.
type Engine struct {
	log zerolog.Logger
	cfg *config.Config

	st         store.Store
	data       domain.DataEngine
	conn       domain.Connector
	snapshots  *pricing.Manager
	scorer     *signals.Scorer
	normalizer *signals.Normalizer
	detector   *regime.Detector
	riskMgr    *risk.Manager
	stops      *risk.StopModel
	halt       *risk.HaltGuard
	builder    *execution.Builder
	orders     *execution.Manager
	pf         *portfolio.Portfolio
	ledger     *analytics.Service
	met        *metrics.Registry

	session *domain.Session

	mu            sync.RWMutex
	cycleCount    int64
	lastCycleAt   time.Time
	lastCycleTook time.Duration
	lastCycleErr  string
	halted        bool
	riskOn        bool
}

// Deps bundles the engine's collaborators for construction.
type Deps struct {
	Store      store.Store
	Data       domain.DataEngine
	Connector  domain.Connector
	Snapshots  *pricing.Manager
	Scorer     *signals.Scorer
	Normalizer *signals.Normalizer
	Detector   *regime.Detector
	Risk       *risk.Manager
	Stops      *risk.StopModel
	Halt       *risk.HaltGuard
	Builder    *execution.Builder
	Orders     *execution.Manager
	Portfolio  *portfolio.Portfolio
	Ledger     *analytics.Service
	Metrics    *metrics.Registry
}

// New creates an engine. Bootstrap must run before the first cycle.
func New(cfg *config.Config, d Deps, log zerolog.Logger) *Engine {
	return &Engine{
		log:        log.With().Str("component", "engine").Logger(),
		cfg:        cfg,
		st:         d.Store,
		data:       d.Data,
		conn:       d.Connector,
		snapshots:  d.Snapshots,
		scorer:     d.Scorer,
		normalizer: d.Normalizer,
		detector:   d.Detector,
		riskMgr:    d.Risk,
		stops:      d.Stops,
		halt:       d.Halt,
		builder:    d.Builder,
		orders:     d.Orders,
		pf:         d.Portfolio,
		ledger:     d.Ledger,
		met:        d.Metrics,
	}
}

// Session returns the session this engine trades. Nil before Bootstrap.
func (e *Engine) Session() *domain.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// Run bootstraps the session and executes cycles on the configured interval
// until ctx is cancelled. In cron mode the scheduler drives RunCycle
// instead and Run only blocks for shutdown.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Bootstrap(); err != nil {
		return err
	}

	if e.cfg.Engine.Cron != "" {
		e.log.Info().Str("cron", e.cfg.Engine.Cron).Msg("cycle cadence delegated to scheduler")
		<-ctx.Done()
		return nil
	}

	interval := e.cfg.Engine.Interval
	e.log.Info().Dur("interval", interval).Msg("starting cycle loop")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := e.RunCycle(ctx); err != nil {
			e.log.Error().Err(err).Msg("cycle failed")
		}

		timer.Reset(interval)
	}
}

// Shutdown marks the session ended. Open positions survive into the next
// run when session.resume is set.
func (e *Engine) Shutdown() error {
	e.mu.RLock()
	session := e.session
	e.mu.RUnlock()
	if session == nil {
		return nil
	}

	if e.cfg.Session.Resume {
		e.log.Info().Str("session_id", session.ID).Msg("leaving session active for resume")
		return nil
	}
	if err := e.st.EndSession(session.ID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	e.log.Info().Str("session_id", session.ID).Msg("session ended")
	return nil
}
