// Package metrics exposes the engine's Prometheus instrumentation. One
// Registry is wired at startup and shared by the engine, the order manager
// and the status server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the engine emits.
type Registry struct {
	reg *prometheus.Registry

	// Cycle pipeline
	CycleDuration prometheus.Histogram
	CyclesTotal   *prometheus.CounterVec
	CycleNumber   prometheus.Gauge

	// Snapshot quality
	SnapshotSymbols prometheus.Gauge
	SnapshotDropped *prometheus.CounterVec
	SnapshotHits    prometheus.Counter
	SnapshotMisses  prometheus.Counter

	// Decisions and executions
	Decisions *prometheus.CounterVec
	Rejects   *prometheus.CounterVec
	Fills     *prometheus.CounterVec
	FeesPaid  prometheus.Counter

	// Portfolio
	Equity        prometheus.Gauge
	Cash          prometheus.Gauge
	OpenPositions prometheus.Gauge
	RealizedPnL   prometheus.Gauge
	EquityDrift   prometheus.Counter

	// Risk state
	RiskOnActive prometheus.Gauge
	HaltedToday  prometheus.Gauge

	// Venue client
	VenueRequests *prometheus.CounterVec
	BreakerOpen   prometheus.Gauge
}

// New creates and registers the full metric set on a private registry
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rudder_cycle_duration_seconds",
		Help:    "Wall time of one full trading cycle",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	r.CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_cycles_total",
		Help: "Completed trading cycles by result",
	}, []string{"result"})
	r.CycleNumber = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rudder_cycle_number",
		Help: "Sequence number of the most recent cycle",
	})

	r.SnapshotSymbols = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rudder_snapshot_symbols",
		Help: "Symbols accepted into the current pricing snapshot",
	})
	r.SnapshotDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_snapshot_dropped_total",
		Help: "Symbols dropped from snapshots by cause",
	}, []string{"cause"})
	r.SnapshotHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rudder_snapshot_hits_total",
		Help: "Price lookups served by the sealed snapshot",
	})
	r.SnapshotMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rudder_snapshot_misses_total",
		Help: "Price lookups for symbols absent from the snapshot",
	})

	r.Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_decisions_total",
		Help: "Per-symbol decisions by final action",
	}, []string{"action"})
	r.Rejects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_rejects_total",
		Help: "Skipped candidates by machine-readable reason",
	}, []string{"reason"})
	r.Fills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_fills_total",
		Help: "Executed fills by side",
	}, []string{"side"})
	r.FeesPaid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rudder_fees_paid_total",
		Help: "Cumulative execution fees in quote currency",
	})

	r.Equity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rudder_equity",
		Help: "Session equity after the latest reconciliation",
	})
	r.Cash = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rudder_cash",
		Help: "Session cash balance",
	})
	r.OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rudder_open_positions",
		Help: "Open positions in the session",
	})
	r.RealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rudder_realized_pnl",
		Help: "Cumulative realized P&L for the session",
	})
	r.EquityDrift = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rudder_equity_drift_total",
		Help: "Equity reconciliations that exceeded tolerance",
	})

	r.RiskOnActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rudder_risk_on_active",
		Help: "1 while the volatility risk-on window is armed",
	})
	r.HaltedToday = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rudder_halted_today",
		Help: "1 while the daily loss limit blocks new entries",
	})

	r.VenueRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_venue_requests_total",
		Help: "REST requests to the venue by endpoint and result",
	}, []string{"endpoint", "result"})
	r.BreakerOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rudder_venue_breaker_open",
		Help: "1 while the venue circuit breaker is open",
	})

	r.reg.MustRegister(
		r.CycleDuration, r.CyclesTotal, r.CycleNumber,
		r.SnapshotSymbols, r.SnapshotDropped, r.SnapshotHits, r.SnapshotMisses,
		r.Decisions, r.Rejects, r.Fills, r.FeesPaid,
		r.Equity, r.Cash, r.OpenPositions, r.RealizedPnL, r.EquityDrift,
		r.RiskOnActive, r.HaltedToday,
		r.VenueRequests, r.BreakerOpen,
	)
	return r
}

// Gatherer returns the underlying registry for the /metrics handler
func (r *Registry) Gatherer() *prometheus.Registry { return r.reg }

// ObserveDecision counts a decision and, when the symbol was skipped, its
// reject reason
func (r *Registry) ObserveDecision(action, reason string) {
	r.Decisions.WithLabelValues(action).Inc()
	if reason != "" {
		r.Rejects.WithLabelValues(reason).Inc()
	}
}

// boolGauge sets a gauge to 1 or 0
func boolGauge(g prometheus.Gauge, on bool) {
	if on {
		g.Set(1)
		return
	}
	g.Set(0)
}

// SetRiskOn records the risk-on window state
func (r *Registry) SetRiskOn(on bool) { boolGauge(r.RiskOnActive, on) }

// SetHalted records the daily loss-limit halt state
func (r *Registry) SetHalted(on bool) { boolGauge(r.HaltedToday, on) }
