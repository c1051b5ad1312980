// Package di wires the application: databases, persistence, venue
// adapters, the engine, the status server and the background scheduler.
package di

import (
	"github.com/quartzline/rudder/internal/analytics"
	"github.com/quartzline/rudder/internal/database"
	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/engine"
	"github.com/quartzline/rudder/internal/metrics"
	"github.com/quartzline/rudder/internal/portfolio"
	"github.com/quartzline/rudder/internal/reliability"
	"github.com/quartzline/rudder/internal/scheduler"
	"github.com/quartzline/rudder/internal/server"
	"github.com/quartzline/rudder/internal/store"
	"github.com/quartzline/rudder/internal/venue"
)

// Container holds every wired component. Fields are populated by Wire in
// dependency order.
type Container struct {
	StateDB     *database.DB
	AnalyticsDB *database.DB

	Store   *store.SQLStore
	Ledger  *analytics.Service
	Metrics *metrics.Registry

	Data      domain.DataEngine
	Connector domain.Connector
	Stream    *venue.Stream // nil unless a websocket URL is configured

	Portfolio *portfolio.Portfolio
	Engine    *engine.Engine
	Server    *server.Server
	Scheduler *scheduler.Scheduler

	Backup *reliability.BackupService // nil unless backups are enabled
}

// Close releases held resources in reverse dependency order. Safe to call
// on a partially wired container.
func (c *Container) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Ledger != nil {
		_ = c.Ledger.Close()
	}
	if c.AnalyticsDB != nil {
		_ = c.AnalyticsDB.Close()
	}
	if c.StateDB != nil {
		_ = c.StateDB.Close()
	}
}
