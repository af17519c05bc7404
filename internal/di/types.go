package di

import (
	"github.com/aristath/taxoracle/internal/database"
	"github.com/aristath/taxoracle/internal/modules/optimization"
	"github.com/aristath/taxoracle/internal/modules/rebalancing"
	"github.com/aristath/taxoracle/internal/modules/runs"
	"github.com/aristath/taxoracle/internal/reliability"
)

// Container holds every long-lived dependency of the server.
type Container struct {
	// Databases
	JournalDB *database.DB

	// Repositories
	RunRepo *runs.RunRepository

	// Services
	Solver             *optimization.StrategySolver
	RebalancingService *rebalancing.Service
	ArchiveService     *reliability.RunArchiveService // nil when archiving is disabled

	// Jobs
	Scheduler      *reliability.Scheduler
	MaintenanceJob *reliability.DailyMaintenanceJob
}

// Close releases the container's resources.
func (c *Container) Close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.JournalDB != nil {
		return c.JournalDB.Close()
	}
	return nil
}
