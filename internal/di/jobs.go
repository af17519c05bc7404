package di

import (
	"fmt"

	"github.com/aristath/taxoracle/internal/config"
	"github.com/aristath/taxoracle/internal/reliability"
	"github.com/rs/zerolog"
)

// RegisterJobs schedules journal maintenance. An empty schedule disables it.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.MaintenanceJob = reliability.NewDailyMaintenanceJob(
		container.JournalDB,
		container.RunRepo,
		container.ArchiveService,
		reliability.MaintenanceConfig{
			JournalRetentionDays: cfg.JournalRetentionDays,
			JournalKeepRuns:      cfg.JournalKeepRuns,
			ArchiveRetentionDays: cfg.Archive.RetentionDays,
		},
		log,
	)

	if cfg.MaintenanceSchedule == "" {
		log.Info().Msg("Journal maintenance disabled")
		return nil
	}
	if err := reliability.ValidateSchedule(cfg.MaintenanceSchedule); err != nil {
		return fmt.Errorf("invalid MAINTENANCE_SCHEDULE %q: %w", cfg.MaintenanceSchedule, err)
	}

	container.Scheduler = reliability.NewScheduler(log)
	if err := container.Scheduler.AddJob(cfg.MaintenanceSchedule, container.MaintenanceJob); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}
	return nil
}
