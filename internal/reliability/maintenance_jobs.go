package reliability

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aristath/taxoracle/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// JournalPruner removes journal entries created before a cutoff, sparing the
// keep newest.
type JournalPruner interface {
	Delete(ctx context.Context, before time.Time, keep int) (int64, error)
}

// MaintenanceConfig controls the nightly journal maintenance.
type MaintenanceConfig struct {
	JournalRetentionDays int // 0 keeps every run
	JournalKeepRuns      int
	ArchiveRetentionDays int // 0 keeps every archive
	Timeout              time.Duration
}

// DailyMaintenanceJob checks journal.db, prunes old runs and rotates archives.
type DailyMaintenanceJob struct {
	db      *database.DB
	journal JournalPruner
	archive *RunArchiveService // nil when archiving is disabled
	cfg     MaintenanceConfig
	now     func() time.Time
	log     zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(
	db *database.DB,
	journal JournalPruner,
	archive *RunArchiveService,
	cfg MaintenanceConfig,
	log zerolog.Logger,
) *DailyMaintenanceJob {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &DailyMaintenanceJob{
		db:      db,
		journal: journal,
		archive: archive,
		cfg:     cfg,
		now:     time.Now,
		log:     log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the daily maintenance job
func (j *DailyMaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.Timeout)
	defer cancel()
	return j.RunContext(ctx)
}

// RunContext executes the maintenance steps under ctx.
func (j *DailyMaintenanceJob) RunContext(ctx context.Context) error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := j.now()

	// Step 1: Integrity check
	if err := j.db.QuickCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("CRITICAL: journal integrity check failed")
		return fmt.Errorf("journal integrity check failed: %w", err)
	}

	// Step 2: Prune old runs
	if j.cfg.JournalRetentionDays > 0 {
		cutoff := j.now().AddDate(0, 0, -j.cfg.JournalRetentionDays)
		removed, err := j.journal.Delete(ctx, cutoff, j.cfg.JournalKeepRuns)
		if err != nil {
			return fmt.Errorf("failed to prune journal: %w", err)
		}
		j.log.Debug().Int64("removed", removed).Msg("Journal pruned")
	}

	// Step 3: WAL checkpoint (not critical)
	if _, err := j.db.Conn().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	// Step 4: Check disk space
	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	// Step 5: Rotate archives
	if j.archive != nil {
		if _, err := j.archive.RotateOldArchives(ctx, j.cfg.ArchiveRetentionDays); err != nil {
			j.log.Error().Err(err).Msg("Archive rotation failed")
		}
	}

	j.log.Info().
		Dur("duration", j.now().Sub(startTime)).
		Msg("Daily maintenance completed")
	return nil
}

// checkDiskSpace verifies sufficient disk space is available
func (j *DailyMaintenanceJob) checkDiskSpace() error {
	path := j.db.Path()
	usage, err := disk.Usage(filepath.Dir(path))
	if err != nil {
		j.log.Warn().Err(err).Str("path", path).Msg("Disk usage unavailable")
		return nil
	}

	availableGB := float64(usage.Free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	// CRITICAL: Less than 500MB
	if availableGB < 0.5 {
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space for the run journal")
		return fmt.Errorf("only %.2f GB free", availableGB)
	}

	if availableGB < 5.0 {
		j.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Disk space running low")
	}
	return nil
}
