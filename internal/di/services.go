package di

import (
	"context"
	"fmt"

	"github.com/aristath/taxoracle/internal/config"
	"github.com/aristath/taxoracle/internal/modules/optimization"
	"github.com/aristath/taxoracle/internal/modules/optimization/mip"
	"github.com/aristath/taxoracle/internal/modules/rebalancing"
	"github.com/aristath/taxoracle/internal/modules/runs"
	"github.com/aristath/taxoracle/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates repositories and services on top of the databases.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.RunRepo = runs.NewRunRepository(container.JournalDB.Conn(), log)

	backend := mip.NewSolver(cfg.Solver.MIPOptions(), log)
	container.Solver = optimization.NewStrategySolver(backend, cfg.Solver.UseMIP, log)

	var archiver rebalancing.RunArchiver
	if cfg.Archive.Enabled {
		client, err := reliability.NewS3Client(ctx, cfg.Archive, log)
		if err != nil {
			return fmt.Errorf("failed to create archive client: %w", err)
		}
		container.ArchiveService = reliability.NewRunArchiveService(client, cfg.Archive.Prefix, log)
		archiver = container.ArchiveService
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Run archiving enabled")
	}

	container.RebalancingService = rebalancing.NewService(
		container.Solver,
		cfg.Solver.MaxParallel,
		container.RunRepo,
		archiver,
		log,
	)
	return nil
}
