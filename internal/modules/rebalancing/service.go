package rebalancing

import (
	"context"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/bundle"
	"github.com/aristath/taxoracle/internal/modules/optimization"
	"github.com/aristath/taxoracle/internal/modules/runs"
	"github.com/rs/zerolog"
)

// RunJournal records completed runs.
type RunJournal interface {
	Save(ctx context.Context, run runs.Run) error
}

// RunArchiver copies completed runs to long-term storage.
type RunArchiver interface {
	ArchiveRun(ctx context.Context, run runs.Run) error
}

// Service runs request bundles through the Oracle and records the outcome.
type Service struct {
	solver   *optimization.StrategySolver
	workers  int
	journal  RunJournal  // optional
	archiver RunArchiver // optional
	log      zerolog.Logger
}

// NewService creates a new rebalancing service. journal and archiver may be nil.
func NewService(solver *optimization.StrategySolver, workers int, journal RunJournal, archiver RunArchiver, log zerolog.Logger) *Service {
	return &Service{
		solver:   solver,
		workers:  workers,
		journal:  journal,
		archiver: archiver,
		log:      log.With().Str("service", "rebalancing").Logger(),
	}
}

// Run solves every strategy of req. Journal and archive failures are logged
// and never fail a run that produced an output.
func (s *Service) Run(ctx context.Context, req bundle.Request) (domain.Output, error) {
	start := time.Now()
	oracle := NewOracle(req.Input, s.solver, s.workers, s.log)
	out, err := oracle.ComputeOptimalTradesForAllStrategies(ctx, req.Settings)
	if err != nil {
		return domain.Output{}, err
	}

	run := runs.NewRun(req, out, time.Since(start))
	if s.journal != nil {
		if err := s.journal.Save(ctx, run); err != nil {
			s.log.Error().Err(err).Str("run_id", out.RunID).Msg("Failed to journal run")
		}
	}
	if s.archiver != nil {
		if err := s.archiver.ArchiveRun(ctx, run); err != nil {
			s.log.Error().Err(err).Str("run_id", out.RunID).Msg("Failed to archive run")
		}
	}
	return out, nil
}
