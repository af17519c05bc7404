// Package runs keeps the journal of Oracle runs in journal.db.
// Each run stores its request and output bundles msgpack-encoded so it can be
// replayed or inspected later.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taxoracle/internal/database"
	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/bundle"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no run has the requested id.
var ErrNotFound = errors.New("run not found")

// ErrDuplicate is returned when a run id is already journaled.
var ErrDuplicate = errors.New("run already journaled")

// Run is one journal entry.
type Run struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	AsOfDate     time.Time       `json:"as_of_date"`
	Strategies   int             `json:"strategies"`
	Optimal      int             `json:"optimal"`
	NettedTrades int             `json:"netted_trades"`
	Duration     time.Duration   `json:"duration_ns"`
	Request      *bundle.Request `json:"request,omitempty"`
	Output       *domain.Output  `json:"output,omitempty"`
}

// NewRun summarizes a completed run for the journal.
func NewRun(req bundle.Request, out domain.Output, duration time.Duration) Run {
	optimal := 0
	for _, r := range out.Results {
		if r.Status == domain.StatusOptimal {
			optimal++
		}
	}
	return Run{
		ID:           out.RunID,
		CreatedAt:    time.Now().UTC(),
		AsOfDate:     req.Input.CurrentDate,
		Strategies:   len(out.Results),
		Optimal:      optimal,
		NettedTrades: len(out.NettedTrades),
		Duration:     duration,
		Request:      &req,
		Output:       &out,
	}
}

// RunRepository handles run journal database operations.
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// runColumns is the summary column list; bundles are only read by Get.
const runColumns = `id, created_at, as_of_date, strategies, optimal, netted_trades, duration_ms`

// NewRunRepository creates a new run repository
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// Save stores run with its bundles. Saving an id twice is an error.
func (r *RunRepository) Save(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.Request == nil || run.Output == nil {
		return fmt.Errorf("run %s: request and output are required", run.ID)
	}

	request, err := bundle.Marshal(bundle.FormatMsgpack, run.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	output, err := bundle.Marshal(bundle.FormatMsgpack, run.Output)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE id = ?", run.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check run: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicate, run.ID)
		}

		query := `
			INSERT INTO runs
			(id, created_at, as_of_date, strategies, optimal, netted_trades, duration_ms, request, output)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			run.ID,
			run.CreatedAt.Unix(),
			run.AsOfDate.UTC().Format(time.DateOnly),
			run.Strategies,
			run.Optimal,
			run.NettedTrades,
			run.Duration.Milliseconds(),
			request,
			output,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	r.log.Info().
		Str("run_id", run.ID).
		Int("strategies", run.Strategies).
		Int("netted_trades", run.NettedTrades).
		Msg("Run journaled")

	return nil
}

// List returns the most recent runs first, without their bundles.
func (r *RunRepository) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + runColumns + " FROM runs ORDER BY created_at DESC, id LIMIT ?"

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run       Run
			createdAt int64
			asOf      string
			duration  int64
		)
		if err := rows.Scan(&run.ID, &createdAt, &asOf, &run.Strategies, &run.Optimal, &run.NettedTrades, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := fillTimes(&run, createdAt, asOf, duration); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Get returns a run with its decoded bundles.
func (r *RunRepository) Get(ctx context.Context, id string) (*Run, error) {
	query := "SELECT " + runColumns + ", request, output FROM runs WHERE id = ?"

	var (
		run       Run
		createdAt int64
		asOf      string
		duration  int64
		request   []byte
		output    []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &createdAt, &asOf, &run.Strategies, &run.Optimal, &run.NettedTrades, &duration,
		&request, &output,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if err := fillTimes(&run, createdAt, asOf, duration); err != nil {
		return nil, err
	}

	run.Request = &bundle.Request{}
	if err := bundle.Unmarshal(bundle.FormatMsgpack, request, run.Request); err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	run.Output = &domain.Output{}
	if err := bundle.Unmarshal(bundle.FormatMsgpack, output, run.Output); err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return &run, nil
}

// Delete removes runs created before cutoff and returns how many were removed.
// At least keep of the newest runs survive regardless of age.
func (r *RunRepository) Delete(ctx context.Context, before time.Time, keep int) (int64, error) {
	var n int64
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var cutoff int64 = before.Unix()
		if keep > 0 {
			var oldestKept sql.NullInt64
			err := tx.QueryRowContext(ctx,
				"SELECT MIN(created_at) FROM (SELECT created_at FROM runs ORDER BY created_at DESC LIMIT ?)", keep,
			).Scan(&oldestKept)
			if err != nil {
				return fmt.Errorf("failed to find retained runs: %w", err)
			}
			if oldestKept.Valid && oldestKept.Int64 < cutoff {
				cutoff = oldestKept.Int64
			}
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE created_at < ?", cutoff)
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	if n > 0 {
		r.log.Info().Int64("removed", n).Time("before", before).Int("keep", keep).Msg("Pruned run journal")
	}
	return n, nil
}

func fillTimes(run *Run, createdAt int64, asOf string, durationMs int64) error {
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	run.Duration = time.Duration(durationMs) * time.Millisecond
	date, err := time.Parse(time.DateOnly, asOf)
	if err != nil {
		return fmt.Errorf("run %s: invalid as_of_date %q: %w", run.ID, asOf, err)
	}
	run.AsOfDate = date
	return nil
}
