// Package rebalancing runs the per-strategy optimizer over a whole input
// bundle, keeps wash-sale protection consistent across strategies that share
// an account, and nets the resulting trades.
package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/optimization"
	"github.com/aristath/taxoracle/internal/modules/washsale"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidInput is returned for bundles that cannot be run at all.
var ErrInvalidInput = errors.New("invalid input")

// Oracle computes optimal trades for every strategy of one input bundle.
type Oracle struct {
	input   domain.Input
	solver  *optimization.StrategySolver
	workers int
	log     zerolog.Logger
}

// NewOracle creates an oracle for input. workers caps concurrent strategy
// solves; zero or less uses one worker per CPU.
func NewOracle(input domain.Input, solver *optimization.StrategySolver, workers int, log zerolog.Logger) *Oracle {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Oracle{
		input:   input,
		solver:  solver,
		workers: workers,
		log:     log.With().Str("service", "oracle").Logger(),
	}
}

// ComputeOptimalTradesForAllStrategies solves every strategy with the settings
// registered under its label. A strategy without settings, or whose solve
// fails, is reported on its own result; the other strategies still run.
func (o *Oracle) ComputeOptimalTradesForAllStrategies(ctx context.Context, settings map[string]domain.Settings) (domain.Output, error) {
	if err := o.validate(); err != nil {
		return domain.Output{}, err
	}

	runID := uuid.New().String()
	log := o.log.With().Str("run_id", runID).Logger()
	log.Info().
		Int("strategies", len(o.input.Strategies)).
		Time("current_date", o.input.CurrentDate).
		Msg("Starting rebalance run")

	base := washsale.NewBook(o.input.WashSale, o.input.CurrentDate)
	base.AddClosedLots(o.input.RecentlyClosedLots)

	n := len(o.input.Strategies)
	protected := make([]map[string]domain.WashSaleRecord, n)
	for i := range protected {
		protected[i] = make(map[string]domain.WashSaleRecord)
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	results := make([]domain.StrategyResult, n)
	if err := o.solveBatch(ctx, all, settings, base, protected, results); err != nil {
		return domain.Output{}, err
	}

	// Losses realized by one strategy block repurchases in the others. Each
	// round only adds protection, so the loop ends once nothing new appears.
	for round := 1; ; round++ {
		pending := o.crossStrategyConflicts(settings, results, protected)
		if len(pending) == 0 {
			break
		}
		if round > n {
			log.Warn().Int("strategies", len(pending)).Msg("Cross-strategy wash-sale conflicts remain after final round")
			for _, i := range pending {
				results[i].Warnings = append(results[i].Warnings,
					"buys may conflict with losses realized by another strategy in this run")
			}
			break
		}
		log.Debug().Int("round", round).Ints("strategies", pending).Msg("Re-solving for cross-strategy wash sales")
		if err := o.solveBatch(ctx, pending, settings, base, protected, results); err != nil {
			return domain.Output{}, err
		}
	}

	out := domain.Output{
		RunID:        runID,
		Results:      results,
		NettedTrades: NetTrades(results),
	}

	log.Info().
		Int("netted_trades", len(out.NettedTrades)).
		Msg("Rebalance run complete")

	return out, nil
}

func (o *Oracle) validate() error {
	if o.input.CurrentDate.IsZero() {
		return fmt.Errorf("%w: current_date is required", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(o.input.Strategies))
	for _, s := range o.input.Strategies {
		if s.Label == "" {
			continue
		}
		if seen[s.Label] {
			return fmt.Errorf("%w: duplicate strategy label %q", ErrInvalidInput, s.Label)
		}
		seen[s.Label] = true
	}
	return nil
}

// solveBatch solves the strategies at indices concurrently, writing each
// result into its slot. Only cancellation of ctx aborts the batch.
func (o *Oracle) solveBatch(
	ctx context.Context,
	indices []int,
	settings map[string]domain.Settings,
	base *washsale.Book,
	protected []map[string]domain.WashSaleRecord,
	results []domain.StrategyResult,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for _, i := range indices {
		strategy := o.input.Strategies[i]
		if strategy.Label == "" {
			results[i] = unlabeled(strategy)
			o.log.Error().Int("index", i).Msg("Strategy has no label")
			continue
		}
		s, ok := settings[strategy.Label]
		if !ok {
			results[i] = missingSettings(strategy)
			o.log.Error().Str("strategy", strategy.Label).Msg("No settings for strategy")
			continue
		}

		book := base.Clone()
		for _, rec := range protected[i] {
			book.Add(rec)
		}
		env := optimization.Environment{
			AsOf:         o.input.CurrentDate,
			TaxRates:     o.input.TaxRates,
			Restrictions: o.input.Restrictions,
			WashSales:    book,
		}

		i := i
		g.Go(func() error {
			results[i] = o.solver.Solve(gctx, strategy, s, env)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// crossStrategyConflicts finds strategies that buy a security another
// strategy sold at a loss in this run, registers the new protection and
// returns the strategies to re-solve.
func (o *Oracle) crossStrategyConflicts(
	settings map[string]domain.Settings,
	results []domain.StrategyResult,
	protected []map[string]domain.WashSaleRecord,
) []int {
	var pending []int
	for i, strategy := range o.input.Strategies {
		s, ok := settings[strategy.Label]
		if !ok || !s.EnforceWashSalePrevention || results[i].Status != domain.StatusOptimal {
			continue
		}

		buys := make(map[string]bool)
		for _, t := range results[i].Trades {
			if t.Side == domain.TradeBuy {
				buys[t.SecurityID] = true
			}
		}
		if len(buys) == 0 {
			continue
		}

		added := false
		// j == i is included: a strategy's own loss sales protect its
		// wash-identical alternates too.
		for j := range results {
			if results[j].Status != domain.StatusOptimal {
				continue
			}
			for _, rec := range results[j].WashSaleRecords {
				if _, known := protected[i][rec.SecurityID]; known {
					continue
				}
				single := washsale.NewBook(o.input.WashSale, o.input.CurrentDate)
				single.Add(rec)
				for sid := range single.BlockedBuys(strategy.Targets) {
					if buys[sid] {
						protected[i][rec.SecurityID] = rec
						added = true
						break
					}
				}
			}
		}
		if added {
			pending = append(pending, i)
		}
	}
	return pending
}

func missingSettings(strategy domain.Strategy) domain.StrategyResult {
	return domain.StrategyResult{
		Label:      strategy.Label,
		Status:     domain.StatusNotSolved,
		CashBefore: strategy.Cash,
		CashAfter:  strategy.Cash,
		Error:      fmt.Errorf("strategy %q: %w", strategy.Label, domain.ErrMissingSettings).Error(),
	}
}

func unlabeled(strategy domain.Strategy) domain.StrategyResult {
	return domain.StrategyResult{
		Status:     domain.StatusNotSolved,
		CashBefore: strategy.Cash,
		CashAfter:  strategy.Cash,
		Error:      fmt.Errorf("%w: strategy label is required", ErrInvalidInput).Error(),
	}
}
