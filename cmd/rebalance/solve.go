package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/bundle"
	"github.com/aristath/taxoracle/internal/modules/optimization"
	"github.com/aristath/taxoracle/internal/modules/optimization/mip"
	"github.com/aristath/taxoracle/internal/modules/rebalancing"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type solveOptions struct {
	input    string
	output   string
	format   string
	strategy string
	lots     string
	targets  string
	prices   string
	lp       bool
	timeout  time.Duration
	nodes    int
	workers  int
}

func newSolveCmd(root *rootOptions) *cobra.Command {
	opts := &solveOptions{}
	defaults := solverDefaults()

	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve every strategy of a bundle and print the output bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runSolve(ctx, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "request bundle (.json or .msgpack)")
	f.StringVarP(&opts.output, "output", "o", "", "write the output bundle to a file instead of stdout")
	f.StringVar(&opts.format, "format", "", "output format: json or msgpack (default from --output extension)")
	f.StringVar(&opts.strategy, "strategy", "", "strategy the CSV flags apply to (optional for single-strategy bundles)")
	f.StringVar(&opts.lots, "lots", "", "CSV of tax lots replacing the strategy's lots")
	f.StringVar(&opts.targets, "targets", "", "CSV of targets replacing the strategy's targets")
	f.StringVar(&opts.prices, "prices", "", "CSV of prices replacing the strategy's prices")
	f.BoolVar(&opts.lp, "lp", !defaults.UseMIP, "solve the LP relaxation instead of the MIP")
	f.DurationVar(&opts.timeout, "time-limit", defaults.TimeLimit, "time limit per strategy")
	f.IntVar(&opts.nodes, "node-limit", defaults.NodeLimit, "branch-and-bound node limit per strategy")
	f.IntVar(&opts.workers, "workers", defaults.MaxParallel, "strategies solved concurrently (0 = one per CPU)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runSolve(ctx context.Context, root *rootOptions, opts *solveOptions) error {
	log := root.logger()

	req, err := loadRequest(opts.input, opts.strategy, opts.lots, opts.targets, opts.prices)
	if err != nil {
		return err
	}

	mipOpts := mip.DefaultOptions()
	mipOpts.TimeLimit = opts.timeout
	mipOpts.NodeLimit = opts.nodes
	solver := optimization.NewStrategySolver(mip.NewSolver(mipOpts, log), !opts.lp, log)

	out, err := rebalancing.NewService(solver, opts.workers, nil, nil, log).Run(ctx, req)
	if err != nil {
		return err
	}
	logSummary(log, out)

	format := bundle.FormatFromPath(opts.output)
	if opts.format != "" {
		format = bundle.Format(opts.format)
		if format != bundle.FormatJSON && format != bundle.FormatMsgpack {
			return fmt.Errorf("unknown format %q", opts.format)
		}
	}

	if opts.output == "" {
		return bundle.Encode(root.stdout, format, out)
	}
	f, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := bundle.Encode(f, format, out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func logSummary(log zerolog.Logger, out domain.Output) {
	for _, r := range out.Results {
		event := log.Info()
		if r.Status != domain.StatusOptimal {
			event = log.Warn().Str("error", r.Error)
		}
		event.
			Str("strategy", r.Label).
			Str("status", string(r.Status)).
			Int("trades", len(r.Trades)).
			Float64("tax_cost", r.Summary.TaxCost).
			Msg("Strategy solved")
	}
}

// loadRequest reads the bundle and applies any CSV overrides to one strategy.
func loadRequest(input, label, lots, targets, prices string) (bundle.Request, error) {
	req, err := bundle.ReadRequestFile(input)
	if err != nil {
		return bundle.Request{}, err
	}
	if lots == "" && targets == "" && prices == "" {
		return req, nil
	}

	strategy, err := req.Strategy(label)
	if err != nil {
		return bundle.Request{}, err
	}
	if lots != "" {
		if strategy.TaxLots, err = readCSV(lots, bundle.ReadLots); err != nil {
			return bundle.Request{}, err
		}
	}
	if targets != "" {
		if strategy.Targets, err = readCSV(targets, bundle.ReadTargets); err != nil {
			return bundle.Request{}, err
		}
	}
	if prices != "" {
		if strategy.Prices, err = readCSV(prices, bundle.ReadPrices); err != nil {
			return bundle.Request{}, err
		}
	}
	return req, nil
}

func readCSV[T any](path string, parse func(r io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}
