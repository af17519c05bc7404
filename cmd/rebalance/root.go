package main

import (
	"io"
	"time"

	"github.com/aristath/taxoracle/internal/config"
	"github.com/aristath/taxoracle/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel string
	stdout   io.Writer
	stderr   io.Writer
}

// logger writes to stderr so stdout carries only the output bundle.
func (o *rootOptions) logger() zerolog.Logger {
	return logger.New(logger.Config{
		Level:  o.logLevel,
		Pretty: true,
		Output: o.stderr,
	})
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:           "rebalance",
		Short:         "Tax-aware portfolio rebalancing",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newSolveCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	return cmd
}

// solverDefaults reads the solver section of the service configuration.
// Environment problems unrelated to solving fall back to built-in defaults.
func solverDefaults() config.SolverConfig {
	cfg, err := config.Load()
	if err != nil {
		return config.SolverConfig{TimeLimit: 30 * time.Second, NodeLimit: 5000, UseMIP: true}
	}
	return cfg.Solver
}
