package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/memoir/internal/config"
	"github.com/roach88/memoir/internal/engine"
	"github.com/roach88/memoir/internal/swarm"
)

// WorkerFunctions is the function registry swarm workers execute from.
// A binary embedding this CLI registers its functions here before
// calling Execute; requests referencing unregistered functions are left
// in the pool for other workers.
var WorkerFunctions = engine.NewFnRegistry(nil)

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	Config string
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run swarm workers against the configured store",
		Long: `Run a pool of swarm workers over the configured store.

Each worker opens its own portal, claims pending execution requests at
random, and executes them with the functions registered in this binary.
The pool size comes from the config; without an explicit worker count it
is derived from the host's spare capacity.

Example:
  memoir worker --config ./memoir.yaml
  memoir worker --config ./memoir.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runWorkers(opts *WorkerOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	log, closeLog, err := newLogger(cfg.Log, opts.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer func() {
		if closeErr := closeLog(); closeErr != nil {
			slog.Error("error closing log file", "error", closeErr)
		}
	}()
	slog.SetDefault(log)

	e := engine.New(WorkerFunctions, log)
	pool, err := swarm.NewPool(e, swarm.Config{
		StorePath: cfg.StorePath,
		Exact:     cfg.Swarm.Workers,
		Max:       cfg.Swarm.MaxWorkers,
		Min:       cfg.Swarm.MinWorkers,
		IdleDelay: cfg.Swarm.IdleDelay(),
	}, nil, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to plan worker pool", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	pool.Start(ctx)
	<-ctx.Done()
	pool.Stop()
	return nil
}
