// Package cli implements the newsletter command line.
//
// This file implements the worker command, which drains the delivery queue
// without serving HTTP.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-newsletter/internal/config"
	"github.com/tbourn/go-newsletter/internal/observability"
	"github.com/tbourn/go-newsletter/internal/repo"
)

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	Workers int
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run delivery workers only",
		Long: `Drain the delivery queue: claim one task at a time, send the email and
retire or reschedule the task. Any number of worker processes may run
against the same database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workers := opts.Config.Delivery.Workers
			if cmd.Flags().Changed("workers") {
				workers = opts.Workers
			}
			workers = max(workers, 1)
			if err := config.CheckWorkerPool(workers, opts.Config.Database.MaxOpenConns); err != nil {
				return err
			}
			return runWorkerProcess(cmd.Context(), opts.RootOptions, workers)
		},
	}

	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "number of workers (default WORKER_COUNT)")
	return cmd
}

func runWorkerProcess(parent context.Context, opts *RootOptions, workers int) error {
	cfg := opts.Config
	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, opts.Version, "worker")
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing)

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	sender, err := newSender(cfg.Email)
	if err != nil {
		return err
	}
	return runWorkers(ctx, workers, db, repo.NewDeliveryQueue(db, cfg.Delivery.LeaseTTL), sender, cfg.Delivery)
}
