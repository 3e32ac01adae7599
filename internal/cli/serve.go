// Package cli implements the newsletter command line.
//
// This file implements the serve command: it runs the HTTP API and, unless
// --workers 0 is given, a pool of delivery workers in the same process.
// Both stop on SIGINT/SIGTERM; in-flight HTTP requests get shutdownTimeout
// to finish and workers stop between tasks.
package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-newsletter/internal/config"
	httpapi "github.com/tbourn/go-newsletter/internal/http"
	"github.com/tbourn/go-newsletter/internal/observability"
	"github.com/tbourn/go-newsletter/internal/repo"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Workers int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with embedded delivery workers",
		Long: `Migrate the schema, start the HTTP API and run delivery workers in the
same process. SIGINT or SIGTERM drains in-flight requests and stops the
workers between tasks.

Example:
  newsletter serve
  newsletter serve --workers 0   # API only, run "newsletter worker" elsewhere`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workers := opts.Config.Delivery.Workers
			if cmd.Flags().Changed("workers") {
				workers = opts.Workers
			}
			if err := config.CheckWorkerPool(workers, opts.Config.Database.MaxOpenConns); err != nil {
				return err
			}
			return runServe(cmd.Context(), opts.RootOptions, workers)
		},
	}

	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "delivery workers to run in-process (default WORKER_COUNT)")
	return cmd
}

func runServe(parent context.Context, opts *RootOptions, workers int) error {
	cfg := opts.Config
	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, opts.Version, "serve")
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing)

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	sender, err := newSender(cfg.Email)
	if err != nil {
		return err
	}
	queue := repo.NewDeliveryQueue(db, cfg.Delivery.LeaseTTL)
	pub, err := newPublisher(db, cfg, queue, sender)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, pub, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("publish_mode", cfg.Publish.Mode).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("http server shutting down")
		return srv.Shutdown(sctx)
	})
	if workers > 0 {
		g.Go(func() error {
			return runWorkers(gctx, workers, db, queue, sender, cfg.Delivery)
		})
	}
	return g.Wait()
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func flushTracing(shutdown observability.Shutdown) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("flush traces")
	}
}
