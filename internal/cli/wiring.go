// Package cli implements the newsletter command line.
//
// This file builds the runtime dependencies shared by serve and worker from
// the loaded configuration:
//
//   - openDB: connection, pool size and optional query tracing
//   - newSender: the email backend (http or log)
//   - newPublisher: the issue publisher in queued or direct mode
//   - workerConfig/runWorkers: delivery worker tuning and the worker pool
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter/internal/config"
	"github.com/tbourn/go-newsletter/internal/delivery"
	"github.com/tbourn/go-newsletter/internal/domain"
	"github.com/tbourn/go-newsletter/internal/email"
	"github.com/tbourn/go-newsletter/internal/repo"
	"github.com/tbourn/go-newsletter/internal/services"
)

// openDB connects to the configured database and, when tracing is on,
// instruments it.
func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
	}
	if err := repo.SetPoolSize(db, cfg.Database.MaxOpenConns); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("size connection pool: %w", err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			closeDB(db)
			return nil, fmt.Errorf("enable db tracing: %w", err)
		}
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Warn().Err(err).Msg("close database")
		}
	}
}

// newSender builds the configured email backend.
func newSender(cfg config.EmailConfig) (email.Sender, error) {
	switch cfg.Backend {
	case "http":
		from, err := domain.ParseSubscriberEmail(cfg.Sender)
		if err != nil {
			return nil, fmt.Errorf("EMAIL_SENDER: %w", err)
		}
		return email.NewClient(cfg.BaseURL, from, cfg.AuthToken, cfg.Timeout), nil
	case "log", "":
		return email.LogSender{}, nil
	default:
		return nil, fmt.Errorf("unknown email backend %q", cfg.Backend)
	}
}

// newPublisher wires the publisher for the configured mode.
func newPublisher(db *gorm.DB, cfg config.Config, queue services.Enqueuer, sender email.Sender) (*services.IssuePublisher, error) {
	mode, err := services.ParsePublishMode(cfg.Publish.Mode)
	if err != nil {
		return nil, err
	}
	return &services.IssuePublisher{
		DB:   db,
		Mode: mode,
		Idempotency: &services.IdempotencyStore{
			DB:           db,
			PollInterval: cfg.Publish.PollInterval,
			PollAttempts: uint(max(cfg.Publish.PollAttempts, 1)),
		},
		Queue:  queue,
		Sender: sender,
	}, nil
}

func workerConfig(cfg config.DeliveryConfig) delivery.WorkerConfig {
	return delivery.WorkerConfig{
		IdleBackoff:  cfg.IdleBackoff,
		ErrorBackoff: cfg.ErrorBackoff,
		MaxAttempts:  cfg.MaxAttempts,
		RetryDelay:   delivery.ExponentialDelay(cfg.RetryBase, cfg.RetryMax),
	}
}

// runWorkers runs n delivery workers until ctx is cancelled.
func runWorkers(ctx context.Context, n int, db *gorm.DB, queue *repo.DeliveryQueue, sender email.Sender, cfg config.DeliveryConfig) error {
	log.Info().
		Int("workers", n).
		Int("max_attempts", cfg.MaxAttempts).
		Bool("skip_locked", repo.SupportsSkipLocked(db)).
		Msg("delivery workers starting")
	err := delivery.RunPool(ctx, n, queue, delivery.IssuesFrom(queue), sender, workerConfig(cfg))
	log.Info().Msg("delivery workers stopped")
	return err
}

const shutdownTimeout = 10 * time.Second
