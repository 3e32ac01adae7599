// Package delivery drains the issue delivery queue.
//
// A Worker repeatedly claims one task, validates the stored address, loads the
// issue, sends the email and then retires or reschedules the task. Workers
// share nothing but the database; any number of them can run side by side,
// in one process (RunPool) or many.
//
// Per-iteration state machine:
//
//	claim ── none ──────────────────────────────▶ Empty (sleep IdleBackoff)
//	  │
//	  ├─ invalid stored address ─ retire ───────▶ SkippedInvalidAddress
//	  ├─ send ok ──────────────── retire ───────▶ Delivered
//	  ├─ send failed, attempts left ─ reschedule ▶ RetryScheduled
//	  └─ send failed, no attempts left ─ retire ─▶ Dropped
//
// Any other error releases the claim and the loop sleeps ErrorBackoff.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-newsletter/internal/domain"
	"github.com/tbourn/go-newsletter/internal/email"
	"github.com/tbourn/go-newsletter/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Outcome is the result of one worker iteration.
type Outcome int

const (
	outcomeNone Outcome = iota
	OutcomeEmpty
	OutcomeDelivered
	OutcomeSkippedInvalidAddress
	OutcomeRetryScheduled
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeSkippedInvalidAddress:
		return "skipped_invalid_address"
	case OutcomeRetryScheduled:
		return "retry_scheduled"
	case OutcomeDropped:
		return "dropped"
	default:
		return "none"
	}
}

// Defaults for WorkerConfig.
const (
	DefaultIdleBackoff  = 10 * time.Second
	DefaultErrorBackoff = time.Second
	DefaultMaxAttempts  = 5
	DefaultRetryBase    = 30 * time.Second
	DefaultRetryMax     = time.Hour
)

// Queue is the subset of repo.DeliveryQueue the worker needs.
type Queue interface {
	ClaimOne(ctx context.Context) (*repo.ClaimedTask, error)
	Retire(ctx context.Context, t *repo.ClaimedTask) error
	Reschedule(ctx context.Context, t *repo.ClaimedTask, next time.Time, lastErr string) error
	Release(ctx context.Context, t *repo.ClaimedTask) error
}

// IssueLookup loads the content of the issue a claimed task belongs to.
type IssueLookup func(ctx context.Context, t *repo.ClaimedTask) (*domain.Issue, error)

// IssuesFrom looks issues up through q, reusing the claim's connection.
func IssuesFrom(q *repo.DeliveryQueue) IssueLookup {
	return q.LoadIssue
}

// WorkerConfig tunes the worker loop. Zero fields take the defaults above.
type WorkerConfig struct {
	IdleBackoff  time.Duration // sleep after finding the queue empty
	ErrorBackoff time.Duration // sleep after an unexpected error

	// MaxAttempts is the number of send attempts per task. 1 drops a task
	// after its first transport failure.
	MaxAttempts int
	RetryDelay  DelayFunc

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// DefaultWorkerConfig returns the production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{}.withDefaults()
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = DefaultIdleBackoff
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay == nil {
		c.RetryDelay = ExponentialDelay(DefaultRetryBase, DefaultRetryMax)
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Worker delivers queued tasks one at a time.
type Worker struct {
	Queue  Queue
	Issues IssueLookup
	Sender email.Sender
	Config WorkerConfig
	Log    zerolog.Logger
}

// NewWorker returns a worker with cfg's zero fields defaulted.
func NewWorker(q Queue, issues IssueLookup, sender email.Sender, cfg WorkerConfig) *Worker {
	return &Worker{
		Queue:  q,
		Issues: issues,
		Sender: sender,
		Config: cfg.withDefaults(),
		Log:    log.With().Str("component", "delivery_worker").Logger(),
	}
}

// Run drives the worker until ctx is cancelled.
func Run(ctx context.Context, q Queue, issues IssueLookup, sender email.Sender, cfg WorkerConfig) error {
	return NewWorker(q, issues, sender, cfg).Run(ctx)
}

// RunPool runs n workers concurrently until ctx is cancelled.
func RunPool(ctx context.Context, n int, q Queue, issues IssueLookup, sender email.Sender, cfg WorkerConfig) error {
	if n <= 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		w := NewWorker(q, issues, sender, cfg)
		w.Log = w.Log.With().Int("worker", i).Logger()
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// Run loops over TryExecute. It returns nil once ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.Log.Info().Msg("delivery worker started")
	defer w.Log.Info().Msg("delivery worker stopped")

	for ctx.Err() == nil {
		outcome, err := w.TryExecute(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			w.Log.Error().Err(err).Msg("delivery iteration failed")
			if w.Config.Sleep(ctx, w.Config.ErrorBackoff) != nil {
				return nil
			}
		case outcome == OutcomeEmpty:
			if w.Config.Sleep(ctx, w.Config.IdleBackoff) != nil {
				return nil
			}
		}
	}
	return nil
}

// TryExecute performs one iteration: claim, send, retire or reschedule.
func (w *Worker) TryExecute(ctx context.Context) (Outcome, error) {
	if w.Config.Sleep == nil {
		w.Config = w.Config.withDefaults()
	}

	tr := otel.Tracer("delivery/Worker")
	ctx, span := tr.Start(ctx, "TryExecute")
	defer span.End()

	task, err := w.Queue.ClaimOne(ctx)
	if err != nil {
		return outcomeNone, fmt.Errorf("claim delivery task: %w", err)
	}
	if task == nil {
		return OutcomeEmpty, nil
	}
	span.SetAttributes(
		attribute.String("issue.id", task.IssueID),
		attribute.Int("delivery.attempt", task.Attempts+1),
	)
	lg := w.Log.With().
		Str("issue_id", task.IssueID).
		Str("subscriber_email", task.SubscriberEmail).
		Int("attempt", task.Attempts+1).
		Logger()

	to, err := domain.ParseSubscriberEmail(task.SubscriberEmail)
	if err != nil {
		lg.Error().Err(err).Msg("skipping a confirmed subscriber: stored contact details are invalid")
		return w.finish(ctx, task, OutcomeSkippedInvalidAddress)
	}

	issue, err := w.Issues(ctx, task)
	if err != nil {
		w.release(ctx, task, lg)
		return outcomeNone, fmt.Errorf("load issue %s: %w", task.IssueID, err)
	}

	start := time.Now()
	sendErr := w.Sender.Send(ctx, to, issue.Title, issue.HTMLContent, issue.TextContent)
	sendDuration.Observe(time.Since(start).Seconds())
	if sendErr == nil {
		lg.Debug().Msg("issue delivered")
		return w.finish(ctx, task, OutcomeDelivered)
	}
	span.RecordError(sendErr)

	if task.Attempts+1 >= w.Config.MaxAttempts {
		lg.Error().Err(sendErr).Msg("failed to deliver issue to a confirmed subscriber, dropping task")
		return w.finish(ctx, task, OutcomeDropped)
	}

	delay := w.Config.RetryDelay(task.Attempts)
	if err := w.Queue.Reschedule(ctx, task, w.Config.Now().Add(delay), sendErr.Error()); err != nil {
		return outcomeNone, fmt.Errorf("reschedule delivery task: %w", err)
	}
	lg.Warn().Err(sendErr).Dur("retry_in", delay).Msg("failed to deliver issue, retry scheduled")
	deliveryOutcomes.WithLabelValues(OutcomeRetryScheduled.String()).Inc()
	return OutcomeRetryScheduled, nil
}

// finish retires the task and records outcome.
func (w *Worker) finish(ctx context.Context, task *repo.ClaimedTask, outcome Outcome) (Outcome, error) {
	if err := w.Queue.Retire(ctx, task); err != nil {
		return outcomeNone, fmt.Errorf("retire delivery task (%s): %w", outcome, err)
	}
	deliveryOutcomes.WithLabelValues(outcome.String()).Inc()
	return outcome, nil
}

func (w *Worker) release(ctx context.Context, task *repo.ClaimedTask, lg zerolog.Logger) {
	if err := w.Queue.Release(ctx, task); err != nil {
		lg.Warn().Err(err).Msg("failed to release delivery task")
	}
}
