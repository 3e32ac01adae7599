// Package services – IdempotencyStore
//
// IdempotencyStore turns the idempotency table into a mutual-exclusion
// primitive for repeated requests. The first request for (user, key) inserts
// a placeholder inside a transaction and keeps that transaction open while it
// does its work; identical requests block on the uniqueness constraint, then
// read the completed response. The response is written and committed in the
// same transaction as the side effects, so a crash rolls back the claim too.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter/internal/domain"
	"github.com/tbourn/go-newsletter/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultPollAttempts = 40
)

// errKeyPending marks a poll round that found the key claimed but not
// completed, or could not take the lock to find out.
var errKeyPending = errors.New("idempotency key pending")

// IdempotencyStore persists responses keyed by (user_id, idempotency_key).
type IdempotencyStore struct {
	DB *gorm.DB

	// PollInterval and PollAttempts bound how long a request waits for a
	// concurrent request with the same key to complete.
	PollInterval time.Duration
	PollAttempts uint
}

// Claim is the exclusive right to produce the response for a key. It owns an
// open transaction; all side effects must go through Tx.
type Claim struct {
	UserID string
	Key    domain.IdempotencyKey

	tx       *gorm.DB
	finished bool
}

// Tx returns the claim's transaction.
func (c *Claim) Tx() *gorm.DB { return c.tx }

// Abort rolls back the claim and everything written through Tx.
func (c *Claim) Abort() {
	if c.finished {
		return
	}
	c.finished = true
	c.tx.Rollback()
}

// NextAction is the outcome of BeginOrFetch: exactly one field is set.
type NextAction struct {
	Claim *Claim
	Saved *domain.SavedResponse
}

// BeginOrFetch claims (userID, key) or returns the response already saved
// for it. If another request holds the key, it polls until that request
// completes or the polling budget is spent (ErrIdempotencyInFlight).
func (s *IdempotencyStore) BeginOrFetch(ctx context.Context, userID string, key domain.IdempotencyKey) (NextAction, error) {
	tr := otel.Tracer("services/IdempotencyStore")
	ctx, span := tr.Start(ctx, "BeginOrFetch",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	interval := s.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	attempts := s.PollAttempts
	if attempts == 0 {
		attempts = defaultPollAttempts
	}

	next, err := backoff.Retry(ctx,
		func() (NextAction, error) { return s.tryClaim(ctx, userID, key) },
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(attempts),
	)
	if errors.Is(err, errKeyPending) {
		return NextAction{}, ErrIdempotencyInFlight
	}
	if err != nil {
		return NextAction{}, err
	}
	span.SetAttributes(attribute.Bool("idempotency.replay", next.Saved != nil))
	return next, nil
}

// tryClaim is one claim-or-fetch round. errKeyPending asks for another round.
func (s *IdempotencyStore) tryClaim(ctx context.Context, userID string, key domain.IdempotencyKey) (NextAction, error) {
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return NextAction{}, backoff.Permanent(fmt.Errorf("begin idempotency claim: %w", tx.Error))
	}

	err := repo.InsertIdempotencyPlaceholder(ctx, tx, userID, key.String())
	if err == nil {
		return NextAction{Claim: &Claim{UserID: userID, Key: key, tx: tx}}, nil
	}
	tx.Rollback()
	if repo.IsContention(err) {
		// Another publish holds the write lock; the key may well be free.
		return NextAction{}, errKeyPending
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return NextAction{}, backoff.Permanent(fmt.Errorf("claim idempotency key: %w", err))
	}

	rec, err := repo.GetIdempotency(ctx, s.DB, userID, key.String())
	switch {
	case errors.Is(err, repo.ErrNotFound):
		// The competing claim rolled back in between; claim again.
		return NextAction{}, errKeyPending
	case err != nil:
		return NextAction{}, backoff.Permanent(fmt.Errorf("read saved response: %w", err))
	case !rec.Completed():
		return NextAction{}, errKeyPending
	}
	return NextAction{Saved: rec.Response()}, nil
}

// Complete saves resp for the claimed key and commits the claim's
// transaction, making the side effects and the response visible together.
func (s *IdempotencyStore) Complete(ctx context.Context, c *Claim, resp *domain.SavedResponse) (*domain.SavedResponse, error) {
	if c.finished {
		return nil, ErrClaimFinished
	}
	c.finished = true

	if err := repo.SaveIdempotencyResponse(ctx, c.tx, c.UserID, c.Key.String(), resp); err != nil {
		c.tx.Rollback()
		return nil, fmt.Errorf("save idempotent response: %w", err)
	}
	if err := c.tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit idempotent response: %w", err)
	}
	return resp, nil
}
