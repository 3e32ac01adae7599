// Package services defines the business logic for publishing newsletter
// issues. This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"

	"github.com/tbourn/go-newsletter/internal/domain"
)

var (
	// ErrInvalidIssue is returned when the title, HTML body or text body of an
	// issue is empty.
	ErrInvalidIssue = errors.New("issue title, html and text content are required")

	// ErrInvalidIdempotencyKey is returned when the client key is empty or too long.
	ErrInvalidIdempotencyKey = domain.ErrInvalidIdempotencyKey

	// ErrIdempotencyInFlight is returned when another request holding the same
	// key did not complete within the polling budget.
	ErrIdempotencyInFlight = errors.New("a request with this idempotency key is still being processed")

	// ErrClaimFinished is returned when a claim is completed or aborted twice.
	ErrClaimFinished = errors.New("idempotency claim already finished")

	// ErrDeliveryFailed is returned by direct publishing when the email
	// transport rejects a send. The batch stops at the first failure.
	ErrDeliveryFailed = errors.New("newsletter delivery failed")
)
