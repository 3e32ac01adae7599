// Package services – IssuePublisher
//
// IssuePublisher accepts a newsletter issue and fans it out to the confirmed
// subscribers. The fan-out policy is selected by Mode:
//
//   - PublishQueued (default): the request is deduplicated through the
//     IdempotencyStore; the issue row and one delivery task per confirmed
//     subscriber are written in the claim's transaction and committed together
//     with the saved response. Delivery workers send the emails later.
//   - PublishDirect: every confirmed subscriber is emailed inline. Invalid
//     stored addresses are skipped; the first transport failure aborts the
//     batch. No idempotency and no durability: a retry re-sends to everyone.
//
// Observability: Submit is OpenTelemetry-instrumented and counts published
// issues and idempotent replays in Prometheus.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter/internal/domain"
	"github.com/tbourn/go-newsletter/internal/email"
	"github.com/tbourn/go-newsletter/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PublishMode selects the fan-out policy of IssuePublisher.
type PublishMode string

const (
	PublishQueued PublishMode = "queued"
	PublishDirect PublishMode = "direct"
)

// ParsePublishMode maps a config value onto a PublishMode.
func ParsePublishMode(s string) (PublishMode, error) {
	switch PublishMode(strings.ToLower(strings.TrimSpace(s))) {
	case PublishQueued, "":
		return PublishQueued, nil
	case PublishDirect:
		return PublishDirect, nil
	default:
		return "", fmt.Errorf("unknown publish mode %q", s)
	}
}

// IssueContent is the body of a publish request.
type IssueContent struct {
	Title       string
	HTMLContent string
	TextContent string
}

// Enqueuer persists delivery tasks inside the caller's transaction.
type Enqueuer interface {
	EnqueueAll(ctx context.Context, tx *gorm.DB, issueID string, emails []string) error
}

// SubscriberDirectory lists the addresses of confirmed subscribers.
type SubscriberDirectory interface {
	ListConfirmedEmails(ctx context.Context, db *gorm.DB) ([]string, error)
}

// SubscriberDirectoryFunc adapts a function to SubscriberDirectory.
type SubscriberDirectoryFunc func(ctx context.Context, db *gorm.DB) ([]string, error)

// ListConfirmedEmails calls f.
func (f SubscriberDirectoryFunc) ListConfirmedEmails(ctx context.Context, db *gorm.DB) ([]string, error) {
	return f(ctx, db)
}

// IssuePublisher orchestrates issue publication.
type IssuePublisher struct {
	DB          *gorm.DB
	Mode        PublishMode
	Idempotency *IdempotencyStore
	Queue       Enqueuer
	Subscribers SubscriberDirectory // defaults to the subscriptions table
	Sender      email.Sender        // direct mode only
}

type acceptedBody struct {
	Status     string `json:"status"`
	IssueID    string `json:"issue_id"`
	Recipients int    `json:"recipients"`
	Message    string `json:"message"`
}

type sentBody struct {
	Status    string `json:"status"`
	Delivered int    `json:"delivered"`
	Skipped   int    `json:"skipped"`
}

// Submit publishes issue on behalf of userID. In queued mode rawKey is the
// client's idempotency key and a repeated call returns the saved response
// unchanged; in direct mode the key is ignored.
func (p *IssuePublisher) Submit(ctx context.Context, userID, rawKey string, issue IssueContent) (*domain.SavedResponse, error) {
	tr := otel.Tracer("services/IssuePublisher")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("publish.mode", string(p.mode())),
		),
	)
	defer span.End()

	issue, err := normalizeIssue(issue)
	if err != nil {
		return nil, err
	}

	var resp *domain.SavedResponse
	if p.mode() == PublishDirect {
		resp, err = p.publishDirect(ctx, issue)
	} else {
		resp, err = p.publishQueued(ctx, userID, rawKey, issue)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return nil, err
	}
	return resp, nil
}

func (p *IssuePublisher) publishQueued(ctx context.Context, userID, rawKey string, issue IssueContent) (*domain.SavedResponse, error) {
	key, err := domain.ParseIdempotencyKey(rawKey)
	if err != nil {
		return nil, err
	}

	next, err := p.Idempotency.BeginOrFetch(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if next.Saved != nil {
		idempotentReplays.Inc()
		return next.Saved, nil
	}

	claim := next.Claim
	tx := claim.Tx()

	issueID, err := repo.InsertIssue(ctx, tx, issue.Title, issue.HTMLContent, issue.TextContent)
	if err != nil {
		claim.Abort()
		return nil, fmt.Errorf("store newsletter issue: %w", err)
	}
	emails, err := p.subscribers().ListConfirmedEmails(ctx, tx)
	if err != nil {
		claim.Abort()
		return nil, fmt.Errorf("list confirmed subscribers: %w", err)
	}
	if err := p.Queue.EnqueueAll(ctx, tx, issueID, emails); err != nil {
		claim.Abort()
		return nil, fmt.Errorf("enqueue delivery tasks: %w", err)
	}

	resp, err := jsonResponse(http.StatusOK, acceptedBody{
		Status:     "accepted",
		IssueID:    issueID,
		Recipients: len(emails),
		Message:    "The newsletter issue has been accepted - emails will go out shortly.",
	})
	if err != nil {
		claim.Abort()
		return nil, err
	}

	saved, err := p.Idempotency.Complete(ctx, claim, resp)
	if err != nil {
		return nil, err
	}
	issuesPublished.WithLabelValues(string(PublishQueued)).Inc()
	log.Info().
		Str("issue_id", issueID).
		Str("user_id", userID).
		Int("recipients", len(emails)).
		Msg("newsletter issue queued for delivery")
	return saved, nil
}

func (p *IssuePublisher) publishDirect(ctx context.Context, issue IssueContent) (*domain.SavedResponse, error) {
	if p.Sender == nil {
		return nil, fmt.Errorf("%w: no email sender configured", ErrDeliveryFailed)
	}
	emails, err := p.subscribers().ListConfirmedEmails(ctx, p.DB)
	if err != nil {
		return nil, fmt.Errorf("list confirmed subscribers: %w", err)
	}

	var delivered, skipped int
	for _, raw := range emails {
		to, err := domain.ParseSubscriberEmail(raw)
		if err != nil {
			skipped++
			log.Warn().Err(err).Msg("skipping a confirmed subscriber: stored contact details are invalid")
			continue
		}
		if err := p.Sender.Send(ctx, to, issue.Title, issue.HTMLContent, issue.TextContent); err != nil {
			return nil, fmt.Errorf("%w: send newsletter to %s: %w", ErrDeliveryFailed, to, err)
		}
		delivered++
	}

	issuesPublished.WithLabelValues(string(PublishDirect)).Inc()
	return jsonResponse(http.StatusOK, sentBody{Status: "sent", Delivered: delivered, Skipped: skipped})
}

func (p *IssuePublisher) mode() PublishMode {
	if p.Mode == "" {
		return PublishQueued
	}
	return p.Mode
}

func (p *IssuePublisher) subscribers() SubscriberDirectory {
	if p.Subscribers != nil {
		return p.Subscribers
	}
	return SubscriberDirectoryFunc(repo.ListConfirmedEmails)
}

func normalizeIssue(in IssueContent) (IssueContent, error) {
	out := IssueContent{
		Title:       norm.NFC.String(strings.TrimSpace(in.Title)),
		HTMLContent: norm.NFC.String(in.HTMLContent),
		TextContent: norm.NFC.String(in.TextContent),
	}
	if out.Title == "" || strings.TrimSpace(out.HTMLContent) == "" || strings.TrimSpace(out.TextContent) == "" {
		return IssueContent{}, ErrInvalidIssue
	}
	return out, nil
}

func jsonResponse(status int, body any) (*domain.SavedResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return &domain.SavedResponse{
		StatusCode: status,
		Headers: []domain.HeaderPair{
			{Name: "Content-Type", Value: []byte("application/json; charset=utf-8")},
		},
		Body: b,
	}, nil
}
