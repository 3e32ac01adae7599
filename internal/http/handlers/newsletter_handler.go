// Newsletter HTTP handlers.
//
// This file exposes the publishing endpoint:
//   - POST /admin/newsletters  (publish an issue to confirmed subscribers)
//
// The handler is transport-thin: it binds the request, resolves the caller
// and idempotency key, and hands the rest to the publisher.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter/internal/domain"
	"github.com/tbourn/go-newsletter/internal/http/middleware"
	"github.com/tbourn/go-newsletter/internal/services"
)

// NewsletterPublisher publishes issues. A nil error always comes with a
// response to send back to the client.
type NewsletterPublisher interface {
	Submit(ctx context.Context, userID, rawKey string, issue services.IssueContent) (*domain.SavedResponse, error)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	publisher NewsletterPublisher
}

// New constructs Handlers bound to the given publisher.
func New(p NewsletterPublisher) *Handlers {
	return &Handlers{publisher: p}
}

// PublishNewsletterRequest is the payload of a publish request. It is
// accepted as JSON or as an HTML form.
type PublishNewsletterRequest struct {
	Title       string `json:"title" form:"title" binding:"required" example:"October issue"`
	HTMLContent string `json:"html_content" form:"html_content" binding:"required" example:"<p>Hello!</p>"`
	TextContent string `json:"text_content" form:"text_content" binding:"required" example:"Hello!"`
	// IdempotencyKey may also be sent in the Idempotency-Key header. The body
	// field wins when both are present.
	IdempotencyKey string `json:"idempotency_key" form:"idempotency_key" example:"2f1c9a8e-issue-42"`
}

// PublishAccepted documents the queued-mode success body.
type PublishAccepted struct {
	Status     string `json:"status" example:"accepted"`
	IssueID    string `json:"issue_id" example:"fa4dfbe0-c3bf-47bd-b32f-d7de221cf43b"`
	Recipients int    `json:"recipients" example:"3"`
	Message    string `json:"message" example:"The newsletter issue has been accepted - emails will go out shortly."`
}

// PublishNewsletter godoc
// @ID          publishNewsletter
// @Summary     Publish a newsletter issue
// @Description Stores the issue and queues one delivery per confirmed subscriber. Repeating a request with the same idempotency key returns the original response unchanged.
// @Tags        Newsletters
// @Accept      json
// @Accept      x-www-form-urlencoded
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(editor)
// @Param       Idempotency-Key  header  string  false "Idempotency key (1-49 characters)"
// @Param       body             body    handlers.PublishNewsletterRequest true "Issue payload"
//
// @Success     200  {object} handlers.PublishAccepted
// @Failure     400  {object} handlers.ErrorResponse "Invalid payload or idempotency key"
// @Failure     409  {object} handlers.ErrorResponse "Same key still being processed"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     502  {object} handlers.ErrorResponse "Direct delivery failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal server error"
// @Router      /admin/newsletters [post]
func (h *Handlers) PublishNewsletter(c *gin.Context) {
	var req PublishNewsletterRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title, html_content and text_content are required")
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key, _ = middleware.GetIdempotencyKey(c)
	}

	resp, err := h.publisher.Submit(c.Request.Context(), middleware.UserID(c), key, services.IssueContent{
		Title:       req.Title,
		HTMLContent: req.HTMLContent,
		TextContent: req.TextContent,
	})
	if err != nil {
		failPublish(c, err)
		return
	}
	writeSaved(c, resp)
}

func failPublish(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidIdempotencyKey):
		fail(c, http.StatusBadRequest, ErrCodeBadIdempotencyKey, err.Error())
	case errors.Is(err, services.ErrInvalidIssue):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrIdempotencyInFlight):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrDeliveryFailed):
		fail(c, http.StatusBadGateway, ErrCodeDeliveryFailed, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to publish newsletter issue")
	}
}
