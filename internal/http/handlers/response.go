// Package handlers provides the HTTP handlers of the newsletter API.
//
// Error responses share one envelope, written by fail(). Successful publish
// responses are not built here: they are replayed byte for byte from the
// response the publisher stored, see writeSaved.
//
// Example error response:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "bad_idempotency_key",
//	  "message": "idempotency key must be 1 to 49 characters"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter/internal/domain"
	"github.com/tbourn/go-newsletter/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"bad_request"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"title, html_content and text_content are required"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), used by the router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// writeSaved writes a stored response exactly as captured: status, headers
// in their original order (repeated names included) and body.
func writeSaved(c *gin.Context, resp *domain.SavedResponse) {
	h := c.Writer.Header()
	for _, p := range resp.Headers {
		h.Add(p.Name, string(p.Value))
	}
	c.Status(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = c.Writer.Write(resp.Body)
	} else {
		c.Writer.WriteHeaderNow()
	}
}
