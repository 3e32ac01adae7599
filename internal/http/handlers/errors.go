// Package handlers defines the HTTP-layer error codes returned by the API.
//
// Codes are lowercase snake_case and stable; clients branch on them instead
// of on messages. Every error response carries an HTTP status and one code:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "a request with this idempotency key is still being processed"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Publishing:
	ErrCodeBadIdempotencyKey = "bad_idempotency_key"
	ErrCodeDeliveryFailed    = "delivery_failed"
)
