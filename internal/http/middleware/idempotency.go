// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the optional Idempotency-Key header. A malformed key
// is rejected with 400 before any handler runs. A key whose response is
// already stored marks the request as a replay so that metrics can count it
// and the rate limiter lets it through.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey lets clients send the idempotency key as a header
// instead of a body field.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// defaultMaxKeyRunes matches the store's limit: keys of 50 characters or
// more are rejected.
const defaultMaxKeyRunes = 49

// IdempotencyOptions configures IdempotencyHeader.
type IdempotencyOptions struct {
	// MaxRunes is the longest accepted key in characters. Defaults to 49.
	MaxRunes int
}

// CompletedLookup reports whether a finished response is stored for
// (userID, key). Errors are treated as "not completed".
type CompletedLookup func(ctx context.Context, userID, key string) (bool, error)

// GetIdempotencyKey returns the key validated by IdempotencyHeader.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the request repeats a completed one.
func IsReplay(c *gin.Context) bool {
	b, _ := c.Get(ctxKeyIdemReplay)
	v, _ := b.(bool)
	return v
}

// IdempotencyHeader validates an Idempotency-Key header when present and
// stashes it for handlers. A key whose response is already stored marks the
// request as a replay, which the rate limiter lets through: replays are
// answered from storage and cost nothing.
//
// Requests without the header pass untouched; the key may still arrive in
// the body and is validated by the service.
func IdempotencyHeader(opts IdempotencyOptions, lookup CompletedLookup) gin.HandlerFunc {
	maxRunes := opts.MaxRunes
	if maxRunes <= 0 {
		maxRunes = defaultMaxKeyRunes
	}

	return func(c *gin.Context) {
		raw, present := c.Request.Header[http.CanonicalHeaderKey(HeaderIdempotencyKey)]
		if !present {
			c.Next()
			return
		}
		key := ""
		if len(raw) > 0 {
			key = raw[0]
		}
		if key == "" || utf8.RuneCountInString(key) > maxRunes {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_idempotency_key",
				"message":    fmt.Sprintf("Idempotency-Key must be 1 to %d characters", maxRunes),
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if done, err := lookup(c.Request.Context(), UserID(c), key); err == nil && done {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
