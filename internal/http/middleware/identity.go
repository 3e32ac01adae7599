// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller identity. Until an authenticator sits in
// front of the API the X-User-ID header is trusted; the id scopes
// idempotency keys, rate-limit buckets and log lines.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

// HeaderUserID carries the caller identity until real authentication exists.
const HeaderUserID = "X-User-ID"

// DefaultUserID is used when neither an upstream authenticator nor the
// X-User-ID header identify the caller.
const DefaultUserID = "demo-user"

// MaxUserIDRunes is the width of the user_id column in the idempotency table.
const MaxUserIDRunes = 64

const userIDKey = "userID"

// Identity resolves the caller's user id once per request and stores it in
// the Gin context, where logging, rate limiting and idempotency read it.
// Ids longer than MaxUserIDRunes are rejected with 400.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := UserID(c)
		if utf8.RuneCountInString(uid) > MaxUserIDRunes {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_request",
				"message":    fmt.Sprintf("%s must be at most %d characters", HeaderUserID, MaxUserIDRunes),
			})
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// UserID returns the caller's user id: a value set by upstream middleware,
// else the X-User-ID header, else DefaultUserID.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader(HeaderUserID)); h != "" {
			return h
		}
	}
	return DefaultUserID
}
