// Package domain defines the core value types of the newsletter service.
//
// This file contains the idempotency model:
//
//   - IdempotencyKey: a validated client key (non-empty, under 50 characters)
//   - SavedResponse/HeaderPair: the exact HTTP response replayed for a key,
//     with headers kept in order and duplicates preserved
//   - IdempotencyRecord: the persisted row; a row without a status code is a
//     placeholder held by a request that has not finished yet
package domain

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

// MaxIdempotencyKeyLen is the exclusive upper bound on key length, in characters.
const MaxIdempotencyKeyLen = 50

// ErrInvalidIdempotencyKey is returned by ParseIdempotencyKey.
var ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

// IdempotencyKey is a validated, client-supplied request token.
type IdempotencyKey string

// ParseIdempotencyKey validates s: it must be non-empty and shorter than
// MaxIdempotencyKeyLen characters.
func ParseIdempotencyKey(s string) (IdempotencyKey, error) {
	if s == "" {
		return "", fmt.Errorf("%w: must not be empty", ErrInvalidIdempotencyKey)
	}
	if utf8.RuneCountInString(s) >= MaxIdempotencyKeyLen {
		return "", fmt.Errorf("%w: must be shorter than %d characters", ErrInvalidIdempotencyKey, MaxIdempotencyKeyLen)
	}
	return IdempotencyKey(s), nil
}

func (k IdempotencyKey) String() string { return string(k) }

// HeaderPair is one response header line. Duplicated names are allowed and
// the order of a slice of pairs is preserved on storage.
type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// SavedResponse is an HTTP response captured for replay.
type SavedResponse struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// IdempotencyRecord stores the response produced for (user_id,
// idempotency_key). A row without a status code is a placeholder: the key is
// claimed and the owner has not completed it yet.
type IdempotencyRecord struct {
	UserID             string                          `gorm:"type:varchar(64);primaryKey"`
	IdempotencyKey     string                          `gorm:"type:varchar(50);primaryKey"`
	ResponseStatusCode *int                            `gorm:"column:response_status_code"`
	ResponseHeaders    datatypes.JSONSlice[HeaderPair] `gorm:"column:response_headers"`
	ResponseBody       []byte                          `gorm:"column:response_body"`
	CreatedAt          time.Time                       `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency" }

// Completed reports whether the record holds a response.
func (r *IdempotencyRecord) Completed() bool { return r.ResponseStatusCode != nil }

// Response returns the saved response, or nil for a placeholder.
func (r *IdempotencyRecord) Response() *SavedResponse {
	if !r.Completed() {
		return nil
	}
	headers := make([]HeaderPair, len(r.ResponseHeaders))
	copy(headers, r.ResponseHeaders)
	return &SavedResponse{
		StatusCode: *r.ResponseStatusCode,
		Headers:    headers,
		Body:       r.ResponseBody,
	}
}
