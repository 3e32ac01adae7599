// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for idempotency
// records: claiming a key with a placeholder, reading a saved response and
// completing the placeholder.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter/internal/domain"
)

// InsertIdempotencyPlaceholder claims (userID, key) by inserting a row with no
// response. It returns ErrDuplicate when a row for the pair already exists.
//
// On a transaction it blocks while a concurrent uncommitted claim for the same
// pair is pending and reports the conflict once that claim commits.
func InsertIdempotencyPlaceholder(ctx context.Context, db *gorm.DB, userID, key string) error {
	rec := &domain.IdempotencyRecord{
		UserID:         userID,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetIdempotency returns the record for (userID, key) or ErrNotFound. The
// record may be a placeholder; see IdempotencyRecord.Completed.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotencyResponse writes resp onto the placeholder for (userID, key).
// Headers are stored element by element, in order.
func SaveIdempotencyResponse(ctx context.Context, db *gorm.DB, userID, key string, resp *domain.SavedResponse) error {
	headers := datatypes.JSONSlice[domain.HeaderPair](resp.Headers)
	if headers == nil {
		headers = datatypes.JSONSlice[domain.HeaderPair]{}
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	res := db.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Updates(map[string]any{
			"response_status_code": resp.StatusCode,
			"response_headers":     headers,
			"response_body":        body,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
