// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores and reads newsletter issues. Issues are
// immutable once inserted.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter/internal/domain"
)

// InsertIssue stores a new issue and returns its id. No deduplication is done
// here; callers guard against repeated requests.
func InsertIssue(ctx context.Context, db *gorm.DB, title, html, text string) (string, error) {
	iss := &domain.Issue{
		ID:          uuid.NewString(),
		Title:       title,
		HTMLContent: html,
		TextContent: text,
		PublishedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(iss).Error; err != nil {
		return "", err
	}
	return iss.ID, nil
}

// GetIssue fetches an issue by id, or ErrNotFound.
func GetIssue(ctx context.Context, db *gorm.DB, id string) (*domain.Issue, error) {
	var iss domain.Issue
	err := db.WithContext(ctx).Where("issue_id = ?", id).Take(&iss).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &iss, nil
}

// CountIssues returns the number of stored issues.
func CountIssues(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Issue{}).Count(&n).Error
	return n, err
}
