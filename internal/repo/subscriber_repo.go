// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file manages the subscriber directory.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter/internal/domain"
)

// CreateSubscriber inserts a subscriber with the given status. A second row
// for the same email yields ErrDuplicate.
func CreateSubscriber(ctx context.Context, db *gorm.DB, email, name, status string) (*domain.Subscriber, error) {
	s := &domain.Subscriber{
		ID:           uuid.NewString(),
		Email:        strings.TrimSpace(email),
		Name:         strings.TrimSpace(name),
		Status:       status,
		SubscribedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s, nil
}

// ConfirmSubscriber marks the subscriber with the given email as confirmed.
func ConfirmSubscriber(ctx context.Context, db *gorm.DB, email string) error {
	res := db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("email = ?", strings.TrimSpace(email)).
		Update("status", domain.SubscriberConfirmed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConfirmedEmails returns the stored address of every confirmed
// subscriber. Addresses are returned as stored and are not re-validated.
func ListConfirmedEmails(ctx context.Context, db *gorm.DB) ([]string, error) {
	var emails []string
	err := db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("status = ?", domain.SubscriberConfirmed).
		Order("subscribed_at ASC, email ASC").
		Pluck("email", &emails).Error
	return emails, err
}
