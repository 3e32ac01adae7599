// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides aggregate queries over the delivery
// queue, used by the "queue stats" command. Each function is context-aware
// and reads without taking claims.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter/internal/domain"
)

// QueueStats summarises outstanding delivery tasks.
type QueueStats struct {
	Pending  int64      // tasks not yet decided
	Due      int64      // claimable now, leased or not
	Retrying int64      // tasks with at least one failed attempt
	Oldest   *time.Time // earliest NextAttemptAt, nil when the queue is empty
}

// DeliveryStats reports the state of the delivery queue, or of one issue's
// tasks when issueID is not empty.
func DeliveryStats(ctx context.Context, db *gorm.DB, issueID string, now time.Time) (QueueStats, error) {
	var st QueueStats
	scope := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&domain.DeliveryTask{})
		if issueID != "" {
			q = q.Where("issue_id = ?", issueID)
		}
		return q
	}

	if err := scope().Count(&st.Pending).Error; err != nil {
		return QueueStats{}, err
	}
	if st.Pending == 0 {
		return st, nil
	}
	if err := scope().Where("next_attempt_at <= ?", now.UTC()).Count(&st.Due).Error; err != nil {
		return QueueStats{}, err
	}
	if err := scope().Where("attempts > 0").Count(&st.Retrying).Error; err != nil {
		return QueueStats{}, err
	}

	// ORDER BY + LIMIT instead of MIN(): SQLite returns aggregates as TEXT.
	var row struct {
		NextAttemptAt time.Time
	}
	if err := scope().Select("next_attempt_at").Order("next_attempt_at ASC").Limit(1).Scan(&row).Error; err != nil {
		return QueueStats{}, err
	}
	st.Oldest = &row.NextAttemptAt
	return st, nil
}
