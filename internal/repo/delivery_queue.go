// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file implements the durable delivery queue: one row per
// (issue, subscriber) that still has to be delivered.
//
// Claiming comes in two flavours, chosen from the dialect:
//
//   - postgres/mysql: SELECT ... FOR UPDATE SKIP LOCKED inside a transaction
//     that stays open until the claim is retired, rescheduled or released.
//     A crash aborts the transaction and the row is claimable again.
//   - sqlite: a lease. The claim stamps lease_owner/lease_expires_at with a
//     compare-and-swap UPDATE; follow-up writes are conditional on the owner
//     token. A crash leaves the lease to expire, after which the row is
//     claimable again.
//
// Either way a task is handed to at most one claimant at a time and is never
// lost between claim and retire.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter/internal/domain"
)

// ErrLeaseLost is returned when a lease-based claim expired and was taken
// over before the holder finished with it.
var ErrLeaseLost = errors.New("delivery lease lost")

// ErrClaimClosed is returned when a claim is used after it was retired,
// rescheduled or released.
var ErrClaimClosed = errors.New("delivery claim already closed")

const enqueueBatchSize = 500

// DefaultLeaseTTL bounds how long a lease-based claim stays exclusive.
const DefaultLeaseTTL = 5 * time.Minute

// ClaimedTask is a delivery task owned by the caller until it is retired,
// rescheduled or released.
type ClaimedTask struct {
	IssueID         string
	SubscriberEmail string
	Attempts        int

	tx     *gorm.DB // row-locked claims
	owner  string   // lease claims
	closed bool
}

// DeliveryQueue is the persistent work queue of delivery tasks.
type DeliveryQueue struct {
	DB       *gorm.DB
	LeaseTTL time.Duration
	Now      func() time.Time

	skipLocked bool
}

// NewDeliveryQueue returns a queue over db. The claim strategy follows the
// dialect (see package doc).
func NewDeliveryQueue(db *gorm.DB, leaseTTL time.Duration) *DeliveryQueue {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	return &DeliveryQueue{
		DB:         db,
		LeaseTTL:   leaseTTL,
		skipLocked: SupportsSkipLocked(db),
	}
}

func (q *DeliveryQueue) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

// EnqueueAll inserts one task per email for issueID using the caller's
// transaction. The set of emails is taken as given.
func (q *DeliveryQueue) EnqueueAll(ctx context.Context, tx *gorm.DB, issueID string, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	now := q.now()
	tasks := make([]domain.DeliveryTask, 0, len(emails))
	for _, e := range emails {
		tasks = append(tasks, domain.DeliveryTask{
			IssueID:         issueID,
			SubscriberEmail: e,
			NextAttemptAt:   now,
			CreatedAt:       now,
		})
	}
	return tx.WithContext(ctx).
		Omit(clause.Associations).
		CreateInBatches(tasks, enqueueBatchSize).Error
}

// ClaimOne takes exclusive ownership of one due task. It returns (nil, nil)
// when no task is claimable right now. Claimants never wait on each other.
func (q *DeliveryQueue) ClaimOne(ctx context.Context) (*ClaimedTask, error) {
	if q.skipLocked {
		return q.claimLocked(ctx)
	}
	return q.claimLease(ctx)
}

func (q *DeliveryQueue) claimLocked(ctx context.Context) (*ClaimedTask, error) {
	tx := q.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var task domain.DeliveryTask
	res := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("next_attempt_at <= ?", q.now()).
		Order("created_at").
		Limit(1).
		Find(&task)
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, nil
	}
	return &ClaimedTask{
		IssueID:         task.IssueID,
		SubscriberEmail: task.SubscriberEmail,
		Attempts:        task.Attempts,
		tx:              tx,
	}, nil
}

func (q *DeliveryQueue) claimLease(ctx context.Context) (*ClaimedTask, error) {
	db := q.DB.WithContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := q.now()

		var task domain.DeliveryTask
		res := db.Where("next_attempt_at <= ?", now).
			Where("(lease_expires_at IS NULL OR lease_expires_at <= ?)", now).
			Order("created_at").
			Limit(1).
			Find(&task)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, nil
		}

		owner := uuid.NewString()
		upd := db.Model(&domain.DeliveryTask{}).
			Where("issue_id = ? AND subscriber_email = ?", task.IssueID, task.SubscriberEmail).
			Where("(lease_expires_at IS NULL OR lease_expires_at <= ?)", now).
			Updates(map[string]any{
				"lease_owner":      owner,
				"lease_expires_at": now.Add(q.LeaseTTL),
			})
		if upd.Error != nil {
			return nil, upd.Error
		}
		if upd.RowsAffected == 1 {
			return &ClaimedTask{
				IssueID:         task.IssueID,
				SubscriberEmail: task.SubscriberEmail,
				Attempts:        task.Attempts,
				owner:           owner,
			}, nil
		}
		// Another claimant won this row; look for the next one.
	}
}

// Retire deletes the task. Call it once the delivery outcome is final.
func (q *DeliveryQueue) Retire(ctx context.Context, t *ClaimedTask) error {
	if t.closed {
		return ErrClaimClosed
	}
	t.closed = true

	if t.tx != nil {
		err := t.tx.Where("issue_id = ? AND subscriber_email = ?", t.IssueID, t.SubscriberEmail).
			Delete(&domain.DeliveryTask{}).Error
		if err != nil {
			t.tx.Rollback()
			return err
		}
		return t.tx.Commit().Error
	}

	res := q.DB.WithContext(ctx).
		Where("issue_id = ? AND subscriber_email = ? AND lease_owner = ?", t.IssueID, t.SubscriberEmail, t.owner).
		Delete(&domain.DeliveryTask{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Reschedule records a failed attempt and makes the task claimable again at
// next.
func (q *DeliveryQueue) Reschedule(ctx context.Context, t *ClaimedTask, next time.Time, lastErr string) error {
	if t.closed {
		return ErrClaimClosed
	}
	t.closed = true

	updates := map[string]any{
		"attempts":         gorm.Expr("attempts + 1"),
		"next_attempt_at":  next.UTC(),
		"last_error":       lastErr,
		"lease_owner":      nil,
		"lease_expires_at": nil,
	}

	if t.tx != nil {
		err := t.tx.Model(&domain.DeliveryTask{}).
			Where("issue_id = ? AND subscriber_email = ?", t.IssueID, t.SubscriberEmail).
			Updates(updates).Error
		if err != nil {
			t.tx.Rollback()
			return err
		}
		return t.tx.Commit().Error
	}

	res := q.DB.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("issue_id = ? AND subscriber_email = ? AND lease_owner = ?", t.IssueID, t.SubscriberEmail, t.owner).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release gives the task back untouched so another claimant can take it.
func (q *DeliveryQueue) Release(ctx context.Context, t *ClaimedTask) error {
	if t.closed {
		return ErrClaimClosed
	}
	t.closed = true

	if t.tx != nil {
		return t.tx.Rollback().Error
	}
	return q.DB.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("issue_id = ? AND subscriber_email = ? AND lease_owner = ?", t.IssueID, t.SubscriberEmail, t.owner).
		Updates(map[string]any{"lease_owner": nil, "lease_expires_at": nil}).Error
}

// LoadIssue reads the issue a claimed task belongs to. Row-locked claims read
// through their own transaction so a worker never holds more than one pooled
// connection.
func (q *DeliveryQueue) LoadIssue(ctx context.Context, t *ClaimedTask) (*domain.Issue, error) {
	if t.closed {
		return nil, ErrClaimClosed
	}
	if t.tx != nil {
		return GetIssue(ctx, t.tx, t.IssueID)
	}
	return GetIssue(ctx, q.DB, t.IssueID)
}

// Pending returns the number of queued tasks, claimed or not.
func (q *DeliveryQueue) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := q.DB.WithContext(ctx).Model(&domain.DeliveryTask{}).Count(&n).Error
	return n, err
}
