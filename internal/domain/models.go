// Package domain defines the persistence models for subscribers, newsletter
// issues and their delivery tasks. These types are mapped with GORM and form
// the core data layer of the newsletter service.
package domain

import (
	"time"
)

// Subscription statuses.
const (
	SubscriberPendingConfirmation = "pending_confirmation"
	SubscriberConfirmed           = "confirmed"
)

// Subscriber is an entry of the subscriber directory. Only confirmed
// subscribers receive newsletter issues.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Email: stored contact address; unique. It is validated on the way in
//     but re-validated before every send.
//   - Status: pending_confirmation | confirmed.
type Subscriber struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"         gorm:"type:varchar(320);not null;uniqueIndex:ux_subscriptions_email"`
	Name         string    `json:"name"          gorm:"type:varchar(255);not null"`
	Status       string    `json:"status"        gorm:"type:varchar(32);not null;index:idx_subscriptions_status;check:status IN ('pending_confirmation','confirmed')"`
	SubscribedAt time.Time `json:"subscribed_at" gorm:"not null"`
}

// TableName returns the database table name for Subscriber.
func (Subscriber) TableName() string { return "subscriptions" }

// Issue is a published newsletter issue. A row is created once per
// successful publish attempt and never updated afterwards.
type Issue struct {
	ID          string    `json:"issue_id"     gorm:"column:issue_id;type:char(36);primaryKey"`
	Title       string    `json:"title"        gorm:"type:text;not null"`
	HTMLContent string    `json:"html_content" gorm:"column:html_content;type:text;not null"`
	TextContent string    `json:"text_content" gorm:"column:text_content;type:text;not null"`
	PublishedAt time.Time `json:"published_at" gorm:"not null"`
}

// TableName returns the database table name for Issue.
func (Issue) TableName() string { return "newsletter_issues" }

// DeliveryTask is one outstanding (issue, subscriber) delivery. Rows are the
// only record of pending work: a task exists until its delivery is decided
// (sent, skipped or dropped) and is then deleted.
//
// Fields:
//   - IssueID, SubscriberEmail: composite primary key.
//   - Attempts: failed send attempts so far.
//   - NextAttemptAt: the task is not claimable before this instant.
//   - LeaseOwner / LeaseExpiresAt: claim marker used on stores without
//     row-level SKIP LOCKED. A lease past its expiry is free to take.
//   - LastError: last transport error, kept for operators.
type DeliveryTask struct {
	IssueID         string     `json:"issue_id"          gorm:"column:issue_id;type:char(36);primaryKey"`
	SubscriberEmail string     `json:"subscriber_email"  gorm:"type:varchar(320);primaryKey"`
	Attempts        int        `json:"attempts"          gorm:"not null;default:0"`
	NextAttemptAt   time.Time  `json:"next_attempt_at"   gorm:"not null;index:idx_delivery_ready"`
	LeaseOwner      *string    `json:"-"                 gorm:"type:char(36)"`
	LeaseExpiresAt  *time.Time `json:"-"`
	LastError       string     `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at"`

	// Issue is the parent issue; tasks go away with it.
	Issue Issue `json:"-" gorm:"foreignKey:IssueID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DeliveryTask.
func (DeliveryTask) TableName() string { return "issue_delivery_queue" }
