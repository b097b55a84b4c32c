package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SubscriptionStatus represents the status of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// String returns the string representation of the status.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusCanceled:
		return true
	}
	return false
}

// Plan represents a subscription plan. Plans are a static catalog and
// read-only at request time.
type Plan struct {
	ID                string         `json:"id" gorm:"primaryKey"`
	Name              string         `json:"name" gorm:"not null"`
	Description       string         `json:"description"`
	PriceUSD          int64          `json:"price_usd"` // In cents
	StripePriceID     string         `json:"-"`
	MonthlyCredits    int64          `json:"monthly_credits"`
	AllowVideo        bool           `json:"allow_video" gorm:"default:false"`
	VideoMonthlyLimit int            `json:"video_monthly_limit" gorm:"default:0"`
	Features          pq.StringArray `json:"features" gorm:"type:text[]"`
	Active            bool           `json:"active" gorm:"default:true"`
	DisplayOrder      int            `json:"display_order" gorm:"default:0"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TableName returns the database table name.
func (Plan) TableName() string {
	return "plans"
}

// Subscription is the per-account billing state. The balance column is a
// materialized view over credit_transactions; every balance change is
// paired with exactly one transaction row in the same database transaction.
type Subscription struct {
	ID                   uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID            uuid.UUID          `json:"account_id" gorm:"type:uuid;uniqueIndex;not null"`
	PlanID               string             `json:"plan_id" gorm:"not null"`
	Status               SubscriptionStatus `json:"status" gorm:"not null;default:active"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty" gorm:"index"`
	CreditBalance        int64              `json:"credit_balance" gorm:"not null;default:0"`
	VideosUsedThisPeriod int                `json:"videos_used_this_period" gorm:"not null;default:0"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`

	// Relations
	Plan *Plan `json:"plan,omitempty" gorm:"foreignKey:PlanID"`
}

// TableName returns the database table name.
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsActive returns true if the subscription is active.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// HasSufficientCredits checks if the subscription has enough credits.
func (s *Subscription) HasSufficientCredits(amount int64) bool {
	return s.CreditBalance >= amount
}

// CreditTransaction is one append-only ledger entry. Rows are never
// mutated or deleted; the table is the source of truth for the balance.
type CreditTransaction struct {
	ID          int64       `json:"id" gorm:"primaryKey;autoIncrement"`
	AccountID   uuid.UUID   `json:"account_id" gorm:"type:uuid;not null;index"`
	Amount      int64       `json:"amount" gorm:"not null"` // signed delta
	FeatureType FeatureType `json:"feature_type,omitempty"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TableName returns the database table name.
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// WebhookEvent records a processed payment-processor event. The unique
// event_id column is the idempotency guard: inserting it in the same
// transaction as the event's effect makes replays no-ops.
type WebhookEvent struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	EventID      string    `json:"event_id" gorm:"uniqueIndex;not null"`
	Type         string    `json:"type" gorm:"not null"`
	Payload      string    `json:"payload" gorm:"type:text"`
	ProcessError string    `json:"process_error,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
