// Package domain contains persistence models for account subscriptions.
package domain

import "time"

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
)

// ParseStatus maps a provider status onto the local lifecycle. Provider states without a local
// counterpart collapse onto the nearest one.
func ParseStatus(raw string) SubscriptionStatus {
	switch raw {
	case "active", "trialing":
		return SubscriptionStatusActive
	case "past_due", "unpaid", "paused":
		return SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return SubscriptionStatusCanceled
	default:
		return SubscriptionStatusIncomplete
	}
}

// Subscription is the account's current billing agreement, one row per account.
type Subscription struct {
	AccountID         string             `gorm:"primaryKey;size:191"`
	SubscriptionID    string             `gorm:"size:191;not null;uniqueIndex:ux_subscriptions_subscription_id"`
	CustomerID        string             `gorm:"size:191;not null;default:'';index:ix_subscriptions_customer_id"`
	TierID            string             `gorm:"size:64;not null;default:''"`
	Status            SubscriptionStatus `gorm:"size:32;not null"`
	CancelAtPeriodEnd bool               `gorm:"not null;default:false"`
	CurrentPeriodEnd  *time.Time         `gorm:""`
	CreatedAt         time.Time          `gorm:"not null"`
	UpdatedAt         time.Time          `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Live reports whether the subscription still entitles the account to tokens.
func (s Subscription) Live() bool {
	return s.Status != SubscriptionStatusCanceled
}
