// Package domain defines the normalized billing events produced by provider adapters.
//
// Event is a closed union: every variant lives in this file and implements the unexported
// isEvent marker, so consumers switch over the full set and handle Unrecognized explicitly.
package domain

import (
	"time"

	subscriptiondomain "github.com/smallbiznis/tokenledger/internal/subscription/domain"
)

type Event interface {
	EventMeta() Meta
	isEvent()
}

// Meta is the provider envelope shared by every event.
type Meta struct {
	EventID string
	Type    string
	Created time.Time
}

func (m Meta) EventMeta() Meta { return m }

// SubscriptionSnapshot is the subscription state carried by a subscription event.
type SubscriptionSnapshot struct {
	SubscriptionID    string
	CustomerID        string
	AccountID         string
	PriceID           string
	Status            subscriptiondomain.SubscriptionStatus
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
}

type SubscriptionCreated struct {
	Meta
	Subscription SubscriptionSnapshot
}

// SubscriptionTierChanged carries the provider's previous price as a hint only; stored state
// decides the tier the account is leaving.
type SubscriptionTierChanged struct {
	Meta
	Subscription    SubscriptionSnapshot
	PreviousPriceID string
}

type SubscriptionCancellationToggled struct {
	Meta
	Subscription SubscriptionSnapshot
}

type SubscriptionOtherUpdate struct {
	Meta
	Subscription SubscriptionSnapshot
}

type SubscriptionDeleted struct {
	Meta
	Subscription SubscriptionSnapshot
}

type InvoiceReason string

const (
	InvoiceReasonCycle      InvoiceReason = "cycle"
	InvoiceReasonTierChange InvoiceReason = "tier-change"
	InvoiceReasonOther      InvoiceReason = "other"
)

type InvoicePaid struct {
	Meta
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	Reason         InvoiceReason
	BillingReason  string
	AmountPaid     int64
	PeriodEnd      time.Time
}

// Unrecognized is any event type outside the handled vocabulary. It is acknowledged, never applied.
type Unrecognized struct {
	Meta
}

func (SubscriptionCreated) isEvent()             {}
func (SubscriptionTierChanged) isEvent()         {}
func (SubscriptionCancellationToggled) isEvent() {}
func (SubscriptionOtherUpdate) isEvent()         {}
func (SubscriptionDeleted) isEvent()             {}
func (InvoicePaid) isEvent()                     {}
func (Unrecognized) isEvent()                    {}

// KindOf names the variant for logs and metrics.
func KindOf(event Event) string {
	switch event.(type) {
	case SubscriptionCreated:
		return "subscription_created"
	case SubscriptionTierChanged:
		return "subscription_tier_changed"
	case SubscriptionCancellationToggled:
		return "subscription_cancellation_toggled"
	case SubscriptionOtherUpdate:
		return "subscription_other_update"
	case SubscriptionDeleted:
		return "subscription_deleted"
	case InvoicePaid:
		return "invoice_paid"
	case Unrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}
