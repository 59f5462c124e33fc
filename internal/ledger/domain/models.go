package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryKind classifies what an applied billing event did to the account.
type EntryKind string

const (
	// EntryKindPending marks a reserved event id whose outcome is written in the same transaction.
	EntryKindPending EntryKind = "pending"

	EntryKindAllocation           EntryKind = "allocation"
	EntryKindActivation           EntryKind = "activation"
	EntryKindSubscriptionCreated  EntryKind = "subscription_created"
	EntryKindCarryOver            EntryKind = "carry_over"
	EntryKindRenewal              EntryKind = "renewal"
	EntryKindCancellationToggled  EntryKind = "cancellation_toggled"
	EntryKindSubscriptionUpdated  EntryKind = "subscription_updated"
	EntryKindSubscriptionCanceled EntryKind = "subscription_canceled"
	EntryKindInvoiceTierChange    EntryKind = "invoice_tier_change"
	EntryKindInvoiceOther         EntryKind = "invoice_other"

	EntryKindIgnoredUnknownSubscription EntryKind = "ignored: unknown subscription"
	EntryKindIgnoredSubscriptionExists  EntryKind = "ignored: subscription exists"
)

// Ignored reports whether the entry was acknowledged without mutating state.
func (k EntryKind) Ignored() bool {
	return k == EntryKindIgnoredUnknownSubscription || k == EntryKindIgnoredSubscriptionExists
}

// TokenBalance holds the spendable tokens of one account.
type TokenBalance struct {
	AccountID            string     `gorm:"primaryKey;size:191"`
	ExpiringTokens       int64      `gorm:"not null;default:0;check:chk_token_balances_expiring,expiring_tokens >= 0"`
	ExpiringTokensExpiry *time.Time `gorm:""`
	NonexpiringTokens    int64      `gorm:"not null;default:0;check:chk_token_balances_nonexpiring,nonexpiring_tokens >= 0"`
	UpdatedAt            time.Time  `gorm:"not null"`
}

// TableName sets the database table name.
func (TokenBalance) TableName() string { return "token_balances" }

// LedgerEntry is the append-only record of one applied billing event. The unique event id doubles
// as the idempotency marker.
type LedgerEntry struct {
	ID                   snowflake.ID      `gorm:"primaryKey;autoIncrement:false"`
	EventID              string            `gorm:"size:191;not null;uniqueIndex:ux_ledger_entries_event_id"`
	EventType            string            `gorm:"size:128;not null"`
	AccountID            string            `gorm:"size:191;not null;default:'';index:ix_ledger_entries_account_id"`
	SubscriptionID       string            `gorm:"size:191;not null;default:''"`
	Kind                 EntryKind         `gorm:"size:64;not null"`
	Delta                int64             `gorm:"not null;default:0"`
	ResultingExpiring    int64             `gorm:"not null;default:0"`
	ResultingNonexpiring int64             `gorm:"not null;default:0"`
	Metadata             datatypes.JSONMap `gorm:""`
	AppliedAt            time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }
