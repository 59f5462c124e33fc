package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/tokenledger/pkg/db/pagination"
)

type Service interface {
	GetBalance(ctx context.Context, accountID string) (BalanceView, error)
	ListEntries(ctx context.Context, accountID string, page pagination.Pagination) (EntryPage, error)
}

// BalanceCache stores balance views between webhook writes. Set must not replace a cached view
// whose Version is higher than the one being written.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (*BalanceView, error)
	Set(ctx context.Context, view BalanceView) error
	Invalidate(ctx context.Context, accountID string) error
}

type BalanceView struct {
	AccountID            string     `json:"accountId"`
	ExpiringTokens       int64      `json:"expiringTokens"`
	NonexpiringTokens    int64      `json:"nonexpiringTokens"`
	ExpiringTokensExpiry *time.Time `json:"expiringTokensExpiry"`
	// Version is the row's update time in microseconds, zero when the account has no balance row.
	Version int64 `json:"version"`
}

// NewBalanceView builds the view of balance, which may be nil for an account never allocated.
func NewBalanceView(accountID string, balance *TokenBalance) BalanceView {
	view := BalanceView{AccountID: accountID}
	if balance == nil {
		return view
	}
	view.ExpiringTokens = balance.ExpiringTokens
	view.NonexpiringTokens = balance.NonexpiringTokens
	view.ExpiringTokensExpiry = balance.ExpiringTokensExpiry
	if !balance.UpdatedAt.IsZero() {
		view.Version = balance.UpdatedAt.UnixMicro()
	}
	return view
}

// Effective hides expiring tokens once their expiry has passed.
func (v BalanceView) Effective(now time.Time) BalanceView {
	if v.ExpiringTokensExpiry != nil && !now.Before(*v.ExpiringTokensExpiry) {
		v.ExpiringTokens = 0
	}
	return v
}

type EntryView struct {
	EventID              string    `json:"eventId"`
	EventType            string    `json:"eventType"`
	Kind                 EntryKind `json:"kind"`
	Delta                int64     `json:"delta"`
	ResultingExpiring    int64     `json:"resultingExpiring"`
	ResultingNonexpiring int64     `json:"resultingNonexpiring"`
	AppliedAt            time.Time `json:"appliedAt"`
}

type EntryPage struct {
	Entries  []EntryView         `json:"entries"`
	PageInfo pagination.PageInfo `json:"page_info"`
}
