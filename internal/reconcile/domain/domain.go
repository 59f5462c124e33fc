// Package domain holds the contracts between the reconciliation engine and its stores.
package domain

import (
	"context"
	"errors"

	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/tokenledger/internal/subscription/domain"
)

var (
	// ErrPersistence marks a failure the provider should retry by redelivering the event.
	ErrPersistence = errors.New("persistence_failure")
	// ErrUnrecognizedEvent is returned when an Unrecognized event reaches the engine.
	ErrUnrecognizedEvent = errors.New("unrecognized_event")
)

// SubscriptionStore reads and writes subscriptions inside the caller's transaction.
// Reads take a row lock held until the transaction ends.
type SubscriptionStore interface {
	GetForUpdate(ctx context.Context, accountID string) (*subscriptiondomain.Subscription, error)
	GetBySubscriptionIDForUpdate(ctx context.Context, subscriptionID string) (*subscriptiondomain.Subscription, error)
	Put(ctx context.Context, subscription *subscriptiondomain.Subscription) error
}

// BalanceStore reads and writes token balances inside the caller's transaction.
type BalanceStore interface {
	GetForUpdate(ctx context.Context, accountID string) (*ledgerdomain.TokenBalance, error)
	Put(ctx context.Context, balance *ledgerdomain.TokenBalance) error
}

type Stores struct {
	Subscriptions SubscriptionStore
	Balances      BalanceStore
}

// Outcome is what the engine did for one event; it becomes the event's ledger entry.
type Outcome struct {
	AccountID            string
	SubscriptionID       string
	Kind                 ledgerdomain.EntryKind
	Delta                int64
	ResultingExpiring    int64
	ResultingNonexpiring int64
	Details              map[string]any
}

// Result reports how an event was handled end to end.
type Result struct {
	EventID      string
	EventType    string
	Duplicate    bool
	Unrecognized bool
	Outcome      Outcome
}
