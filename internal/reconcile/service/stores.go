package service

import (
	"context"
	"time"

	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	"github.com/smallbiznis/tokenledger/internal/observability/metrics"
	reconciledomain "github.com/smallbiznis/tokenledger/internal/reconcile/domain"
	subscriptiondomain "github.com/smallbiznis/tokenledger/internal/subscription/domain"
	"gorm.io/gorm"
)

// txStores binds the repositories to one transaction so every read takes a row lock held
// until commit.
func (s *Service) txStores(tx *gorm.DB) reconciledomain.Stores {
	return reconciledomain.Stores{
		Subscriptions: &subscriptionStore{tx: tx, repo: s.subRepo, metrics: s.reconcileMetrics},
		Balances:      &balanceStore{tx: tx, repo: s.ledgerRepo, metrics: s.reconcileMetrics},
	}
}

type subscriptionStore struct {
	tx      *gorm.DB
	repo    subscriptiondomain.Repository
	metrics *metrics.ReconcileMetrics
}

func (s *subscriptionStore) GetForUpdate(ctx context.Context, accountID string) (*subscriptiondomain.Subscription, error) {
	defer s.metrics.ObserveLockWait("subscriptions", time.Now())
	return s.repo.FindByAccountID(ctx, s.tx, accountID, true)
}

func (s *subscriptionStore) GetBySubscriptionIDForUpdate(ctx context.Context, subscriptionID string) (*subscriptiondomain.Subscription, error) {
	defer s.metrics.ObserveLockWait("subscriptions", time.Now())
	return s.repo.FindBySubscriptionID(ctx, s.tx, subscriptionID, true)
}

func (s *subscriptionStore) Put(ctx context.Context, sub *subscriptiondomain.Subscription) error {
	return s.repo.Upsert(ctx, s.tx, sub)
}

type balanceStore struct {
	tx      *gorm.DB
	repo    ledgerdomain.Repository
	metrics *metrics.ReconcileMetrics
}

func (s *balanceStore) GetForUpdate(ctx context.Context, accountID string) (*ledgerdomain.TokenBalance, error) {
	defer s.metrics.ObserveLockWait("token_balances", time.Now())
	return s.repo.FindBalance(ctx, s.tx, accountID, true)
}

func (s *balanceStore) Put(ctx context.Context, balance *ledgerdomain.TokenBalance) error {
	return s.repo.UpsertBalance(ctx, s.tx, balance)
}
