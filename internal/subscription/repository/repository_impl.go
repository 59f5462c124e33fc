package repository

import (
	"context"
	"time"

	subscriptiondomain "github.com/smallbiznis/tokenledger/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const selectColumns = `SELECT account_id, subscription_id, customer_id, tier_id, status,
	 cancel_at_period_end, current_period_end, created_at, updated_at
	 FROM subscriptions`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindByAccountID(ctx context.Context, db *gorm.DB, accountID string, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE account_id = ?`, accountID, forUpdate)
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE subscription_id = ?`, subscriptionID, forUpdate)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg string, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(query, arg).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.AccountID == "" {
		return nil, nil
	}
	return &subscription, nil
}

// Upsert writes the full row keyed by account id.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	now := time.Now().UTC()
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}
	subscription.UpdatedAt = now

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"subscription_id",
				"customer_id",
				"tier_id",
				"status",
				"cancel_at_period_end",
				"current_period_end",
				"updated_at",
			}),
		}).
		Create(subscription).Error
}
