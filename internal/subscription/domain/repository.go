package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByAccountID(ctx context.Context, db *gorm.DB, accountID string, forUpdate bool) (*Subscription, error)
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string, forUpdate bool) (*Subscription, error)
	Upsert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
}
