package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/tokenledger/internal/dbtest"
	subscriptiondomain "github.com/smallbiznis/tokenledger/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndFind(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide()
	ctx := context.Background()
	periodEnd := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	sub := &subscriptiondomain.Subscription{
		AccountID:        "acct_1",
		SubscriptionID:   "sub_1",
		CustomerID:       "cus_1",
		TierID:           "basic",
		Status:           subscriptiondomain.SubscriptionStatusActive,
		CurrentPeriodEnd: &periodEnd,
	}
	require.NoError(t, repo.Upsert(ctx, db, sub))

	byAccount, err := repo.FindByAccountID(ctx, db, "acct_1", true)
	require.NoError(t, err)
	require.NotNil(t, byAccount)
	assert.Equal(t, "sub_1", byAccount.SubscriptionID)
	require.NotNil(t, byAccount.CurrentPeriodEnd)
	assert.True(t, periodEnd.Equal(*byAccount.CurrentPeriodEnd))

	bySubscription, err := repo.FindBySubscriptionID(ctx, db, "sub_1", false)
	require.NoError(t, err)
	require.NotNil(t, bySubscription)
	assert.Equal(t, "acct_1", bySubscription.AccountID)
}

func TestUpsertReplacesAccountRow(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, db, &subscriptiondomain.Subscription{
		AccountID: "acct_1", SubscriptionID: "sub_old", CustomerID: "cus_1", TierID: "basic",
		Status: subscriptiondomain.SubscriptionStatusCanceled,
	}))
	require.NoError(t, repo.Upsert(ctx, db, &subscriptiondomain.Subscription{
		AccountID: "acct_1", SubscriptionID: "sub_new", CustomerID: "cus_1", TierID: "pro",
		Status: subscriptiondomain.SubscriptionStatusActive,
	}))

	old, err := repo.FindBySubscriptionID(ctx, db, "sub_old", false)
	require.NoError(t, err)
	assert.Nil(t, old)

	current, err := repo.FindByAccountID(ctx, db, "acct_1", false)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "sub_new", current.SubscriptionID)
	assert.Equal(t, "pro", current.TierID)
	assert.True(t, current.Live())
}

func TestFindMissingReturnsNil(t *testing.T) {
	db := dbtest.Open(t)

	sub, err := Provide().FindByAccountID(context.Background(), db, "acct_missing", false)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestParseStatus(t *testing.T) {
	cases := map[string]subscriptiondomain.SubscriptionStatus{
		"active":             subscriptiondomain.SubscriptionStatusActive,
		"trialing":           subscriptiondomain.SubscriptionStatusActive,
		"past_due":           subscriptiondomain.SubscriptionStatusPastDue,
		"unpaid":             subscriptiondomain.SubscriptionStatusPastDue,
		"canceled":           subscriptiondomain.SubscriptionStatusCanceled,
		"incomplete_expired": subscriptiondomain.SubscriptionStatusCanceled,
		"incomplete":         subscriptiondomain.SubscriptionStatusIncomplete,
	}
	for raw, want := range cases {
		assert.Equal(t, want, subscriptiondomain.ParseStatus(raw), raw)
	}
}
