package repository

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/tokenledger/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestFindBalanceForUpdateBlocksSecondWriterOnPostgres(t *testing.T) {
	db := dbtest.OpenPostgres(t)
	repo := Provide()
	ctx := context.Background()

	require.NoError(t, repo.UpsertBalance(ctx, db, &ledgerdomain.TokenBalance{AccountID: "acct_1", ExpiringTokens: 100}))

	first := db.Begin()
	require.NoError(t, first.Error)
	locked, err := repo.FindBalance(ctx, first, "acct_1", true)
	require.NoError(t, err)
	require.NotNil(t, locked)

	type read struct {
		expiring  int64
		err       error
		afterDone bool
	}
	var firstDone atomic.Bool
	second := make(chan read, 1)
	go func() {
		var got int64
		err := db.Transaction(func(tx *gorm.DB) error {
			bal, err := repo.FindBalance(ctx, tx, "acct_1", true)
			if err != nil {
				return err
			}
			got = bal.ExpiringTokens
			return nil
		})
		second <- read{expiring: got, err: err, afterDone: firstDone.Load()}
	}()

	select {
	case res := <-second:
		first.Rollback()
		t.Fatalf("locked balance was read by a second transaction: %+v", res)
	case <-time.After(300 * time.Millisecond):
	}

	locked.ExpiringTokens = 500
	require.NoError(t, repo.UpsertBalance(ctx, first, locked))
	firstDone.Store(true)
	require.NoError(t, first.Commit().Error)

	res := <-second
	require.NoError(t, res.err)
	assert.True(t, res.afterDone)
	assert.Equal(t, int64(500), res.expiring)
}
