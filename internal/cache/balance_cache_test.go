package cache

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tokenledger/internal/config"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const redisAddrEnv = "TOKENLEDGER_TEST_REDIS_ADDR"

func newTestCache(t *testing.T) (*balanceCache, string) {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv(redisAddrEnv))
	if addr == "" {
		t.Skipf("%s not set", redisAddrEnv)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	accountID := fmt.Sprintf("acct_test_%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = client.Del(context.Background(), balanceKey(accountID)).Err() })
	return newBalanceCache(client, time.Minute), accountID
}

func TestBalanceCacheKeepsNewestVersion(t *testing.T) {
	c, accountID := newTestCache(t)
	ctx := context.Background()

	committed := ledgerdomain.BalanceView{AccountID: accountID, ExpiringTokens: 25000, Version: 200}
	stored, err := c.set(ctx, committed)
	require.NoError(t, err)
	assert.True(t, stored)

	// A reader that loaded the row before the commit tries to put its copy back.
	stale := ledgerdomain.BalanceView{AccountID: accountID, ExpiringTokens: 300, Version: 100}
	stored, err = c.set(ctx, stale)
	require.NoError(t, err)
	assert.False(t, stored)

	got, err := c.Get(ctx, accountID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(25000), got.ExpiringTokens)
	assert.Equal(t, int64(200), got.Version)

	stored, err = c.set(ctx, committed)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestBalanceCacheInvalidate(t *testing.T) {
	c, accountID := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, ledgerdomain.BalanceView{AccountID: accountID, ExpiringTokens: 10, Version: 1}))
	require.NoError(t, c.Invalidate(ctx, accountID))

	got, err := c.Get(ctx, accountID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewBalanceCacheDisabledWithoutClient(t *testing.T) {
	assert.Nil(t, NewBalanceCache(nil, config.Config{}))
	assert.Equal(t, defaultBalanceTTL, newBalanceCache(nil, 0).ttl)
}
