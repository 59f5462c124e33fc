package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tokenledger/internal/config"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
)

const (
	keyBalance        = "tokenledger:balance_view:%s"
	defaultBalanceTTL = 30 * time.Second
)

// The stored view is replaced only when the incoming version is not older than the cached one.
const setBalanceScript = `
local incoming = tonumber(ARGV[1])
local current = tonumber(redis.call("HGET", KEYS[1], "version"))

if current ~= nil and current > incoming then
  return 0
end

redis.call("HSET", KEYS[1], "version", ARGV[1], "view", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`

type balanceCache struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

// NewBalanceCache returns a Redis-backed balance cache, or nil when Redis is disabled.
func NewBalanceCache(client *redis.Client, cfg config.Config) ledgerdomain.BalanceCache {
	if client == nil {
		return nil
	}
	return newBalanceCache(client, cfg.Redis.BalanceTTL)
}

func newBalanceCache(client *redis.Client, ttl time.Duration) *balanceCache {
	if ttl <= 0 {
		ttl = defaultBalanceTTL
	}
	return &balanceCache{client: client, script: redis.NewScript(setBalanceScript), ttl: ttl}
}

func (c *balanceCache) Get(ctx context.Context, accountID string) (*ledgerdomain.BalanceView, error) {
	raw, err := c.client.HGet(ctx, balanceKey(accountID), "view").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var view ledgerdomain.BalanceView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("decode cached balance: %w", err)
	}
	return &view, nil
}

// Set stores view unless a newer version is already cached. A rejected write is not an error.
func (c *balanceCache) Set(ctx context.Context, view ledgerdomain.BalanceView) error {
	_, err := c.set(ctx, view)
	return err
}

func (c *balanceCache) set(ctx context.Context, view ledgerdomain.BalanceView) (bool, error) {
	raw, err := json.Marshal(view)
	if err != nil {
		return false, err
	}
	stored, err := c.script.Run(ctx, c.client,
		[]string{balanceKey(view.AccountID)},
		view.Version, string(raw), c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (c *balanceCache) Invalidate(ctx context.Context, accountID string) error {
	return c.client.Del(ctx, balanceKey(accountID)).Err()
}

func balanceKey(accountID string) string {
	return fmt.Sprintf(keyBalance, strings.TrimSpace(accountID))
}
