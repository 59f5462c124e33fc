package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/tokenledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildResultDenied(t *testing.T) {
	res := buildResult([]interface{}{int64(0), int64(0), int64(1_700_000_000_000)}, 0.5, 5)

	assert.False(t, res.Allowed)
	assert.Equal(t, 5, res.Limit)
	assert.Equal(t, 2*time.Second, res.RetryAfter)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000).Add(2*time.Second), res.ResetTime)
}

func TestBuildResultAllowed(t *testing.T) {
	res := buildResult([]interface{}{int64(1), "3", int64(0)}, 1, 5)

	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Remaining)
	assert.Zero(t, res.RetryAfter)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 50*time.Second, defaultBucketTTL(0.2, 5))
	assert.Equal(t, time.Second, defaultBucketTTL(1000, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 0))
}

func TestPortalLimiterDisabledWithoutRedis(t *testing.T) {
	limiter := NewPortalLimiter(nil, config.Config{RateLimit: config.RateLimitConfig{PortalRate: 1, PortalBurst: 1}})
	require.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucketRejectsMissingClient(t *testing.T) {
	var bucket *TokenBucket
	res, err := bucket.Allow(context.Background(), "k", 1, 1)
	require.Error(t, err)
	assert.False(t, res.Allowed)
}
