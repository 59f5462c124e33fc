package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tokenledger/internal/config"
)

const keyPortalSession = "tokenledger:ratelimit:portal:%s"

// PortalLimiter bounds how often one account may open billing portal sessions. Every session is
// an outbound call to the billing provider.
type PortalLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewPortalLimiter returns nil when Redis is disabled or the limit is not positive.
func NewPortalLimiter(client *redis.Client, cfg config.Config) *PortalLimiter {
	if client == nil || cfg.RateLimit.PortalRate <= 0 || cfg.RateLimit.PortalBurst <= 0 {
		return nil
	}
	return &PortalLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.PortalRate,
		burst:  cfg.RateLimit.PortalBurst,
	}
}

func (l *PortalLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow consumes one token for accountID. A disabled limiter always allows.
func (l *PortalLimiter) Allow(ctx context.Context, accountID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPortalSession, strings.TrimSpace(accountID)), l.rate, l.burst)
}
